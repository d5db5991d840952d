package ports

import "github.com/peertrade-network/peertrade-daemon/internal/core/domain"

// DbManager exposes the repositories backed by one storage engine.
type DbManager interface {
	TradeRepository() domain.TradeRepository
	TradeStatisticsRepository() domain.TradeStatisticsRepository
	LegacyTradeStatisticsRepository() domain.LegacyTradeStatisticsRepository

	Close() error
}
