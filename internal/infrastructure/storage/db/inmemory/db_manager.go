package inmemory

import (
	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
	"github.com/peertrade-network/peertrade-daemon/internal/core/ports"
)

// DbManager is the in-memory counterpart of the badger one, used by tests.
type DbManager struct {
	tradeRepository       domain.TradeRepository
	statsRepository       domain.TradeStatisticsRepository
	legacyStatsRepository domain.LegacyTradeStatisticsRepository
}

// NewDbManager returns an empty in-memory store set. The legacy statistics
// store starts out absent; seed it with NewDbManagerWithLegacyStats to
// exercise the migration path.
func NewDbManager() ports.DbManager {
	return &DbManager{
		tradeRepository:       NewTradeRepositoryImpl(),
		statsRepository:       NewTradeStatisticsRepositoryImpl(),
		legacyStatsRepository: NewLegacyTradeStatisticsRepositoryImpl(nil),
	}
}

// NewDbManagerWithLegacyStats returns an in-memory store set whose legacy
// statistics store exists and holds the given entries.
func NewDbManagerWithLegacyStats(legacy []*domain.TradeStatisticsV1) ports.DbManager {
	return &DbManager{
		tradeRepository:       NewTradeRepositoryImpl(),
		statsRepository:       NewTradeStatisticsRepositoryImpl(),
		legacyStatsRepository: NewLegacyTradeStatisticsRepositoryImpl(legacy),
	}
}

func (d *DbManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepository
}

func (d *DbManager) TradeStatisticsRepository() domain.TradeStatisticsRepository {
	return d.statsRepository
}

func (d *DbManager) LegacyTradeStatisticsRepository() domain.LegacyTradeStatisticsRepository {
	return d.legacyStatsRepository
}

func (d *DbManager) Close() error { return nil }
