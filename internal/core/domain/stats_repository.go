package domain

import "context"

// TradeStatisticsRepository defines the persistence layer of the current
// statistics schema. Entries are keyed by content hash and inserting an
// already stored hash is a no-op.
type TradeStatisticsRepository interface {
	AddTradeStatistics(ctx context.Context, stats []*TradeStatisticsV2) error
	GetAllTradeStatistics(ctx context.Context) ([]*TradeStatisticsV2, error)
}

// LegacyTradeStatisticsRepository gives access to the previous-generation
// statistics store for as long as it still exists on disk.
type LegacyTradeStatisticsRepository interface {
	Exists(ctx context.Context) bool
	GetAllTradeStatistics(ctx context.Context) ([]*TradeStatisticsV1, error)
	Delete(ctx context.Context) error
}
