package inmemory

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// ErrLegacyStoreGone is thrown when reading the legacy statistics store
// after it has already been migrated and deleted.
var ErrLegacyStoreGone = errors.New("legacy statistics store does not exist")

type tradeStatisticsRepositoryImpl struct {
	locker sync.Mutex
	stats  map[string]domain.TradeStatisticsV2
}

// NewTradeStatisticsRepositoryImpl returns a new inmemory
// TradeStatisticsRepository implementation keyed by content hash.
func NewTradeStatisticsRepositoryImpl() domain.TradeStatisticsRepository {
	return &tradeStatisticsRepositoryImpl{
		stats: make(map[string]domain.TradeStatisticsV2),
	}
}

func (r *tradeStatisticsRepositoryImpl) AddTradeStatistics(
	_ context.Context, stats []*domain.TradeStatisticsV2,
) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	for _, entry := range stats {
		key := hex.EncodeToString(entry.Hash())
		if _, ok := r.stats[key]; ok {
			continue
		}
		r.stats[key] = *entry
	}
	return nil
}

func (r *tradeStatisticsRepositoryImpl) GetAllTradeStatistics(
	_ context.Context,
) ([]*domain.TradeStatisticsV2, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	stats := make([]*domain.TradeStatisticsV2, 0, len(r.stats))
	for key := range r.stats {
		entry := r.stats[key]
		stats = append(stats, &entry)
	}
	return stats, nil
}

type legacyTradeStatisticsRepositoryImpl struct {
	locker sync.Mutex
	exists bool
	stats  []*domain.TradeStatisticsV1
}

// NewLegacyTradeStatisticsRepositoryImpl returns an inmemory legacy store.
// A nil entry slice means the store was never created on this node.
func NewLegacyTradeStatisticsRepositoryImpl(
	stats []*domain.TradeStatisticsV1,
) domain.LegacyTradeStatisticsRepository {
	return &legacyTradeStatisticsRepositoryImpl{
		exists: stats != nil,
		stats:  stats,
	}
}

func (r *legacyTradeStatisticsRepositoryImpl) Exists(_ context.Context) bool {
	r.locker.Lock()
	defer r.locker.Unlock()

	return r.exists
}

func (r *legacyTradeStatisticsRepositoryImpl) GetAllTradeStatistics(
	_ context.Context,
) ([]*domain.TradeStatisticsV1, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	if !r.exists {
		return nil, ErrLegacyStoreGone
	}
	stats := make([]*domain.TradeStatisticsV1, len(r.stats))
	copy(stats, r.stats)
	return stats, nil
}

func (r *legacyTradeStatisticsRepositoryImpl) Delete(_ context.Context) error {
	r.locker.Lock()
	defer r.locker.Unlock()

	r.exists = false
	r.stats = nil
	return nil
}
