package dbbadger

import (
	"context"
	"encoding/hex"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

type tradeStatisticsRepositoryImpl struct {
	db *DbManager
}

// NewTradeStatisticsRepositoryImpl returns a badger backed repository for
// the current statistics schema. Entries are keyed by their content hash so
// re-inserting the same logical record is a no-op.
func NewTradeStatisticsRepositoryImpl(db *DbManager) domain.TradeStatisticsRepository {
	return tradeStatisticsRepositoryImpl{
		db: db,
	}
}

func (r tradeStatisticsRepositoryImpl) AddTradeStatistics(
	ctx context.Context, stats []*domain.TradeStatisticsV2,
) error {
	for _, entry := range stats {
		key := hex.EncodeToString(entry.Hash())
		if err := r.db.StatsStore.Insert(key, entry); err != nil {
			if err == badgerhold.ErrKeyExists {
				continue
			}
			return err
		}
	}
	return nil
}

func (r tradeStatisticsRepositoryImpl) GetAllTradeStatistics(
	ctx context.Context,
) ([]*domain.TradeStatisticsV2, error) {
	var stats []domain.TradeStatisticsV2
	if err := r.db.StatsStore.Find(&stats, nil); err != nil {
		return nil, err
	}

	result := make([]*domain.TradeStatisticsV2, 0, len(stats))
	for i := range stats {
		result = append(result, &stats[i])
	}
	return result, nil
}

type legacyTradeStatisticsRepositoryImpl struct {
	db *DbManager
}

// NewLegacyTradeStatisticsRepositoryImpl returns the accessor of the
// previous-generation statistics store. Its on-disk presence is what drives
// the one-off migration; Delete removes the whole store directory.
func NewLegacyTradeStatisticsRepositoryImpl(db *DbManager) domain.LegacyTradeStatisticsRepository {
	return legacyTradeStatisticsRepositoryImpl{
		db: db,
	}
}

func (r legacyTradeStatisticsRepositoryImpl) Exists(ctx context.Context) bool {
	return r.db.legacyStore != nil
}

func (r legacyTradeStatisticsRepositoryImpl) GetAllTradeStatistics(
	ctx context.Context,
) ([]*domain.TradeStatisticsV1, error) {
	if r.db.legacyStore == nil {
		return nil, ErrLegacyStoreGone
	}

	var stats []domain.TradeStatisticsV1
	if err := r.db.legacyStore.Find(&stats, nil); err != nil {
		return nil, err
	}

	result := make([]*domain.TradeStatisticsV1, 0, len(stats))
	for i := range stats {
		result = append(result, &stats[i])
	}
	return result, nil
}

func (r legacyTradeStatisticsRepositoryImpl) Delete(ctx context.Context) error {
	if r.db.legacyStore == nil {
		return nil
	}

	if err := r.db.legacyStore.Close(); err != nil {
		return err
	}
	r.db.legacyStore = nil
	return os.RemoveAll(r.db.legacyDir)
}
