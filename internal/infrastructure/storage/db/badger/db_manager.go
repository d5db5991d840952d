package dbbadger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// DbManager holds all the badgerhold stores in a single data structure. One
// dedicated directory per concern: trades, current statistics and, for as
// long as it still exists on disk, the previous-generation statistics.
type DbManager struct {
	TradeStore *badgerhold.Store
	StatsStore *badgerhold.Store

	legacyDir   string
	legacyStore *badgerhold.Store

	tradeRepo       domain.TradeRepository
	statsRepo       domain.TradeStatisticsRepository
	legacyStatsRepo domain.LegacyTradeStatisticsRepository
}

// NewDbManager opens (or creates if not exists) the badger stores on disk.
// The legacy statistics store is only opened when its directory is found,
// its presence is what triggers the one-off migration.
func NewDbManager(baseDbDir string, logger badger.Logger) (*DbManager, error) {
	tradeDb, err := createDb(filepath.Join(baseDbDir, "trade"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening trade db: %w", err)
	}

	statsDb, err := createDb(filepath.Join(baseDbDir, "stats"), logger)
	if err != nil {
		return nil, fmt.Errorf("opening stats db: %w", err)
	}

	manager := &DbManager{
		TradeStore: tradeDb,
		StatsStore: statsDb,
		legacyDir:  filepath.Join(baseDbDir, "statsv1"),
	}

	if _, err := os.Stat(manager.legacyDir); err == nil {
		legacyDb, err := createDb(manager.legacyDir, logger)
		if err != nil {
			return nil, fmt.Errorf("opening legacy stats db: %w", err)
		}
		manager.legacyStore = legacyDb
	}

	manager.tradeRepo = NewTradeRepositoryImpl(manager)
	manager.statsRepo = NewTradeStatisticsRepositoryImpl(manager)
	manager.legacyStatsRepo = NewLegacyTradeStatisticsRepositoryImpl(manager)
	return manager, nil
}

// TradeRepository implements the DbManager interface.
func (d *DbManager) TradeRepository() domain.TradeRepository {
	return d.tradeRepo
}

// TradeStatisticsRepository implements the DbManager interface.
func (d *DbManager) TradeStatisticsRepository() domain.TradeStatisticsRepository {
	return d.statsRepo
}

// LegacyTradeStatisticsRepository implements the DbManager interface.
func (d *DbManager) LegacyTradeStatisticsRepository() domain.LegacyTradeStatisticsRepository {
	return d.legacyStatsRepo
}

// Close implements the DbManager interface.
func (d *DbManager) Close() error {
	if err := d.TradeStore.Close(); err != nil {
		return err
	}
	if err := d.StatsStore.Close(); err != nil {
		return err
	}
	if d.legacyStore != nil {
		return d.legacyStore.Close()
	}
	return nil
}

// JSONEncode is a custom JSON based encoder for badger
func JSONEncode(value interface{}) ([]byte, error) {
	var buff bytes.Buffer

	en := json.NewEncoder(&buff)

	err := en.Encode(value)
	if err != nil {
		return nil, err
	}

	return buff.Bytes(), nil
}

// JSONDecode is a custom JSON based decoder for badger
func JSONDecode(data []byte, value interface{}) error {
	var buff bytes.Buffer
	de := json.NewDecoder(&buff)

	_, err := buff.Write(data)
	if err != nil {
		return err
	}

	return de.Decode(value)
}

func createDb(dbDir string, logger badger.Logger) (db *badgerhold.Store, err error) {
	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	db, err = badgerhold.Open(badgerhold.Options{
		Encoder:          JSONEncode,
		Decoder:          JSONDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})

	return
}
