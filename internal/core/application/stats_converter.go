package application

import (
	"context"
	"encoding/hex"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// TradeStatisticsConverter migrates the previous-generation statistics
// schema to the current one. Persisted legacy data is converted in bulk on
// first readiness; legacy payloads still arriving over the network from
// not-yet-upgraded peers are converted on the fly and re-injected into the
// current store, so the network converges on one schema during the
// migration window.
type TradeStatisticsConverter struct {
	legacyRepo      domain.LegacyTradeStatisticsRepository
	statsRepo       domain.TradeStatisticsRepository
	appendOnlyStore *AppendOnlyDataStoreService
}

// NewTradeStatisticsConverter returns a converter and registers it on the
// append-only store for live conversion of legacy payloads.
func NewTradeStatisticsConverter(
	legacyRepo domain.LegacyTradeStatisticsRepository,
	statsRepo domain.TradeStatisticsRepository,
	appendOnlyStore *AppendOnlyDataStoreService,
) *TradeStatisticsConverter {
	c := &TradeStatisticsConverter{
		legacyRepo:      legacyRepo,
		statsRepo:       statsRepo,
		appendOnlyStore: appendOnlyStore,
	}

	appendOnlyStore.AddListener(func(payload domain.AppendOnlyPayload) {
		legacy, ok := payload.(*domain.TradeStatisticsV1)
		if !ok {
			return
		}
		c.convertFromNetwork(legacy)
	})

	return c
}

// ConvertPersistedData runs the one-time bulk migration if the legacy store
// still exists, then deletes it.
func (c *TradeStatisticsConverter) ConvertPersistedData(ctx context.Context) error {
	if !c.legacyRepo.Exists(ctx) {
		return nil
	}

	legacy, err := c.legacyRepo.GetAllTradeStatistics(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	converted := convertLegacyStatistics(legacy)
	log.Infof(
		"converted %d legacy trade statistics entries to the current format in %s",
		len(converted), time.Since(start),
	)

	if err := c.statsRepo.AddTradeStatistics(ctx, converted); err != nil {
		return err
	}
	for _, entry := range converted {
		if _, err := c.appendOnlyStore.Put(entry); err != nil {
			log.WithError(err).Warn("skipping invalid converted statistics entry")
		}
	}

	log.Info("deleting the legacy trade statistics store, it has been converted to the current format")
	return c.legacyRepo.Delete(ctx)
}

// convertFromNetwork converts a single legacy payload received from a
// not-yet-upgraded peer. The legacy hash, which excludes the trade date, is
// kept so that the records published by both counterparties collapse to one.
func (c *TradeStatisticsConverter) convertFromNetwork(legacy *domain.TradeStatisticsV1) {
	if !legacy.IsValid() {
		log.Debug("dropping invalid legacy statistics payload from network")
		return
	}

	entry := convertLegacyEntry(legacy, true)
	if _, err := c.appendOnlyStore.Put(entry); err != nil {
		log.WithError(err).Warn("could not re-inject converted statistics entry")
		return
	}
	if err := c.statsRepo.AddTradeStatistics(
		context.Background(), []*domain.TradeStatisticsV2{entry},
	); err != nil {
		log.WithError(err).Warn("could not persist converted statistics entry")
	}
}

// convertLegacyStatistics deduplicates, converts and prunes a full legacy
// history. Entries identical except for the trade date collapse to one
// record because the legacy hash excludes the date. Across the converted
// history only the most recent LookBackRange entries retain resolver
// identity data.
func convertLegacyStatistics(legacy []*domain.TradeStatisticsV1) []*domain.TradeStatisticsV2 {
	deduped := make(map[string]*domain.TradeStatisticsV1, len(legacy))
	for _, entry := range legacy {
		if !entry.IsValid() {
			continue
		}
		hash := hex.EncodeToString(entry.Hash())
		if _, ok := deduped[hash]; !ok {
			deduped[hash] = entry
		}
	}

	converted := make([]*domain.TradeStatisticsV2, 0, len(deduped))
	for _, entry := range deduped {
		converted = append(converted, convertLegacyEntry(entry, false))
	}

	sort.SliceStable(converted, func(i, j int) bool {
		return converted[i].TradeDate < converted[j].TradeDate
	})
	for i := 0; i < len(converted)-LookBackRange; i++ {
		converted[i].PruneResolverData()
	}

	return converted
}

func convertLegacyEntry(legacy *domain.TradeStatisticsV1, fromNetwork bool) *domain.TradeStatisticsV2 {
	var mediator, arbitrator string
	if legacy.ExtraData != nil {
		mediator = legacy.ExtraData[domain.MediatorAddressKey]
		arbitrator = legacy.ExtraData[domain.ArbitratorAddressKey]
		if arbitrator == "" {
			arbitrator = legacy.ExtraData[domain.RefundAgentAddressKey]
		}
	}

	entry := &domain.TradeStatisticsV2{
		CurrencyCode:  legacy.CurrencyCode,
		TradePrice:    legacy.TradePrice,
		TradeAmount:   legacy.TradeAmount,
		PaymentMethod: legacy.PaymentMethod,
		TradeDate:     legacy.TradeDate,
		Mediator:      mediator,
		Arbitrator:    arbitrator,
	}
	if fromNetwork {
		entry.PresetHash = legacy.Hash()
	}
	return entry
}
