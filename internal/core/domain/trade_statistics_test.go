package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

func TestTradeStatisticsV1HashExcludesTradeDate(t *testing.T) {
	first := newLegacyStats(time.Now().Unix())
	second := newLegacyStats(time.Now().Unix() + 42)

	require.Equal(t, first.Hash(), second.Hash())

	second.TradePrice++
	require.NotEqual(t, first.Hash(), second.Hash())
}

func TestTradeStatisticsV2HashIncludesTradeDate(t *testing.T) {
	date := time.Now().Unix()
	first := newCurrentStats(date)
	second := newCurrentStats(date + 42)

	require.NotEqual(t, first.Hash(), second.Hash())
}

func TestTradeStatisticsV2HashExcludesResolvers(t *testing.T) {
	date := time.Now().Unix()
	first := newCurrentStats(date)
	second := newCurrentStats(date)
	second.Mediator = "zzzz"
	second.Arbitrator = "yyyy"

	require.Equal(t, first.Hash(), second.Hash())

	second.PruneResolverData()
	require.Empty(t, second.Mediator)
	require.Empty(t, second.Arbitrator)
	require.Equal(t, first.Hash(), second.Hash())
}

func TestTradeStatisticsV2PresetHashWins(t *testing.T) {
	stats := newCurrentStats(time.Now().Unix())
	stats.PresetHash = []byte("legacy-hash")

	require.Equal(t, []byte("legacy-hash"), stats.Hash())
}

func TestTradeStatisticsValidation(t *testing.T) {
	legacy := newLegacyStats(time.Now().Unix())
	require.True(t, legacy.IsValid())
	legacy.CurrencyCode = ""
	require.False(t, legacy.IsValid())

	current := newCurrentStats(time.Now().Unix())
	require.True(t, current.IsValid())
	current.TradeDate = 0
	require.False(t, current.IsValid())
}

func newLegacyStats(date int64) *domain.TradeStatisticsV1 {
	return &domain.TradeStatisticsV1{
		CurrencyCode:  "EUR",
		TradePrice:    6000000,
		TradeAmount:   2500000,
		PaymentMethod: "SEPA",
		TradeDate:     date,
		ExtraData:     map[string]string{domain.MediatorAddressKey: "abcd"},
	}
}

func newCurrentStats(date int64) *domain.TradeStatisticsV2 {
	return &domain.TradeStatisticsV2{
		CurrencyCode:  "EUR",
		TradePrice:    6000000,
		TradeAmount:   2500000,
		PaymentMethod: "SEPA",
		TradeDate:     date,
		Mediator:      "abcd",
		Arbitrator:    "efgh",
	}
}
