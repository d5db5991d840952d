package application_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peertrade-network/peertrade-daemon/internal/core/application"
	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

func TestGetLeastUsedMediator(t *testing.T) {
	tests := []struct {
		name      string
		stats     []*domain.TradeStatisticsV2
		mediators []string
		expected  string
	}{
		{
			name: "least_used_wins",
			stats: []*domain.TradeStatisticsV2{
				statsWithMediator("AAAA", 1),
				statsWithMediator("AAAA", 2),
				statsWithMediator("BBBB", 3),
			},
			mediators: []string{"AAAA1111", "BBBB2222", "CCCC3333"},
			expected:  "CCCC3333",
		},
		{
			name:      "no_history_picks_lexically_smallest",
			stats:     nil,
			mediators: []string{"BBBB2222", "AAAA1111"},
			expected:  "AAAA1111",
		},
		{
			name: "tie_broken_by_ascending_address",
			stats: []*domain.TradeStatisticsV2{
				statsWithMediator("AAAA", 1),
				statsWithMediator("BBBB", 2),
			},
			mediators: []string{"BBBB2222", "AAAA1111"},
			expected:  "AAAA1111",
		},
		{
			name: "prefix_matching_against_full_address",
			stats: []*domain.TradeStatisticsV2{
				statsWithMediator("AAAA", 1),
				statsWithMediator("AAAA", 2),
			},
			mediators: []string{"AAAA1111", "AAAB1111"},
			expected:  "AAAB1111",
		},
	}

	for i := range tests {
		tt := tests[i]

		t.Run(tt.name, func(t *testing.T) {
			selected, err := application.GetLeastUsedMediator(tt.stats, tt.mediators)
			require.NoError(t, err)
			require.Equal(t, tt.expected, selected)
		})
	}
}

func TestGetLeastUsedMediatorEmptySet(t *testing.T) {
	selected, err := application.GetLeastUsedMediator(nil, nil)
	require.ErrorIs(t, err, application.ErrEmptyResolverSet)
	require.Empty(t, selected)
}

func TestGetLeastUsedMediatorLooksBackAtMost100Entries(t *testing.T) {
	// 100 recent trades resolved by AAAA, older history dominated by BBBB.
	// Only the recent window counts, so BBBB must win.
	stats := make([]*domain.TradeStatisticsV2, 0, 300)
	for i := 0; i < 100; i++ {
		stats = append(stats, statsWithMediator("AAAA", int64(1000+i)))
	}
	for i := 0; i < 200; i++ {
		stats = append(stats, statsWithMediator("BBBB", int64(i)))
	}

	selected, err := application.GetLeastUsedMediator(
		stats, []string{"AAAA1111", "BBBB2222"},
	)
	require.NoError(t, err)
	require.Equal(t, "BBBB2222", selected)
}

func TestGetLeastUsedArbitrator(t *testing.T) {
	stats := []*domain.TradeStatisticsV2{
		{
			CurrencyCode: "EUR", TradePrice: 1, TradeAmount: 1,
			PaymentMethod: "SEPA", TradeDate: 1, Arbitrator: "XXXX",
		},
	}

	selected, err := application.GetLeastUsedArbitrator(
		stats, []string{"XXXX1111", "YYYY2222"},
	)
	require.NoError(t, err)
	require.Equal(t, "YYYY2222", selected)
}

func statsWithMediator(prefix string, date int64) *domain.TradeStatisticsV2 {
	return &domain.TradeStatisticsV2{
		CurrencyCode:  "EUR",
		TradePrice:    6000000,
		TradeAmount:   2500000,
		PaymentMethod: fmt.Sprintf("SEPA-%d", date),
		TradeDate:     date,
		Mediator:      prefix,
	}
}
