package application

import (
	"sort"
	"strings"

	"github.com/peertrade-network/peertrade-daemon/internal/core/domain"
)

// LookBackRange is the number of most recent trade statistics entries taken
// into account when balancing load across dispute resolvers. The statistics
// converter keeps resolver identity data for exactly that many entries.
const LookBackRange = 100

// GetLeastUsedMediator selects the mediator that handled the fewest of the
// most recent trades. Every peer computes the same answer independently from
// the shared replicated statistics.
func GetLeastUsedMediator(
	stats []*domain.TradeStatisticsV2, mediators []string,
) (string, error) {
	return getLeastUsedDisputeResolver(stats, mediators,
		func(s *domain.TradeStatisticsV2) string { return s.Mediator })
}

// GetLeastUsedArbitrator selects the arbitrator that handled the fewest of
// the most recent trades.
func GetLeastUsedArbitrator(
	stats []*domain.TradeStatisticsV2, arbitrators []string,
) (string, error) {
	return getLeastUsedDisputeResolver(stats, arbitrators,
		func(s *domain.TradeStatisticsV2) string { return s.Arbitrator })
}

func getLeastUsedDisputeResolver(
	stats []*domain.TradeStatisticsV2,
	resolvers []string,
	resolverOf func(s *domain.TradeStatisticsV2) string,
) (string, error) {
	if len(resolvers) == 0 {
		return "", ErrEmptyResolverSet
	}

	// Most recent LookBackRange entries only.
	sorted := make([]*domain.TradeStatisticsV2, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TradeDate > sorted[j].TradeDate
	})
	if len(sorted) > LookBackRange {
		sorted = sorted[:LookBackRange]
	}

	// The statistics only record the first 4 chars of a resolver address.
	prefixes := make([]string, 0, len(sorted))
	for _, s := range sorted {
		if prefix := resolverOf(s); prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}

	type resolverCount struct {
		address string
		count   int
	}
	counts := make([]resolverCount, 0, len(resolvers))
	for _, resolver := range resolvers {
		count := 0
		for _, prefix := range prefixes {
			if strings.HasPrefix(resolver, prefix) {
				count++
			}
		}
		counts = append(counts, resolverCount{address: resolver, count: count})
	}

	// Sort by address first so that the lexical order survives as the
	// tiebreak of the stable sort by count.
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].address < counts[j].address
	})
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].count < counts[j].count
	})

	return counts[0].address, nil
}
