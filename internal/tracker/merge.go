package tracker

import (
	"sort"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
)

// DefaultWindow is the rolling maximum window
const DefaultWindow = 24 * time.Hour

// MergeOne folds a fresh candidate into its prior record.
//
// While the prior window is open (now - prior.MaxSpreadTimestamp < window) the
// maximum only grows and the window start is kept. Otherwise the candidate
// opens a new window at now.
func MergeOne(c domain.ArbitrageOpportunity, prior *domain.ArbitrageOpportunity, now time.Time, window time.Duration) domain.ArbitrageOpportunity {
	if window <= 0 {
		window = DefaultWindow
	}
	if prior != nil && !prior.MaxSpreadTimestamp.IsZero() && now.Sub(prior.MaxSpreadTimestamp) < window {
		c.MaxSpread24h = max(c.SpreadPercent, prior.MaxSpread24h)
		c.MaxSpreadTimestamp = prior.MaxSpreadTimestamp
		return c
	}
	c.MaxSpread24h = c.SpreadPercent
	c.MaxSpreadTimestamp = now
	return c
}

// Merge applies MergeOne to every candidate using prior records matched by Key.
// Prior records without a fresh candidate are not carried over.
func Merge(candidates, prior []domain.ArbitrageOpportunity, now time.Time, window time.Duration) []domain.ArbitrageOpportunity {
	byKey := make(map[string]*domain.ArbitrageOpportunity, len(prior))
	for i := range prior {
		byKey[prior[i].Key()] = &prior[i]
	}

	out := make([]domain.ArbitrageOpportunity, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, MergeOne(c, byKey[c.Key()], now, window))
	}
	return out
}

// SortBySpread orders by spread descending, ties broken by key
func SortBySpread(ops []domain.ArbitrageOpportunity) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].SpreadPercent != ops[j].SpreadPercent {
			return ops[i].SpreadPercent > ops[j].SpreadPercent
		}
		return ops[i].Key() < ops[j].Key()
	})
}

// TopN returns at most n opportunities from a sorted batch; n <= 0 returns all
func TopN(ops []domain.ArbitrageOpportunity, n int) []domain.ArbitrageOpportunity {
	if n <= 0 || n >= len(ops) {
		return ops
	}
	return ops[:n]
}
