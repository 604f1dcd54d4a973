package candles

import (
	"sort"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
)

// Bucketize aggregates a batch of swaps for one pair into candles and volumes
// using a throwaway Aggregator. Events are sorted by time first; invalid events
// are skipped. Returns the most recent limit buckets.
func Bucketize(table *interval.Table, pair, label string, events []domain.SwapEvent, limit int) ([]domain.Candle, []domain.VolumeBucket) {
	sorted := make([]domain.SwapEvent, 0, len(events))
	for _, e := range events {
		if e.PairID == pair {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	agg := NewAggregator(table, Options{})
	for _, e := range sorted {
		_ = agg.Ingest(e, label)
	}
	return agg.GetSeries(pair, label, limit)
}
