package replay

import (
	"context"
	"fmt"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
)

// Engine processes archived swaps in deterministic order.
type Engine interface {
	// OnSwap is called for each swap, ordered by
	// (timestamp, block, log_index, tx_hash).
	OnSwap(ctx context.Context, swap *domain.SwapEvent) error
}

// Stats summarizes one replay.
type Stats struct {
	Pair           string `json:"pair"`
	Interval       string `json:"interval"`
	TotalEvents    int    `json:"total_events"`
	Rejected       int    `json:"rejected"`
	FirstEventTime int64  `json:"first_event_time"`
	LastEventTime  int64  `json:"last_event_time"`
	Buckets        int    `json:"buckets"`
}

// CandleEngine rebuilds one series from archived swaps with a fresh Aggregator.
// Late events are accepted; invalid ones are counted and skipped.
type CandleEngine struct {
	agg   *candles.Aggregator
	key   domain.SeriesKey
	stats Stats
}

// NewCandleEngine creates an engine bucketing pair by label.
func NewCandleEngine(table *interval.Table, pair, label string) (*CandleEngine, error) {
	if table == nil {
		table = interval.Default()
	}
	if !table.IsValid(label) {
		return nil, fmt.Errorf("unsupported interval %q: %w", label, domain.ErrInvalidInput)
	}
	return &CandleEngine{
		agg:   candles.NewAggregator(table, candles.Options{}),
		key:   domain.SeriesKey{PairID: pair, Interval: label},
		stats: Stats{Pair: pair, Interval: label},
	}, nil
}

// OnSwap applies one swap to the series.
func (e *CandleEngine) OnSwap(_ context.Context, swap *domain.SwapEvent) error {
	e.stats.TotalEvents++
	if e.stats.FirstEventTime == 0 || swap.TimestampMs < e.stats.FirstEventTime {
		e.stats.FirstEventTime = swap.TimestampMs
	}
	if swap.TimestampMs > e.stats.LastEventTime {
		e.stats.LastEventTime = swap.TimestampMs
	}

	if err := e.agg.Ingest(*swap, e.key.Interval); err != nil {
		e.stats.Rejected++
	}
	return nil
}

// Series returns the newest limit candles and volumes. limit <= 0 returns all.
func (e *CandleEngine) Series(limit int) ([]domain.Candle, []domain.VolumeBucket) {
	if limit <= 0 {
		limit = e.agg.BucketCount()
	}
	return e.agg.GetSeries(e.key.PairID, e.key.Interval, limit)
}

// Stats returns replay statistics.
func (e *CandleEngine) Stats() Stats {
	s := e.stats
	c, _ := e.Series(0)
	s.Buckets = len(c)
	return s
}

var _ Engine = (*CandleEngine)(nil)
