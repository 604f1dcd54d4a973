// Package history provides historical candles for a (pair, interval) ahead of
// the live series.
package history

import (
	"context"
	"fmt"
	"time"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
	"dex-candles/internal/storage"
)

// Source fetches up to limit historical buckets ending now, ascending.
// Failures wrap domain.ErrUpstreamUnavailable.
type Source interface {
	Fetch(ctx context.Context, pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket, error)
}

// Source kinds accepted by New.
const (
	KindArchive    = "archive"
	KindClickHouse = "clickhouse"
	KindSubgraph   = "subgraph"
	KindSynthetic  = "synthetic"
	KindNone       = "none"
)

// LiveOverlap is implemented by sources that read back swaps the live feed
// also aggregates. Their buckets from the oldest live bucket onward must be
// dropped before merging, or volumes count twice.
type LiveOverlap interface {
	OverlapsLive() bool
}

// OverlapsLive reports whether src implements LiveOverlap and overlaps.
func OverlapsLive(src Source) bool {
	o, ok := src.(LiveOverlap)
	return ok && o.OverlapsLive()
}

// Before keeps the candles and volumes whose bucket starts before cutoffMs.
func Before(c []domain.Candle, v []domain.VolumeBucket, cutoffMs int64) ([]domain.Candle, []domain.VolumeBucket) {
	cutoff := cutoffMs / 1000

	outC := make([]domain.Candle, 0, len(c))
	for _, candle := range c {
		if candle.Time < cutoff {
			outC = append(outC, candle)
		}
	}
	outV := make([]domain.VolumeBucket, 0, len(v))
	for _, vol := range v {
		if vol.Time < cutoff {
			outV = append(outV, vol)
		}
	}
	return outC, outV
}

// CandleQuerier computes OHLCV buckets in the database.
type CandleQuerier interface {
	QueryCandles(ctx context.Context, pairID string, durationMs int64, start, end int64, limit int) ([]domain.Candle, []domain.VolumeBucket, error)
}

// SwapFetcher lists swaps on a pair since a Unix time in seconds.
type SwapFetcher interface {
	Swaps(ctx context.Context, pair string, sinceSec int64, first int) ([]domain.SwapEvent, error)
}

// Deps holds the backends a source kind may need.
type Deps struct {
	Swaps      storage.SwapStore
	ClickHouse CandleQuerier
	Subgraph   SwapFetcher
}

// New builds the source named by kind.
func New(kind string, table *interval.Table, deps Deps) (Source, error) {
	switch kind {
	case KindArchive:
		if deps.Swaps == nil {
			return nil, fmt.Errorf("history source %s: no swap store", kind)
		}
		return NewArchive(table, deps.Swaps), nil
	case KindClickHouse:
		if deps.ClickHouse == nil {
			return nil, fmt.Errorf("history source %s: no clickhouse connection", kind)
		}
		return NewClickHouse(table, deps.ClickHouse), nil
	case KindSubgraph:
		if deps.Subgraph == nil {
			return nil, fmt.Errorf("history source %s: no subgraph client", kind)
		}
		return NewSubgraph(table, deps.Subgraph), nil
	case KindSynthetic:
		return NewSynthetic(table), nil
	case KindNone, "":
		return Empty{}, nil
	default:
		return nil, fmt.Errorf("unknown history source %q", kind)
	}
}

// Empty returns no history.
type Empty struct{}

func (Empty) Fetch(context.Context, string, string, int) ([]domain.Candle, []domain.VolumeBucket, error) {
	return nil, nil, nil
}

// window returns the [start, end] ms range covering limit buckets of label
// ending at now.
func window(table *interval.Table, label string, limit int, now time.Time) (start, end int64) {
	if limit < 1 {
		limit = 1
	}
	d := table.DurationMillis(label)
	end = now.UnixMilli()
	start = table.BucketStart(end, label) - int64(limit-1)*d
	if start < 0 {
		start = 0
	}
	return start, end
}

// Archive re-buckets archived swaps.
type Archive struct {
	table *interval.Table
	swaps storage.SwapStore
	now   func() time.Time
}

// NewArchive creates an Archive source.
func NewArchive(table *interval.Table, swaps storage.SwapStore) *Archive {
	return &Archive{table: table, swaps: swaps, now: time.Now}
}

// OverlapsLive is true: the ingestion runner archives every live swap.
func (a *Archive) OverlapsLive() bool { return true }

func (a *Archive) Fetch(ctx context.Context, pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket, error) {
	start, end := window(a.table, label, limit, a.now())

	rows, err := a.swaps.GetByTimeRange(ctx, pair, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("archive %s: %v: %w", pair, err, domain.ErrUpstreamUnavailable)
	}

	events := make([]domain.SwapEvent, len(rows))
	for i, r := range rows {
		events[i] = *r
	}
	c, v := candles.Bucketize(a.table, pair, label, events, limit)
	return c, v, nil
}

// ClickHouse computes buckets in SQL.
type ClickHouse struct {
	table *interval.Table
	db    CandleQuerier
	now   func() time.Time
}

// NewClickHouse creates a ClickHouse source.
func NewClickHouse(table *interval.Table, db CandleQuerier) *ClickHouse {
	return &ClickHouse{table: table, db: db, now: time.Now}
}

// OverlapsLive is true: the ingestion runner archives every live swap.
func (s *ClickHouse) OverlapsLive() bool { return true }

func (s *ClickHouse) Fetch(ctx context.Context, pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket, error) {
	start, end := window(s.table, label, limit, s.now())

	c, v, err := s.db.QueryCandles(ctx, pair, s.table.DurationMillis(label), start, end, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse %s: %v: %w", pair, err, domain.ErrUpstreamUnavailable)
	}
	return c, v, nil
}

// Subgraph re-buckets recent swaps from the subgraph.
type Subgraph struct {
	table  *interval.Table
	client SwapFetcher
	now    func() time.Time
}

// maxSwaps bounds one subgraph page.
const maxSwaps = 1000

// NewSubgraph creates a Subgraph source.
func NewSubgraph(table *interval.Table, client SwapFetcher) *Subgraph {
	return &Subgraph{table: table, client: client, now: time.Now}
}

// OverlapsLive is true: the subgraph indexes the same on-chain swaps the bsc
// feed delivers.
func (s *Subgraph) OverlapsLive() bool { return true }

func (s *Subgraph) Fetch(ctx context.Context, pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket, error) {
	start, _ := window(s.table, label, limit, s.now())

	events, err := s.client.Swaps(ctx, pair, start/1000, maxSwaps)
	if err != nil {
		return nil, nil, fmt.Errorf("subgraph %s: %w", pair, err)
	}
	c, v := candles.Bucketize(s.table, pair, label, events, limit)
	return c, v, nil
}
