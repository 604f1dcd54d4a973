// Package service assembles chart snapshots from live aggregation, history
// and market quotes.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/history"
	"dex-candles/internal/market"
	"dex-candles/internal/merge"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// PairTracker is told about pairs clients ask for.
type PairTracker interface {
	Track(pair string)
}

// Options configures a ChartService.
type Options struct {
	Aggregator *candles.Aggregator
	History    history.Source    // Default: no history
	Quotes     market.Source     // nil disables quotes
	Pairs      storage.PairStore // nil disables the pair listing
	Tracker    PairTracker       // optional

	MergeLimit     int           // Default: 200
	HistoryTimeout time.Duration // Default: 5s
	QuoteTimeout   time.Duration // Default: 3s
	Logger         *zap.Logger
}

// Chart is the snapshot served for one series key.
type Chart struct {
	Candles []domain.Candle       `json:"candles"`
	Volumes []domain.VolumeBucket `json:"volume"`
	Stats   domain.PairStats      `json:"stats"`
}

// ChartService serves merged chart snapshots.
type ChartService struct {
	agg     *candles.Aggregator
	merger  *merge.Merger
	history history.Source
	quotes  market.Source
	pairs   storage.PairStore
	tracker PairTracker

	mergeLimit     int
	historyTimeout time.Duration
	quoteTimeout   time.Duration
	logger         *zap.Logger

	// Last successful quote per pair, reused for live stats.
	lastQuote sync.Map
	// Last history per series key, trimmed to one day, reused for live stats.
	lastHistory sync.Map
}

type historySnapshot struct {
	candles []domain.Candle
	volumes []domain.VolumeBucket
}

// New creates a ChartService.
func New(opts Options) *ChartService {
	if opts.History == nil {
		opts.History = history.Empty{}
	}
	if opts.MergeLimit <= 0 {
		opts.MergeLimit = merge.DefaultLimit
	}
	if opts.HistoryTimeout <= 0 {
		opts.HistoryTimeout = 5 * time.Second
	}
	if opts.QuoteTimeout <= 0 {
		opts.QuoteTimeout = 3 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &ChartService{
		agg:            opts.Aggregator,
		merger:         merge.NewMerger(opts.Aggregator),
		history:        opts.History,
		quotes:         opts.Quotes,
		pairs:          opts.Pairs,
		tracker:        opts.Tracker,
		mergeLimit:     opts.MergeLimit,
		historyTimeout: opts.HistoryTimeout,
		quoteTimeout:   opts.QuoteTimeout,
		logger:         opts.Logger,
	}
}

// ValidateKey normalizes and checks a (pair, interval) request.
// Returns an error wrapping domain.ErrInvalidInput.
func (s *ChartService) ValidateKey(pair, label string) (domain.SeriesKey, error) {
	pair = strings.ToLower(strings.TrimSpace(pair))
	label = strings.TrimSpace(label)
	if pair == "" || label == "" {
		return domain.SeriesKey{}, fmt.Errorf("missing pair or interval: %w", domain.ErrInvalidInput)
	}
	if !s.agg.Table().IsValid(label) {
		return domain.SeriesKey{}, fmt.Errorf("unsupported interval %q: %w", label, domain.ErrInvalidInput)
	}
	return domain.SeriesKey{PairID: pair, Interval: label}, nil
}

// Track forwards pair to the tracker, if any.
func (s *ChartService) Track(pair string) {
	if s.tracker != nil {
		s.tracker.Track(pair)
	}
}

// GetChart returns the merged series and stats for (pair, label). History and
// quote are fetched concurrently; either failing degrades to empty values.
// Only invalid input is returned as an error.
func (s *ChartService) GetChart(ctx context.Context, pair, label string, limit int) (*Chart, error) {
	key, err := s.ValidateKey(pair, label)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.mergeLimit {
		limit = s.mergeLimit
	}
	s.Track(key.PairID)

	var (
		histCandles []domain.Candle
		histVolumes []domain.VolumeBucket
		quote       domain.Quote
	)

	var g errgroup.Group
	g.Go(func() error {
		histCandles, histVolumes = s.fetchHistory(ctx, key, limit)
		return nil
	})
	g.Go(func() error {
		quote = s.fetchQuote(ctx, key.PairID)
		return nil
	})
	_ = g.Wait()

	// Sources that read back live swaps stop before the oldest live bucket.
	if history.OverlapsLive(s.history) {
		if first, ok := s.agg.FirstBucketStart(key.PairID, key.Interval); ok {
			histCandles, histVolumes = history.Before(histCandles, histVolumes, first)
		}
	}
	s.rememberHistory(key, histCandles, histVolumes)

	series, stats := s.merger.MergeWithHistorical(histCandles, histVolumes, key.PairID, key.Interval, limit, quote)
	return &Chart{Candles: series.Candles, Volumes: series.Volumes, Stats: stats}, nil
}

func (s *ChartService) fetchHistory(ctx context.Context, key domain.SeriesKey, limit int) ([]domain.Candle, []domain.VolumeBucket) {
	ctx, cancel := context.WithTimeout(ctx, s.historyTimeout)
	defer cancel()

	start := time.Now()
	c, v, err := s.history.Fetch(ctx, key.PairID, key.Interval, limit)
	observability.RecordUpstream("history", time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Warn("history unavailable, serving live data only",
			zap.String("series", key.String()),
			zap.Error(err))
		return nil, nil
	}
	return c, v
}

// rememberHistory keeps the newest day of history for key so stream stats
// cover the same window as snapshots.
func (s *ChartService) rememberHistory(key domain.SeriesKey, c []domain.Candle, v []domain.VolumeBucket) {
	if len(c) == 0 && len(v) == 0 {
		return
	}
	perDay := s.agg.Table().CandlesPerDay(key.Interval)
	if len(c) > perDay {
		c = c[len(c)-perDay:]
	}
	if len(v) > perDay {
		v = v[len(v)-perDay:]
	}
	s.lastHistory.Store(key, historySnapshot{candles: c, volumes: v})
}

func (s *ChartService) fetchQuote(ctx context.Context, pair string) domain.Quote {
	if s.quotes == nil {
		return domain.Quote{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
	defer cancel()

	start := time.Now()
	q, err := s.quotes.Quote(ctx, pair)
	observability.RecordUpstream("market", time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Warn("quote unavailable", zap.String("pair", pair), zap.Error(err))
		return domain.Quote{}
	}
	s.lastQuote.Store(pair, q)
	return q
}

// LiveStats computes stats from the live series merged with the last history
// fetched for the key, and the last known quote. The quote's price is ignored
// once older than the newest candle.
func (s *ChartService) LiveStats(pair, label string) domain.PairStats {
	perDay := s.agg.Table().CandlesPerDay(label)
	c, v := s.agg.GetSeries(pair, label, perDay)

	if cached, ok := s.lastHistory.Load(domain.SeriesKey{PairID: pair, Interval: label}); ok {
		h := cached.(historySnapshot)
		merged := merge.Merge(h.candles, h.volumes, c, v, perDay)
		c, v = merged.Candles, merged.Volumes
	}

	var quote domain.Quote
	if cached, ok := s.lastQuote.Load(pair); ok {
		quote = cached.(domain.Quote)
		if n := len(c); n > 0 && quote.FetchedAt < c[n-1].Time*1000 {
			quote.Price = nil
		}
	}
	return merge.ComputeStats(domain.MergedSeries{Candles: c, Volumes: v}, perDay, quote)
}

// Pairs lists up to limit registered pairs, most traded first.
func (s *ChartService) Pairs(ctx context.Context, limit int) ([]*domain.TradingPair, error) {
	if s.pairs == nil {
		return []*domain.TradingPair{}, nil
	}
	pairs, err := s.pairs.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	if pairs == nil {
		pairs = []*domain.TradingPair{}
	}
	return pairs, nil
}

// Intervals returns the enabled interval labels.
func (s *ChartService) Intervals() []string {
	return s.agg.Table().Labels()
}

// SeriesCount returns the number of live series.
func (s *ChartService) SeriesCount() int {
	return len(s.agg.Keys())
}
