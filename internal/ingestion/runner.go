package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/idhash"
	"dex-candles/internal/merge"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
	"dex-candles/internal/stream"
)

// ErrSourcesClosed is returned by Run when every source has stopped.
var ErrSourcesClosed = errors.New("all event sources closed")

// StatsProvider computes the stats pushed with each live update.
type StatsProvider interface {
	LiveStats(pair, label string) domain.PairStats
}

// Runner feeds source events into the aggregator, publishes the resulting
// updates and archives the events.
type Runner struct {
	sources       []EventSource
	aggregator    *candles.Aggregator
	hub           *stream.Hub
	stats         StatsProvider
	archives      []storage.SwapStore
	flushInterval time.Duration
	archiveBatch  int
	compactEvery  time.Duration
	logger        *zap.Logger

	// Archive buffer, flushed on size or on the flush ticker.
	buffer []*domain.SwapEvent
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Sources    []EventSource
	Aggregator *candles.Aggregator
	Hub        *stream.Hub
	Stats      StatsProvider // Default: live series only, no quote
	Archives   []storage.SwapStore

	FlushInterval time.Duration // Default: 5s
	ArchiveBatch  int           // Default: 500
	CompactEvery  time.Duration // Default: 1m
	Logger        *zap.Logger
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	flushInterval := opts.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	archiveBatch := opts.ArchiveBatch
	if archiveBatch <= 0 {
		archiveBatch = 500
	}

	compactEvery := opts.CompactEvery
	if compactEvery <= 0 {
		compactEvery = time.Minute
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		sources:       opts.Sources,
		aggregator:    opts.Aggregator,
		hub:           opts.Hub,
		stats:         opts.Stats,
		archives:      opts.Archives,
		flushInterval: flushInterval,
		archiveBatch:  archiveBatch,
		compactEvery:  compactEvery,
		logger:        logger,
	}
	if r.stats == nil {
		r.stats = liveStats{agg: opts.Aggregator}
	}
	return r
}

// Run subscribes to every source and processes events until ctx is
// cancelled or all sources close. Buffered events are archived before return.
func (r *Runner) Run(ctx context.Context) error {
	events, err := r.subscribeAll(ctx)
	if err != nil {
		return err
	}

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	compactTicker := time.NewTicker(r.compactEvery)
	defer compactTicker.Stop()

	r.logger.Info("ingestion runner started",
		zap.Int("sources", len(r.sources)),
		zap.Strings("intervals", r.aggregator.Table().Labels()),
		zap.Duration("flush_interval", r.flushInterval),
		zap.Duration("compact_every", r.compactEvery))

	for {
		select {
		case <-ctx.Done():
			r.shutdownFlush()
			r.logger.Info("ingestion runner stopping")
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				r.shutdownFlush()
				return ErrSourcesClosed
			}
			r.Handle(event)
			if len(r.buffer) >= r.archiveBatch {
				r.flush(ctx)
			}

		case <-flushTicker.C:
			r.flush(ctx)

		case <-compactTicker.C:
			r.compact()
		}
	}
}

// subscribeAll fans every source into one channel, closed when all sources close.
func (r *Runner) subscribeAll(ctx context.Context) (<-chan domain.SwapEvent, error) {
	merged := make(chan domain.SwapEvent, 1024)
	var wg sync.WaitGroup

	for _, src := range r.sources {
		ch, err := src.Subscribe(ctx)
		if err != nil {
			return nil, err
		}
		r.logger.Info("subscribed to event source", zap.String("source", src.Name()))

		wg.Add(1)
		go func(name string, ch <-chan domain.SwapEvent) {
			defer wg.Done()
			for event := range ch {
				if event.Source == "" {
					event.Source = name
				}
				observability.RecordEventReceived(name)
				select {
				case merged <- event:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() == nil {
				r.logger.Warn("event source closed", zap.String("source", name))
			}
		}(src.Name(), ch)
	}

	go func() {
		wg.Wait()
		close(merged)
	}()

	return merged, nil
}

// Handle applies one event to every enabled interval, publishes the updates
// and buffers the event for archiving. Faulty events are counted and dropped.
func (r *Runner) Handle(event domain.SwapEvent) {
	start := time.Now()
	event.PairID = strings.ToLower(event.PairID)

	applied := false
	for _, label := range r.aggregator.Table().Labels() {
		candle, volume, err := r.aggregator.Apply(event, label)
		switch {
		case errors.Is(err, candles.ErrInvalidEvent):
			observability.RecordEventDropped("invalid")
			r.logger.Debug("dropping invalid event", zap.String("pair", event.PairID), zap.Error(err))
			return
		case errors.Is(err, candles.ErrLateEvent):
			observability.RecordEventDropped("late")
			continue
		case err != nil:
			observability.RecordEventDropped("apply")
			continue
		}
		applied = true
		r.publish(domain.SeriesKey{PairID: event.PairID, Interval: label}, candle, volume)
	}

	if !applied {
		return
	}
	observability.RecordIngest(time.Since(start).Seconds(), event.TimestampMs)

	if len(r.archives) > 0 {
		e := event
		if e.TxHash == "" {
			e.TxHash = idhash.ComputeSwapID(e.PairID, e.Source, e.TimestampMs, e.Price, e.Volume, e.LogIndex)
		}
		r.buffer = append(r.buffer, &e)
		observability.SetArchiveBuffered(len(r.buffer))
	}
}

func (r *Runner) publish(key domain.SeriesKey, candle domain.Candle, volume domain.VolumeBucket) {
	if r.hub == nil || !r.hub.HasSubscribers(key) {
		return
	}
	stats := r.stats.LiveStats(key.PairID, key.Interval)
	r.hub.Publish(key, stream.Update{Candle: &candle, Volume: &volume, Stats: &stats})
}

// flush writes the buffer to every archive. A failed write is logged and the
// batch is not retried.
func (r *Runner) flush(ctx context.Context) {
	if len(r.buffer) == 0 {
		return
	}

	batch := r.buffer
	r.buffer = nil
	observability.SetArchiveBuffered(0)
	SortSwapEvents(batch)

	for _, store := range r.archives {
		n, err := store.InsertBulk(ctx, batch)
		if err != nil {
			r.logger.Error("archive flush failed", zap.Int("events", len(batch)), zap.Error(err))
			continue
		}
		observability.RecordArchived(n)
		r.logger.Debug("archived swaps",
			zap.Int("events", len(batch)),
			zap.Int("new", n))
	}
}

func (r *Runner) shutdownFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.flush(ctx)
}

func (r *Runner) compact() {
	dropped := r.aggregator.Compact()
	observability.RecordCompaction(dropped)
	observability.UpdateAggregatorSize(len(r.aggregator.Keys()), r.aggregator.BucketCount())
	if dropped > 0 {
		r.logger.Debug("compacted live series", zap.Int("dropped_buckets", dropped))
	}
}

// liveStats computes stats from the live series alone.
type liveStats struct {
	agg *candles.Aggregator
}

func (s liveStats) LiveStats(pair, label string) domain.PairStats {
	perDay := s.agg.Table().CandlesPerDay(label)
	c, v := s.agg.GetSeries(pair, label, perDay)
	return merge.ComputeStats(domain.MergedSeries{Candles: c, Volumes: v}, perDay, domain.Quote{})
}
