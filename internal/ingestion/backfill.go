package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dex-candles/internal/storage"
)

// Backfiller archives recent upstream swaps for every registered pair.
type Backfiller struct {
	manager   *Manager
	pairStore storage.PairStore
	maxPairs  int
	batchSize int
	logger    *zap.Logger
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Manager   *Manager
	PairStore storage.PairStore
	MaxPairs  int // Default: 20
	BatchSize int // Default: 1000, swaps per pair
	Logger    *zap.Logger
}

// NewBackfiller creates a new historical data backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	maxPairs := opts.MaxPairs
	if maxPairs <= 0 {
		maxPairs = 20
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backfiller{
		manager:   opts.Manager,
		pairStore: opts.PairStore,
		maxPairs:  maxPairs,
		batchSize: batchSize,
		logger:    logger,
	}
}

// BackfillResult contains statistics from a backfill operation.
type BackfillResult struct {
	Pairs         int
	SwapsIngested int
	Errors        int
	Duration      time.Duration
}

// BackfillSince archives swaps since the given time for the top registered pairs.
// A failing pair is logged and counted; the rest continue.
func (b *Backfiller) BackfillSince(ctx context.Context, since time.Time) (*BackfillResult, error) {
	start := time.Now()
	result := &BackfillResult{}

	pairs, err := b.pairStore.List(ctx, b.maxPairs)
	if err != nil {
		return result, err
	}

	b.logger.Info("starting backfill",
		zap.Time("since", since),
		zap.Int("pairs", len(pairs)))

	for _, p := range pairs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		n, err := b.manager.IngestSwaps(ctx, p.Address, since.Unix(), b.batchSize)
		if err != nil {
			result.Errors++
			b.logger.Warn("backfill pair failed", zap.String("pair", p.Address), zap.Error(err))
			continue
		}
		result.Pairs++
		result.SwapsIngested += n
	}

	result.Duration = time.Since(start)
	b.logger.Info("backfill complete",
		zap.Int("pairs", result.Pairs),
		zap.Int("swaps", result.SwapsIngested),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration))

	return result, nil
}
