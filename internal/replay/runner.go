// Package replay re-aggregates archived swaps deterministically.
package replay

import (
	"context"
	"fmt"
	"math"

	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/storage"
)

// Runner loads swaps from storage and replays them in deterministic order.
type Runner struct {
	swapStore storage.SwapStore
}

// NewRunner creates a new replay runner.
func NewRunner(swapStore storage.SwapStore) *Runner {
	return &Runner{swapStore: swapStore}
}

// Run loads swaps for a pair within [from, to] ms and replays them through
// the engine. Returns the number of swaps replayed.
func (r *Runner) Run(ctx context.Context, pair string, from, to int64, engine Engine) (int, error) {
	if from > to {
		return 0, fmt.Errorf("replay range [%d, %d]: %w", from, to, domain.ErrInvalidInput)
	}

	swaps, err := r.swapStore.GetByTimeRange(ctx, pair, from, to)
	if err != nil {
		return 0, fmt.Errorf("load swaps: %w", err)
	}

	ingestion.SortSwapEvents(swaps)

	for i, swap := range swaps {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := engine.OnSwap(ctx, swap); err != nil {
			return i, err
		}
	}
	return len(swaps), nil
}

// RunAll replays every archived swap of a pair.
func (r *Runner) RunAll(ctx context.Context, pair string, engine Engine) (int, error) {
	return r.Run(ctx, pair, 0, math.MaxInt64, engine)
}
