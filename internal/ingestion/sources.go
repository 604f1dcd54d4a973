package ingestion

import (
	"context"

	"dex-candles/internal/domain"
)

// EventSource streams normalized swap events.
// The channel is closed when ctx is cancelled or the source fails for good.
type EventSource interface {
	// Name identifies the source in logs and metrics.
	Name() string
	Subscribe(ctx context.Context) (<-chan domain.SwapEvent, error)
}

// SwapFetcher provides historical swaps for a pair since a Unix time in seconds.
type SwapFetcher interface {
	Swaps(ctx context.Context, pair string, sinceSec int64, first int) ([]domain.SwapEvent, error)
}

// PairLister provides the most traded pairs.
type PairLister interface {
	TopPairs(ctx context.Context, first int) ([]domain.TradingPair, error)
}
