package storage

import (
	"context"

	"dex-candles/internal/domain"
)

// SwapStore archives normalized swap events.
// Records are keyed by (pair_id, tx_hash, log_index).
type SwapStore interface {
	// InsertBulk archives swaps and returns how many were new.
	// Swaps whose key already exists (in the store or earlier in the batch) are skipped.
	// Returns ErrInvalidInput if a swap has no pair or tx hash.
	InsertBulk(ctx context.Context, swaps []*domain.SwapEvent) (int, error)

	// GetByTimeRange retrieves swaps for a pair within [start, end] ms (inclusive),
	// ordered by timestamp ASC then log index ASC.
	GetByTimeRange(ctx context.Context, pairID string, start, end int64) ([]*domain.SwapEvent, error)
}

// PairStore is the registry of known trading pairs.
type PairStore interface {
	// Upsert inserts a pair or replaces the stored one with the same address.
	Upsert(ctx context.Context, p *domain.TradingPair) error

	// GetByAddress retrieves a pair by contract address. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.TradingPair, error)

	// List returns up to limit pairs ordered by VolumeUSD DESC. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*domain.TradingPair, error)
}

// ValidSwap reports whether s carries the archive key fields.
func ValidSwap(s *domain.SwapEvent) bool {
	return s != nil && s.PairID != "" && s.TxHash != ""
}
