package ingestion

import (
	"errors"
	"sort"

	"dex-candles/internal/domain"
)

// ErrInvalidOrdering is returned when events are not properly ordered.
var ErrInvalidOrdering = errors.New("events are not in deterministic order")

// SortSwapEvents orders events by (timestamp ASC, block ASC, log_index ASC, tx_hash ASC).
// This matches chain order for on-chain swaps and is stable for the rest.
func SortSwapEvents(events []*domain.SwapEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareSwapEvents(events[i], events[j]) < 0
	})
}

// ValidateOrdering checks if events are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateOrdering(events []*domain.SwapEvent) error {
	for i := 1; i < len(events); i++ {
		if compareSwapEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareSwapEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareSwapEvents(a, b *domain.SwapEvent) int {
	switch {
	case a.TimestampMs != b.TimestampMs:
		return cmpInt64(a.TimestampMs, b.TimestampMs)
	case a.BlockNumber != b.BlockNumber:
		return cmpInt64(a.BlockNumber, b.BlockNumber)
	case a.LogIndex != b.LogIndex:
		return cmpInt64(int64(a.LogIndex), int64(b.LogIndex))
	case a.TxHash != b.TxHash:
		if a.TxHash < b.TxHash {
			return -1
		}
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	}
	return 1
}
