package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.SwapEvent // keyed by composite key
	byPair map[string][]*domain.SwapEvent
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data:   make(map[string]*domain.SwapEvent),
		byPair: make(map[string][]*domain.SwapEvent),
	}
}

func swapKey(pairID, txHash string, logIndex int) string {
	return fmt.Sprintf("%s|%s|%d", pairID, txHash, logIndex)
}

// InsertBulk archives swaps, skipping keys that already exist.
func (s *SwapStore) InsertBulk(_ context.Context, swaps []*domain.SwapEvent) (int, error) {
	if len(swaps) == 0 {
		return 0, nil
	}
	for _, swap := range swaps {
		if !storage.ValidSwap(swap) {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, swap := range swaps {
		key := swapKey(swap.PairID, swap.TxHash, swap.LogIndex)
		if _, exists := s.data[key]; exists {
			continue
		}
		copy := *swap
		s.data[key] = &copy
		s.byPair[swap.PairID] = append(s.byPair[swap.PairID], &copy)
		inserted++
	}
	return inserted, nil
}

// GetByTimeRange retrieves swaps for a pair within [start, end] (inclusive).
func (s *SwapStore) GetByTimeRange(_ context.Context, pairID string, start, end int64) ([]*domain.SwapEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapEvent
	for _, swap := range s.byPair[pairID] {
		if swap.TimestampMs >= start && swap.TimestampMs <= end {
			copy := *swap
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].LogIndex < result[j].LogIndex
	})

	return result, nil
}

// Len returns the number of archived swaps.
func (s *SwapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.SwapStore = (*SwapStore)(nil)
