package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// PairStore is an in-memory implementation of storage.PairStore.
type PairStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradingPair // keyed by lowercase address
}

// NewPairStore creates a new in-memory pair registry.
func NewPairStore() *PairStore {
	return &PairStore{
		data: make(map[string]*domain.TradingPair),
	}
}

// Upsert inserts or replaces a pair.
func (s *PairStore) Upsert(_ context.Context, p *domain.TradingPair) error {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}

	copy := *p
	copy.Address = strings.ToLower(p.Address)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[copy.Address] = &copy
	return nil
}

// GetByAddress retrieves a pair. Returns ErrNotFound if not exists.
func (s *PairStore) GetByAddress(_ context.Context, address string) (*domain.TradingPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[strings.ToLower(address)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// List returns pairs ordered by VolumeUSD DESC, ties by address.
func (s *PairStore) List(_ context.Context, limit int) ([]*domain.TradingPair, error) {
	s.mu.RLock()
	result := make([]*domain.TradingPair, 0, len(s.data))
	for _, p := range s.data {
		copy := *p
		result = append(result, &copy)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].VolumeUSD != result[j].VolumeUSD {
			return result[i].VolumeUSD > result[j].VolumeUSD
		}
		return result[i].Address < result[j].Address
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.PairStore = (*PairStore)(nil)
