package ingestion

import (
	"context"
	"fmt"
	"strings"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// Manager moves upstream pairs and swaps into storage.
// Duplicate swaps are skipped by the stores.
type Manager struct {
	swapSource SwapFetcher
	pairSource PairLister

	swapStores []storage.SwapStore
	pairStore  storage.PairStore
}

// ManagerOptions contains configuration for creating a Manager.
type ManagerOptions struct {
	SwapSource SwapFetcher
	PairSource PairLister

	SwapStores []storage.SwapStore
	PairStore  storage.PairStore
}

// NewManager creates a new ingestion manager with the provided sources and stores.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		swapSource: opts.SwapSource,
		pairSource: opts.PairSource,
		swapStores: opts.SwapStores,
		pairStore:  opts.PairStore,
	}
}

// IngestSwaps fetches up to first swaps of pair since sinceSec and archives them
// in deterministic order. Returns how many were new in the first store.
func (m *Manager) IngestSwaps(ctx context.Context, pair string, sinceSec int64, first int) (int, error) {
	if m.swapSource == nil || len(m.swapStores) == 0 {
		return 0, nil
	}

	events, err := m.swapSource.Swaps(ctx, pair, sinceSec, first)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	swaps := make([]*domain.SwapEvent, 0, len(events))
	for i := range events {
		if storage.ValidSwap(&events[i]) {
			swaps = append(swaps, &events[i])
		}
	}
	SortSwapEvents(swaps)

	inserted := 0
	for i, store := range m.swapStores {
		n, err := store.InsertBulk(ctx, swaps)
		if err != nil {
			return inserted, fmt.Errorf("archive swaps for %s: %w", pair, err)
		}
		if i == 0 {
			inserted = n
		}
	}
	return inserted, nil
}

// SyncPairs registers the top first pairs from the pair source, then the
// watchlist entries. Watchlist symbols and decimals override upstream values.
// Returns the number of pairs written.
func (m *Manager) SyncPairs(ctx context.Context, first int, watchlist []domain.TradingPair) (int, error) {
	if m.pairStore == nil {
		return 0, nil
	}

	written := 0
	if m.pairSource != nil {
		top, err := m.pairSource.TopPairs(ctx, first)
		if err != nil {
			return 0, err
		}
		for i := range top {
			if err := m.pairStore.Upsert(ctx, &top[i]); err != nil {
				return written, fmt.Errorf("register pair %s: %w", top[i].Address, err)
			}
			written++
		}
	}

	for _, w := range watchlist {
		p := w
		p.Address = strings.ToLower(p.Address)
		if existing, err := m.pairStore.GetByAddress(ctx, p.Address); err == nil {
			p.VolumeUSD, p.ReserveUSD = existing.VolumeUSD, existing.ReserveUSD
			if p.Token0 == "" {
				p.Token0, p.Token0Symbol = existing.Token0, existing.Token0Symbol
			}
			if p.Token1 == "" {
				p.Token1, p.Token1Symbol = existing.Token1, existing.Token1Symbol
			}
		}
		if err := m.pairStore.Upsert(ctx, &p); err != nil {
			return written, fmt.Errorf("register watchlist pair %s: %w", p.Address, err)
		}
		written++
	}
	return written, nil
}
