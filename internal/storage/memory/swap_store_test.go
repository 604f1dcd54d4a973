package memory

import (
	"context"
	"errors"
	"testing"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

func TestSwapStore_InsertAndGet(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	swap := &domain.SwapEvent{
		PairID:      "0xpair",
		TxHash:      "0xtx1",
		LogIndex:    0,
		BlockNumber: 100,
		TimestampMs: 1704067200000,
		Price:       300.5,
		Volume:      2,
	}

	n, err := store.InsertBulk(ctx, []*domain.SwapEvent{swap})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if n != 1 {
		t.Errorf("inserted = %d, want 1", n)
	}

	result, err := store.GetByTimeRange(ctx, "0xpair", 0, 1<<62)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("Expected 1 swap, got %d", len(result))
	}
	if result[0].Price != 300.5 {
		t.Errorf("Price mismatch: got %f, want %f", result[0].Price, 300.5)
	}

	// returned records are copies
	result[0].Price = 0
	again, _ := store.GetByTimeRange(ctx, "0xpair", 0, 1<<62)
	if again[0].Price != 300.5 {
		t.Errorf("store mutated through returned pointer")
	}
}

func TestSwapStore_DuplicatesSkipped(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	swaps := []*domain.SwapEvent{
		{PairID: "p", TxHash: "t1", LogIndex: 0, TimestampMs: 1000},
		{PairID: "p", TxHash: "t1", LogIndex: 1, TimestampMs: 1001},
		{PairID: "p", TxHash: "t1", LogIndex: 0, TimestampMs: 1000},
	}

	n, err := store.InsertBulk(ctx, swaps)
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	if n != 2 {
		t.Errorf("inserted = %d, want 2", n)
	}

	n, err = store.InsertBulk(ctx, swaps[:1])
	if err != nil {
		t.Fatalf("second InsertBulk failed: %v", err)
	}
	if n != 0 {
		t.Errorf("re-insert inserted = %d, want 0", n)
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
}

func TestSwapStore_InvalidInput(t *testing.T) {
	store := NewSwapStore()

	_, err := store.InsertBulk(context.Background(), []*domain.SwapEvent{
		{PairID: "p", TxHash: "ok"},
		{PairID: "p"},
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("partial batch stored %d swaps", store.Len())
	}
}

func TestSwapStore_GetByTimeRange(t *testing.T) {
	store := NewSwapStore()
	ctx := context.Background()

	_, err := store.InsertBulk(ctx, []*domain.SwapEvent{
		{PairID: "p", TxHash: "c", LogIndex: 0, TimestampMs: 3000},
		{PairID: "p", TxHash: "a", LogIndex: 2, TimestampMs: 1000},
		{PairID: "p", TxHash: "a", LogIndex: 1, TimestampMs: 1000},
		{PairID: "p", TxHash: "b", LogIndex: 0, TimestampMs: 2000},
		{PairID: "other", TxHash: "x", LogIndex: 0, TimestampMs: 2000},
	})
	if err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	result, err := store.GetByTimeRange(ctx, "p", 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("Expected 3 swaps, got %d", len(result))
	}
	if result[0].LogIndex != 1 || result[1].LogIndex != 2 || result[2].TxHash != "b" {
		t.Errorf("unexpected order: %+v %+v %+v", result[0], result[1], result[2])
	}
}
