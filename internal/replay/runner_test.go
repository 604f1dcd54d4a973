package replay

import (
	"context"
	"errors"
	"testing"

	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/interval"
	"dex-candles/internal/storage/memory"
)

// collectingEngine collects swaps for verification.
type collectingEngine struct {
	swaps []*domain.SwapEvent
}

func (e *collectingEngine) OnSwap(_ context.Context, swap *domain.SwapEvent) error {
	e.swaps = append(e.swaps, swap)
	return nil
}

type failingEngine struct{ after int }

func (e *failingEngine) OnSwap(context.Context, *domain.SwapEvent) error {
	if e.after == 0 {
		return errors.New("engine failed")
	}
	e.after--
	return nil
}

func seed(t *testing.T, swaps ...*domain.SwapEvent) *memory.SwapStore {
	t.Helper()
	store := memory.NewSwapStore()
	if _, err := store.InsertBulk(context.Background(), swaps); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	return store
}

func TestRunner_OrdersSwapsDeterministically(t *testing.T) {
	store := seed(t,
		&domain.SwapEvent{PairID: "p1", TxHash: "tx3", LogIndex: 0, BlockNumber: 3, TimestampMs: 3000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "tx1", LogIndex: 1, BlockNumber: 1, TimestampMs: 1000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "tx1", LogIndex: 0, BlockNumber: 1, TimestampMs: 1000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "tx2", LogIndex: 0, BlockNumber: 2, TimestampMs: 2000, Price: 1, Volume: 1},
	)

	engine := &collectingEngine{}
	n, err := NewRunner(store).RunAll(context.Background(), "p1", engine)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("replayed %d swaps, want 4", n)
	}
	if err := ingestion.ValidateOrdering(engine.swaps); err != nil {
		t.Errorf("swaps not in order: %v", err)
	}
	if engine.swaps[0].LogIndex != 0 || engine.swaps[1].LogIndex != 1 {
		t.Errorf("same-tx swaps out of log order")
	}
}

func TestRunner_TimeRange(t *testing.T) {
	store := seed(t,
		&domain.SwapEvent{PairID: "p1", TxHash: "a", TimestampMs: 1000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "b", TimestampMs: 2000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "c", TimestampMs: 3000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p2", TxHash: "d", TimestampMs: 2000, Price: 1, Volume: 1},
	)

	engine := &collectingEngine{}
	n, err := NewRunner(store).Run(context.Background(), "p1", 1500, 3000, engine)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 2 {
		t.Errorf("replayed %d swaps, want 2", n)
	}

	_, err = NewRunner(store).Run(context.Background(), "p1", 3000, 1000, engine)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for inverted range, got %v", err)
	}
}

func TestRunner_EngineError(t *testing.T) {
	store := seed(t,
		&domain.SwapEvent{PairID: "p1", TxHash: "a", TimestampMs: 1000, Price: 1, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "b", TimestampMs: 2000, Price: 1, Volume: 1},
	)

	n, err := NewRunner(store).RunAll(context.Background(), "p1", &failingEngine{after: 1})
	if err == nil {
		t.Fatal("expected engine error")
	}
	if n != 1 {
		t.Errorf("replayed %d swaps before failure, want 1", n)
	}
}

func TestRunner_Empty(t *testing.T) {
	engine := &collectingEngine{}
	n, err := NewRunner(memory.NewSwapStore()).RunAll(context.Background(), "missing", engine)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if n != 0 || len(engine.swaps) != 0 {
		t.Errorf("expected nothing replayed, got %d", n)
	}
}

func TestCandleEngine_Rebuild(t *testing.T) {
	store := seed(t,
		&domain.SwapEvent{PairID: "p1", TxHash: "a", TimestampMs: 60_000, Price: 10, Volume: 1},
		&domain.SwapEvent{PairID: "p1", TxHash: "b", TimestampMs: 90_000, Price: 12, Volume: 2},
		&domain.SwapEvent{PairID: "p1", TxHash: "c", TimestampMs: 125_000, Price: 8, Volume: 3},
		&domain.SwapEvent{PairID: "p1", TxHash: "d", TimestampMs: 130_000, Price: -1, Volume: 3},
	)

	engine, err := NewCandleEngine(interval.Default(), "p1", "1m")
	if err != nil {
		t.Fatalf("NewCandleEngine failed: %v", err)
	}
	if _, err := NewRunner(store).RunAll(context.Background(), "p1", engine); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	c, v := engine.Series(0)
	if len(c) != 2 || len(v) != 2 {
		t.Fatalf("got %d candles, %d volumes, want 2 each", len(c), len(v))
	}
	want := domain.Candle{Time: 60, Open: 10, High: 12, Low: 10, Close: 12}
	if c[0] != want {
		t.Errorf("first candle = %+v, want %+v", c[0], want)
	}
	if v[0].Value != 3 || v[0].Color != domain.ColorUp {
		t.Errorf("first volume = %+v", v[0])
	}
	if c[1].Time != 120 || v[1].Value != 3 {
		t.Errorf("second bucket = %+v %+v", c[1], v[1])
	}

	stats := engine.Stats()
	if stats.TotalEvents != 4 || stats.Rejected != 1 || stats.Buckets != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.FirstEventTime != 60_000 || stats.LastEventTime != 130_000 {
		t.Errorf("unexpected time bounds %+v", stats)
	}
}

func TestCandleEngine_UnsupportedInterval(t *testing.T) {
	_, err := NewCandleEngine(interval.Default(), "p1", "2m")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
