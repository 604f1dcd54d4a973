package history

import (
	"context"
	"testing"

	"dex-candles/internal/interval"
)

func TestSynthetic_Shape(t *testing.T) {
	src := NewSynthetic(interval.Default())
	src.now = fixedNow

	c, v, err := src.Fetch(context.Background(), "p", "1m", 50)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(v) != 0 {
		t.Fatalf("expected no volumes, got %d", len(v))
	}
	if len(c) != 50 {
		t.Fatalf("expected 50 candles, got %d", len(c))
	}
	if last := c[len(c)-1].Time; last != 1_700_000_040 {
		t.Fatalf("last candle at %d, want current bucket", last)
	}

	for i, k := range c {
		if k.Time%60 != 0 {
			t.Fatalf("candle %d not aligned: %d", i, k.Time)
		}
		if i > 0 {
			if k.Time-c[i-1].Time != 60 {
				t.Fatalf("candle %d not contiguous", i)
			}
			if k.Open != c[i-1].Close {
				t.Fatalf("candle %d open %v != previous close %v", i, k.Open, c[i-1].Close)
			}
		}
		if k.High < k.Open || k.High < k.Close || k.Low > k.Open || k.Low > k.Close {
			t.Fatalf("candle %d violates OHLC bounds: %+v", i, k)
		}
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	src := NewSynthetic(interval.Default())
	src.now = fixedNow
	src.rand = func() float64 { return 0.5 }

	c, _, _ := src.Fetch(context.Background(), "p", "1h", 3)
	if len(c) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(c))
	}
	for _, k := range c {
		if k.Open != 550 || k.Close != 550 {
			t.Fatalf("flat walk expected at 550, got %+v", k)
		}
	}
}

func TestSynthetic_ZeroLimit(t *testing.T) {
	c, _, err := NewSynthetic(interval.Default()).Fetch(context.Background(), "p", "1m", 0)
	if err != nil || c != nil {
		t.Fatalf("expected nothing, got %v %v", c, err)
	}
}
