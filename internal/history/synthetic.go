package history

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
)

// Synthetic generates a random-walk history for demos. Each call starts from
// a fresh base price between 100 and 1000.
type Synthetic struct {
	table      *interval.Table
	volatility float64
	now        func() time.Time
	rand       func() float64
}

// NewSynthetic creates a Synthetic source with 2% volatility per candle.
func NewSynthetic(table *interval.Table) *Synthetic {
	return &Synthetic{table: table, volatility: 0.02, now: time.Now, rand: rand.Float64}
}

// Fetch returns limit candles whose last bucket contains now. Volumes are
// empty; synthetic history carries no trades.
func (s *Synthetic) Fetch(_ context.Context, _ string, label string, limit int) ([]domain.Candle, []domain.VolumeBucket, error) {
	if limit <= 0 {
		return nil, nil, nil
	}

	d := s.table.DurationMillis(label)
	last := s.table.BucketStart(s.now().UnixMilli(), label)
	price := 100 + s.rand()*900

	out := make([]domain.Candle, 0, limit)
	for i := limit - 1; i >= 0; i-- {
		start := last - int64(i)*d
		if start < 0 {
			continue
		}
		open := price
		cl := open + (s.rand()-0.5)*s.volatility*open
		high := math.Max(open, cl) + s.rand()*s.volatility*open*0.5
		low := math.Max(0, math.Min(open, cl)-s.rand()*s.volatility*open*0.5)

		out = append(out, domain.Candle{Time: start / 1000, Open: open, High: high, Low: low, Close: cl})
		price = cl
	}
	return out, nil, nil
}
