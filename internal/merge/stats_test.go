package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dex-candles/internal/domain"
)

func series(n int) domain.MergedSeries {
	var s domain.MergedSeries
	for i := 0; i < n; i++ {
		price := float64(100 + i)
		s.Candles = append(s.Candles, domain.Candle{Time: int64(i * 60), Open: price, High: price, Low: price, Close: price})
		s.Volumes = append(s.Volumes, domain.VolumeBucket{Time: int64(i * 60), Value: 1})
	}
	return s
}

func TestComputeStats_ShortSeriesClampsToOldest(t *testing.T) {
	s := series(100)

	stats := ComputeStats(s, 1440, domain.Quote{})

	// oldest open is 100, newest close is 199
	assert.Equal(t, 199.0, stats.LastPrice)
	assert.InDelta(t, 99.0, stats.Change24h, 1e-9)
	assert.Equal(t, 100.0, stats.Volume24h)
}

func TestComputeStats_FullDay(t *testing.T) {
	s := series(30)

	stats := ComputeStats(s, 24, domain.Quote{})

	// index 30-24 = 6, open 106: the window spans exactly 24 candles
	assert.InDelta(t, (129.0-106.0)/106.0*100, stats.Change24h, 1e-9)
	assert.Equal(t, 24.0, stats.Volume24h)
}

func TestComputeStats_ExactDayUsesOldestOpen(t *testing.T) {
	s := series(24)

	stats := ComputeStats(s, 24, domain.Quote{})

	assert.InDelta(t, (123.0-100.0)/100.0*100, stats.Change24h, 1e-9)
	assert.Equal(t, 24.0, stats.Volume24h)
}

func TestComputeStats_QuotePriceTakesPriority(t *testing.T) {
	s := series(2)
	price := 150.0

	stats := ComputeStats(s, 24, domain.Quote{Price: &price, MarketCap: 42})

	assert.Equal(t, 150.0, stats.LastPrice)
	assert.InDelta(t, 50.0, stats.Change24h, 1e-9)
	assert.Equal(t, 42.0, stats.MarketCap)
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(domain.MergedSeries{}, 24, domain.Quote{})
	assert.Equal(t, domain.PairStats{}, stats)
}

func TestComputeStats_ZeroOpen(t *testing.T) {
	s := domain.MergedSeries{Candles: []domain.Candle{{Time: 0, Open: 0, Close: 5}}}

	stats := ComputeStats(s, 24, domain.Quote{})

	assert.Equal(t, 5.0, stats.LastPrice)
	assert.Zero(t, stats.Change24h)
}
