package merge

import (
	"dex-candles/internal/domain"
)

// ComputeStats derives pair statistics from a merged series.
//
// LastPrice prefers quote.Price over the last close. Change24h compares it with
// the open of the oldest of the newest candlesPerDay candles, clamped to the
// oldest candle. Volume24h sums the newest candlesPerDay volume buckets.
func ComputeStats(series domain.MergedSeries, candlesPerDay int, quote domain.Quote) domain.PairStats {
	stats := domain.PairStats{MarketCap: quote.MarketCap}
	if candlesPerDay < 1 {
		candlesPerDay = 1
	}

	n := len(series.Candles)
	if n > 0 {
		stats.LastPrice = series.Candles[n-1].Close
	}
	if quote.Price != nil {
		stats.LastPrice = *quote.Price
	}

	if n > 0 {
		idx := n - candlesPerDay
		if idx < 0 {
			idx = 0
		}
		if open := series.Candles[idx].Open; open != 0 {
			stats.Change24h = (stats.LastPrice - open) / open * 100
		}
	}

	vols := series.Volumes
	if len(vols) > candlesPerDay {
		vols = vols[len(vols)-candlesPerDay:]
	}
	for _, v := range vols {
		stats.Volume24h += v.Value
	}

	return stats
}
