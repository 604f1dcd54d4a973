// Package merge blends historical candles with live aggregation output.
package merge

import (
	"sort"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
)

// DefaultLimit is the display window used when callers pass a non-positive limit.
const DefaultLimit = 200

// Merge combines historical and live series for one key.
// On a bucket-time collision the live candle replaces the historical one and
// the two volumes are summed. Inputs need not be sorted. Candles and volumes
// are each truncated to the most recent limit entries.
func Merge(histCandles []domain.Candle, histVolumes []domain.VolumeBucket,
	liveCandles []domain.Candle, liveVolumes []domain.VolumeBucket, limit int) domain.MergedSeries {
	if limit <= 0 {
		limit = DefaultLimit
	}

	candles := mergeCandles(histCandles, liveCandles)
	volumes := mergeVolumes(histVolumes, liveVolumes)

	// Colors follow the merged candle at the same time.
	byTime := make(map[int64]domain.Candle, len(candles))
	for _, c := range candles {
		byTime[c.Time] = c
	}
	for i := range volumes {
		if c, ok := byTime[volumes[i].Time]; ok {
			volumes[i].Color = domain.ColorFor(c)
		} else {
			volumes[i].Color = domain.ColorNeutral
		}
	}

	return domain.MergedSeries{
		Candles: lastN(candles, limit),
		Volumes: lastN(volumes, limit),
	}
}

func mergeCandles(hist, live []domain.Candle) []domain.Candle {
	merged := make(map[int64]domain.Candle, len(hist)+len(live))
	for _, c := range hist {
		merged[c.Time] = c
	}
	for _, c := range live {
		merged[c.Time] = c
	}

	out := make([]domain.Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func mergeVolumes(hist, live []domain.VolumeBucket) []domain.VolumeBucket {
	merged := make(map[int64]float64, len(hist)+len(live))
	for _, v := range hist {
		merged[v.Time] += v.Value
	}
	for _, v := range live {
		merged[v.Time] += v.Value
	}

	out := make([]domain.VolumeBucket, 0, len(merged))
	for t, v := range merged {
		out = append(out, domain.VolumeBucket{Time: t, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// LiveReader is the read side of the live aggregator.
type LiveReader interface {
	GetSeries(pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket)
	Table() *interval.Table
}

// Merger merges caller-supplied history with the aggregator's live data.
type Merger struct {
	live LiveReader
}

// NewMerger creates a Merger reading from live.
func NewMerger(live LiveReader) *Merger {
	return &Merger{live: live}
}

// MergeWithHistorical returns the merged series for (pair, label) and its stats.
// History is used for this call only and never retained.
func (m *Merger) MergeWithHistorical(histCandles []domain.Candle, histVolumes []domain.VolumeBucket,
	pair, label string, limit int, quote domain.Quote) (domain.MergedSeries, domain.PairStats) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	// The newest limit merged buckets are drawn from at most the newest limit
	// buckets of each side, so the live read can be bounded by limit.
	liveCandles, liveVolumes := m.live.GetSeries(pair, label, limit)
	series := Merge(histCandles, histVolumes, liveCandles, liveVolumes, limit)
	stats := ComputeStats(series, m.live.Table().CandlesPerDay(label), quote)
	return series, stats
}
