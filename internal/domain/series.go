package domain

// SeriesKey identifies one independent aggregation partition.
type SeriesKey struct {
	PairID   string
	Interval string
}

// String returns "pair-interval".
func (k SeriesKey) String() string {
	return k.PairID + "-" + k.Interval
}

// MergedSeries is historical and live data for one key, deduplicated by
// bucket time, ascending and capped to a display window.
type MergedSeries struct {
	Candles []Candle       `json:"candles"`
	Volumes []VolumeBucket `json:"volume"`
}
