package domain

// Candle is one OHLC bucket. Time is the bucket start in Unix seconds.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Color is the display hint of a volume bucket.
type Color string

// Volume colors, serialized as the chart's hex values.
const (
	ColorUp      Color = "#10b981"
	ColorDown    Color = "#ef4444"
	ColorNeutral Color = "#6b7280"
)

// VolumeBucket is the summed trade volume of one bucket.
type VolumeBucket struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color Color   `json:"color"`
}

// ColorFor derives a volume color from the paired candle.
func ColorFor(c Candle) Color {
	switch {
	case c.Close > c.Open:
		return ColorUp
	case c.Close < c.Open:
		return ColorDown
	default:
		return ColorNeutral
	}
}
