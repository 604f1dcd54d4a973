package domain

import "testing"

func TestColorFor(t *testing.T) {
	tests := []struct {
		name   string
		candle Candle
		want   Color
	}{
		{"close above open", Candle{Open: 1, Close: 2}, ColorUp},
		{"close below open", Candle{Open: 2, Close: 1}, ColorDown},
		{"flat", Candle{Open: 1.5, Close: 1.5}, ColorNeutral},
		{"zero candle", Candle{}, ColorNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ColorFor(tt.candle); got != tt.want {
				t.Errorf("ColorFor() = %s, want %s", got, tt.want)
			}
		})
	}
}
