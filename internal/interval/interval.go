// Package interval maps candle interval labels to bucket durations.
package interval

import (
	"fmt"
	"sort"
)

// Known interval durations in milliseconds.
const (
	Minute = int64(60_000)
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
)

// DefaultLabel is the fallback for unknown labels.
const DefaultLabel = "1h"

// known is the closed set of supported labels.
var known = map[string]int64{
	"1m":  Minute,
	"5m":  5 * Minute,
	"15m": 15 * Minute,
	"1h":  Hour,
	"4h":  4 * Hour,
	"1d":  Day,
	"1w":  Week,
}

// Table resolves labels to durations. It is immutable after construction.
type Table struct {
	durations    map[string]int64
	labels       []string
	defaultLabel string
}

// NewTable builds a table restricted to enabled labels. An empty enabled list
// enables every known label. defaultLabel must be enabled.
func NewTable(defaultLabel string, enabled []string) (*Table, error) {
	if len(enabled) == 0 {
		enabled = KnownLabels()
	}

	t := &Table{durations: make(map[string]int64, len(enabled))}
	for _, label := range enabled {
		d, ok := known[label]
		if !ok {
			return nil, fmt.Errorf("unknown interval %q", label)
		}
		t.durations[label] = d
	}
	if _, ok := t.durations[defaultLabel]; !ok {
		return nil, fmt.Errorf("default interval %q is not enabled", defaultLabel)
	}
	t.defaultLabel = defaultLabel

	for label := range t.durations {
		t.labels = append(t.labels, label)
	}
	sortByDuration(t.labels)

	return t, nil
}

// Default returns a table with every known label and the "1h" fallback.
func Default() *Table {
	t, err := NewTable(DefaultLabel, nil)
	if err != nil {
		panic(err)
	}
	return t
}

// DurationMillis returns the bucket width for label. Unknown labels return the
// default duration instead of failing; validate with IsValid first.
func (t *Table) DurationMillis(label string) int64 {
	if d, ok := t.durations[label]; ok {
		return d
	}
	return t.durations[t.defaultLabel]
}

// IsValid reports whether label is enabled in this table.
func (t *Table) IsValid(label string) bool {
	_, ok := t.durations[label]
	return ok
}

// Labels returns enabled labels, shortest first.
func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

// DefaultLabel returns the fallback label.
func (t *Table) DefaultLabel() string {
	return t.defaultLabel
}

// BucketStart returns the start of the bucket containing tsMillis.
func (t *Table) BucketStart(tsMillis int64, label string) int64 {
	return BucketStart(tsMillis, t.DurationMillis(label))
}

// CandlesPerDay returns how many buckets of label fit in 24 hours, at least 1.
func (t *Table) CandlesPerDay(label string) int {
	n := int(Day / t.DurationMillis(label))
	if n < 1 {
		return 1
	}
	return n
}

// BucketStart floors tsMillis to a multiple of durationMs.
// Negative timestamps floor toward negative infinity.
func BucketStart(tsMillis, durationMs int64) int64 {
	start := (tsMillis / durationMs) * durationMs
	if tsMillis < 0 && start != tsMillis {
		start -= durationMs
	}
	return start
}

// KnownLabels returns every supported label, shortest first.
func KnownLabels() []string {
	labels := make([]string, 0, len(known))
	for label := range known {
		labels = append(labels, label)
	}
	sortByDuration(labels)
	return labels
}

func sortByDuration(labels []string) {
	sort.Slice(labels, func(i, j int) bool {
		return known[labels[i]] < known[labels[j]]
	})
}
