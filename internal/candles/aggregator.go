// Package candles aggregates swap events into OHLC candles and volume buckets
// per (pair, interval).
package candles

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
)

// Ingest errors. Both are transient stream faults: the event is dropped.
var (
	ErrInvalidEvent = fmt.Errorf("%w: invalid swap event", domain.ErrTransientStreamFault)
	ErrLateEvent    = fmt.Errorf("%w: event outside late grace window", domain.ErrTransientStreamFault)
)

// Options configures an Aggregator.
type Options struct {
	// MaxBucketsPerSeries caps the buckets kept per key by Compact. 0 keeps everything.
	MaxBucketsPerSeries int
	// LateBucketLimit rejects events landing more than this many buckets behind
	// the newest bucket of their series. 0 accepts any late event.
	LateBucketLimit int
}

// partition is the paired state of one series key.
type partition struct {
	mu      sync.RWMutex
	candles *CandleSeries
	volumes *VolumeSeries
}

// Aggregator owns all live candle and volume state.
// Writes to one key never block reads or writes of another key.
type Aggregator struct {
	table *interval.Table
	opts  Options

	mu         sync.RWMutex
	partitions map[domain.SeriesKey]*partition
}

// NewAggregator creates an aggregator bucketing by table.
func NewAggregator(table *interval.Table, opts Options) *Aggregator {
	if table == nil {
		table = interval.Default()
	}
	return &Aggregator{
		table:      table,
		opts:       opts,
		partitions: make(map[domain.SeriesKey]*partition),
	}
}

// Table returns the interval table used for bucketing.
func (a *Aggregator) Table() *interval.Table {
	return a.table
}

// Ingest applies one event to the (event.PairID, label) series.
func (a *Aggregator) Ingest(event domain.SwapEvent, label string) error {
	_, _, err := a.Apply(event, label)
	return err
}

// Apply ingests one event and returns the updated candle and volume bucket,
// read in the same critical section as the write.
func (a *Aggregator) Apply(event domain.SwapEvent, label string) (domain.Candle, domain.VolumeBucket, error) {
	if err := validateEvent(event); err != nil {
		return domain.Candle{}, domain.VolumeBucket{}, err
	}

	duration := a.table.DurationMillis(label)
	start := interval.BucketStart(event.TimestampMs, duration)
	p := a.partition(domain.SeriesKey{PairID: event.PairID, Interval: label}, true)

	p.mu.Lock()
	defer p.mu.Unlock()

	if a.opts.LateBucketLimit > 0 {
		if last, ok := p.candles.LastStart(); ok && start < last-int64(a.opts.LateBucketLimit)*duration {
			return domain.Candle{}, domain.VolumeBucket{}, ErrLateEvent
		}
	}

	candle := p.candles.Upsert(start, event.Price)
	value := p.volumes.Upsert(start, event.Volume)

	return candle, domain.VolumeBucket{
		Time:  candle.Time,
		Value: value,
		Color: domain.ColorFor(candle),
	}, nil
}

// GetCandles returns the most recent limit candles, ascending. A non-positive
// limit returns nothing.
func (a *Aggregator) GetCandles(pair, label string, limit int) []domain.Candle {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil || limit <= 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candles.Query(limit)
}

// GetVolumes returns the most recent limit volume buckets, ascending and colored
// by their paired candle.
func (a *Aggregator) GetVolumes(pair, label string, limit int) []domain.VolumeBucket {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil || limit <= 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	volumes := p.volumes.Query(limit)
	for i := range volumes {
		volumes[i].Color = p.colorAt(volumes[i].Time)
	}
	return volumes
}

// GetSeries returns candles and volumes read under one lock, so both sides
// reflect the same set of ingested events.
func (a *Aggregator) GetSeries(pair, label string, limit int) ([]domain.Candle, []domain.VolumeBucket) {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil || limit <= 0 {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	volumes := p.volumes.Query(limit)
	for i := range volumes {
		volumes[i].Color = p.colorAt(volumes[i].Time)
	}
	return p.candles.Query(limit), volumes
}

// FirstBucketStart returns the start in ms of the oldest live bucket of a series.
func (a *Aggregator) FirstBucketStart(pair, label string) (int64, bool) {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil {
		return 0, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candles.FirstStart()
}

// GetLatestCandle returns the newest candle of a series.
func (a *Aggregator) GetLatestCandle(pair, label string) (domain.Candle, bool) {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil {
		return domain.Candle{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candles.Latest()
}

// GetLatestVolume returns the newest colored volume bucket of a series.
func (a *Aggregator) GetLatestVolume(pair, label string) (domain.VolumeBucket, bool) {
	p := a.partition(domain.SeriesKey{PairID: pair, Interval: label}, false)
	if p == nil {
		return domain.VolumeBucket{}, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.volumes.Latest()
	if ok {
		v.Color = p.colorAt(v.Time)
	}
	return v, ok
}

// Compact trims every series to MaxBucketsPerSeries, oldest first.
// Returns the number of candle buckets dropped.
func (a *Aggregator) Compact() int {
	if a.opts.MaxBucketsPerSeries <= 0 {
		return 0
	}

	a.mu.RLock()
	parts := make([]*partition, 0, len(a.partitions))
	for _, p := range a.partitions {
		parts = append(parts, p)
	}
	a.mu.RUnlock()

	dropped := 0
	for _, p := range parts {
		p.mu.Lock()
		dropped += p.candles.TrimTo(a.opts.MaxBucketsPerSeries)
		p.volumes.TrimTo(a.opts.MaxBucketsPerSeries)
		p.mu.Unlock()
	}
	return dropped
}

// Keys returns all series keys with live data, sorted.
func (a *Aggregator) Keys() []domain.SeriesKey {
	a.mu.RLock()
	keys := make([]domain.SeriesKey, 0, len(a.partitions))
	for k := range a.partitions {
		keys = append(keys, k)
	}
	a.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PairID != keys[j].PairID {
			return keys[i].PairID < keys[j].PairID
		}
		return keys[i].Interval < keys[j].Interval
	})
	return keys
}

// BucketCount returns the total number of candle buckets held.
func (a *Aggregator) BucketCount() int {
	a.mu.RLock()
	parts := make([]*partition, 0, len(a.partitions))
	for _, p := range a.partitions {
		parts = append(parts, p)
	}
	a.mu.RUnlock()

	total := 0
	for _, p := range parts {
		p.mu.RLock()
		total += p.candles.Len()
		p.mu.RUnlock()
	}
	return total
}

// partition returns the state for key, creating it when create is set.
func (a *Aggregator) partition(key domain.SeriesKey, create bool) *partition {
	a.mu.RLock()
	p, ok := a.partitions[key]
	a.mu.RUnlock()
	if ok || !create {
		return p
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok = a.partitions[key]; ok {
		return p
	}
	p = &partition{
		candles: NewCandleSeries(),
		volumes: NewVolumeSeries(),
	}
	a.partitions[key] = p
	return p
}

// colorAt derives the volume color at timeSec. Caller holds p.mu.
func (p *partition) colorAt(timeSec int64) domain.Color {
	c, ok := p.candles.Get(timeSec * 1000)
	if !ok {
		return domain.ColorNeutral
	}
	return domain.ColorFor(c)
}

func validateEvent(e domain.SwapEvent) error {
	switch {
	case e.PairID == "":
		return fmt.Errorf("%w: empty pair id", ErrInvalidEvent)
	case e.TimestampMs < 0:
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidEvent, e.TimestampMs)
	case !finiteNonNegative(e.Price):
		return fmt.Errorf("%w: price %v", ErrInvalidEvent, e.Price)
	case !finiteNonNegative(e.Volume):
		return fmt.Errorf("%w: volume %v", ErrInvalidEvent, e.Volume)
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
