package candles

import (
	"sort"

	"dex-candles/internal/domain"
)

// timeIndex is an ascending list of bucket start times with no duplicates.
type timeIndex []int64

// insert adds t and keeps the index sorted. In-order arrivals append in O(1).
func (idx timeIndex) insert(t int64) timeIndex {
	n := len(idx)
	if n == 0 || t > idx[n-1] {
		return append(idx, t)
	}
	i := sort.Search(n, func(i int) bool { return idx[i] >= t })
	idx = append(idx, 0)
	copy(idx[i+1:], idx[i:])
	idx[i] = t
	return idx
}

// tail returns the last limit entries.
func (idx timeIndex) tail(limit int) []int64 {
	if limit <= 0 {
		return nil
	}
	if limit > len(idx) {
		limit = len(idx)
	}
	return idx[len(idx)-limit:]
}

// CandleSeries holds the OHLC buckets of one series key.
// It is not safe for concurrent use; the Aggregator serializes access.
type CandleSeries struct {
	buckets map[int64]*domain.Candle // keyed by bucket start ms
	times   timeIndex
}

// NewCandleSeries creates an empty series.
func NewCandleSeries() *CandleSeries {
	return &CandleSeries{buckets: make(map[int64]*domain.Candle)}
}

// Upsert applies a trade price to the bucket starting at bucketStartMs.
// A new bucket opens at price. Open is never changed afterwards.
func (s *CandleSeries) Upsert(bucketStartMs int64, price float64) domain.Candle {
	c, ok := s.buckets[bucketStartMs]
	if !ok {
		c = &domain.Candle{
			Time:  bucketStartMs / 1000,
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
		s.buckets[bucketStartMs] = c
		s.times = s.times.insert(bucketStartMs)
		return *c
	}

	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	return *c
}

// Get returns the bucket starting at bucketStartMs.
func (s *CandleSeries) Get(bucketStartMs int64) (domain.Candle, bool) {
	c, ok := s.buckets[bucketStartMs]
	if !ok {
		return domain.Candle{}, false
	}
	return *c, true
}

// Query returns the most recent limit buckets in ascending time order.
func (s *CandleSeries) Query(limit int) []domain.Candle {
	times := s.times.tail(limit)
	out := make([]domain.Candle, 0, len(times))
	for _, t := range times {
		out = append(out, *s.buckets[t])
	}
	return out
}

// Latest returns the most recent bucket.
func (s *CandleSeries) Latest() (domain.Candle, bool) {
	if len(s.times) == 0 {
		return domain.Candle{}, false
	}
	return *s.buckets[s.times[len(s.times)-1]], true
}

// FirstStart returns the start of the oldest bucket in ms.
func (s *CandleSeries) FirstStart() (int64, bool) {
	if len(s.times) == 0 {
		return 0, false
	}
	return s.times[0], true
}

// LastStart returns the start of the newest bucket in ms.
func (s *CandleSeries) LastStart() (int64, bool) {
	if len(s.times) == 0 {
		return 0, false
	}
	return s.times[len(s.times)-1], true
}

// Len returns the number of buckets.
func (s *CandleSeries) Len() int {
	return len(s.times)
}

// TrimTo drops the oldest buckets so at most n remain. Returns the number dropped.
func (s *CandleSeries) TrimTo(n int) int {
	drop := len(s.times) - n
	if n < 0 || drop <= 0 {
		return 0
	}
	for _, t := range s.times[:drop] {
		delete(s.buckets, t)
	}
	s.times = append(timeIndex(nil), s.times[drop:]...)
	return drop
}

// VolumeSeries holds the summed volume buckets of one series key.
// Colors are not stored; the Aggregator derives them on read.
type VolumeSeries struct {
	buckets map[int64]float64
	times   timeIndex
}

// NewVolumeSeries creates an empty series.
func NewVolumeSeries() *VolumeSeries {
	return &VolumeSeries{buckets: make(map[int64]float64)}
}

// Upsert adds amount to the bucket starting at bucketStartMs and returns the new total.
func (s *VolumeSeries) Upsert(bucketStartMs int64, amount float64) float64 {
	v, ok := s.buckets[bucketStartMs]
	if !ok {
		s.times = s.times.insert(bucketStartMs)
	}
	v += amount
	s.buckets[bucketStartMs] = v
	return v
}

// Query returns the most recent limit buckets in ascending time order, uncolored.
func (s *VolumeSeries) Query(limit int) []domain.VolumeBucket {
	times := s.times.tail(limit)
	out := make([]domain.VolumeBucket, 0, len(times))
	for _, t := range times {
		out = append(out, domain.VolumeBucket{Time: t / 1000, Value: s.buckets[t]})
	}
	return out
}

// Latest returns the most recent bucket, uncolored.
func (s *VolumeSeries) Latest() (domain.VolumeBucket, bool) {
	if len(s.times) == 0 {
		return domain.VolumeBucket{}, false
	}
	t := s.times[len(s.times)-1]
	return domain.VolumeBucket{Time: t / 1000, Value: s.buckets[t]}, true
}

// Len returns the number of buckets.
func (s *VolumeSeries) Len() int {
	return len(s.times)
}

// TrimTo drops the oldest buckets so at most n remain. Returns the number dropped.
func (s *VolumeSeries) TrimTo(n int) int {
	drop := len(s.times) - n
	if n < 0 || drop <= 0 {
		return 0
	}
	for _, t := range s.times[:drop] {
		delete(s.buckets, t)
	}
	s.times = append(timeIndex(nil), s.times[drop:]...)
	return drop
}
