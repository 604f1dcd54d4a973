package ingestion

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"dex-candles/internal/domain"
)

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	Pairs      []string
	Tick       time.Duration // Default: 5s
	Volatility float64       // Default: 0.02
}

// Simulator emits a random-walk swap for every tracked pair on each tick.
// One simulator serves the whole process.
type Simulator struct {
	tick       time.Duration
	volatility float64
	now        func() time.Time
	rand       func() float64

	mu     sync.Mutex
	prices map[string]float64
}

// NewSimulator creates a Simulator tracking opts.Pairs.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Tick <= 0 {
		opts.Tick = 5 * time.Second
	}
	if opts.Volatility <= 0 {
		opts.Volatility = 0.02
	}
	s := &Simulator{
		tick:       opts.Tick,
		volatility: opts.Volatility,
		now:        time.Now,
		rand:       rand.Float64,
		prices:     make(map[string]float64),
	}
	for _, p := range opts.Pairs {
		s.Track(p)
	}
	return s
}

// Name returns "simulated".
func (s *Simulator) Name() string { return domain.SourceSimulated }

// Track adds pair to the walk. Already tracked pairs keep their price.
func (s *Simulator) Track(pair string) {
	pair = strings.ToLower(pair)
	if pair == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prices[pair]; !ok {
		s.prices[pair] = 100 + s.rand()*900
	}
}

// Subscribe starts the ticker. The channel closes when ctx ends.
func (s *Simulator) Subscribe(ctx context.Context) (<-chan domain.SwapEvent, error) {
	out := make(chan domain.SwapEvent, 64)

	go func() {
		defer close(out)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, event := range s.step() {
					select {
					case out <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// step advances every tracked pair by one swap, in pair order.
func (s *Simulator) step() []domain.SwapEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := make([]string, 0, len(s.prices))
	for p := range s.prices {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	ts := s.now().UnixMilli()
	events := make([]domain.SwapEvent, 0, len(pairs))
	for _, p := range pairs {
		price := s.prices[p] * (1 + (s.rand()-0.5)*s.volatility)
		if price <= 0 {
			price = s.prices[p]
		}
		s.prices[p] = price

		events = append(events, domain.SwapEvent{
			PairID:      p,
			TimestampMs: ts,
			Price:       price,
			Volume:      s.rand() * 10_000,
			TxHash:      "sim-" + strings.ToLower(ulid.Make().String()),
			Source:      domain.SourceSimulated,
		})
	}
	return events
}
