package stream

import (
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

// DefaultBuffer is the per-subscriber queue length in updates.
const DefaultBuffer = 64

// HubOptions configures a Hub.
type HubOptions struct {
	Buffer int // Default: 64
	Logger *zap.Logger
}

// Hub routes updates to the subscribers of each series key.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[domain.SeriesKey]map[string]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{
		buffer: opts.Buffer,
		logger: opts.Logger,
		subs:   make(map[domain.SeriesKey]map[string]*Subscription),
	}
}

// Subscription receives the updates of one series key.
type Subscription struct {
	ID  string
	Key domain.SeriesKey

	hub     *Hub
	ch      chan []Message
	once    sync.Once
	dropped atomic.Uint64
}

// Subscribe registers a subscriber for key. The first batch delivered is the
// connected message. On a closed hub the returned subscription is already closed.
func (h *Hub) Subscribe(key domain.SeriesKey) *Subscription {
	sub := &Subscription{
		ID:  ulid.Make().String(),
		Key: key,
		hub: h,
		ch:  make(chan []Message, h.buffer),
	}
	sub.ch <- []Message{Connected(key)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]*Subscription)
	}
	h.subs[key][sub.ID] = sub
	n := h.countLocked()
	h.mu.Unlock()

	observability.SetSubscribers(n)
	h.logger.Debug("subscribed",
		zap.String("subscription_id", sub.ID),
		zap.String("series", key.String()))
	return sub
}

// Publish delivers u to every subscriber of key without blocking. A subscriber
// whose queue is full misses this update. Returns the number of deliveries.
func (h *Hub) Publish(key domain.SeriesKey, u Update) int {
	msgs := u.Messages()
	if len(msgs) == 0 {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[key] {
		select {
		case sub.ch <- msgs:
			delivered++
		default:
			sub.dropped.Add(1)
			observability.RecordStreamDropped()
		}
	}
	return delivered
}

// HasSubscribers reports whether anyone is subscribed to key.
func (h *Hub) HasSubscribers(key domain.SeriesKey) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key]) > 0
}

// Count returns the number of live subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.countLocked()
}

// Close ends every subscription. Further subscriptions are closed on creation.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, subs := range h.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}

func (h *Hub) countLocked() int {
	n := 0
	for _, subs := range h.subs {
		n += len(subs)
	}
	return n
}

// Messages returns the update channel. It is closed by Close.
func (s *Subscription) Messages() <-chan []Message {
	return s.ch
}

// Dropped returns how many updates this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel.
// Safe to call more than once and from any goroutine.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if subs, ok := h.subs[s.Key]; ok {
			delete(subs, s.ID)
			if len(subs) == 0 {
				delete(h.subs, s.Key)
			}
		}
		n := h.countLocked()
		// Publish sends under the read lock.
		close(s.ch)
		h.mu.Unlock()

		observability.SetSubscribers(n)
		h.logger.Debug("unsubscribed",
			zap.String("subscription_id", s.ID),
			zap.String("series", s.Key.String()),
			zap.Uint64("dropped", s.dropped.Load()))
	})
}
