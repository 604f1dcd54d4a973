package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
)

var key = domain.SeriesKey{PairID: "0xpair", Interval: "1m"}

func fullUpdate() Update {
	return Update{
		Candle: &domain.Candle{Time: 60, Open: 1, High: 2, Low: 1, Close: 2},
		Volume: &domain.VolumeBucket{Time: 60, Value: 3, Color: domain.ColorUp},
		Stats:  &domain.PairStats{LastPrice: 2},
	}
}

func TestHub_SubscribeStartsWithConnected(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe(key)
	defer sub.Close()

	batch := <-sub.Messages()
	require.Len(t, batch, 1)
	assert.Equal(t, TypeConnected, batch[0].Type)
	assert.Equal(t, "0xpair", batch[0].Pair)
	assert.Equal(t, "1m", batch[0].Interval)
	assert.NotEmpty(t, sub.ID)
}

func TestHub_PublishOrder(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe(key)
	defer sub.Close()
	<-sub.Messages()

	n := hub.Publish(key, fullUpdate())
	assert.Equal(t, 1, n)

	batch := <-sub.Messages()
	require.Len(t, batch, 3)
	assert.Equal(t, TypeCandle, batch[0].Type)
	assert.Equal(t, TypeVolume, batch[1].Type)
	assert.Equal(t, TypeStats, batch[2].Type)
}

func TestHub_PublishOnlyToKey(t *testing.T) {
	hub := NewHub(HubOptions{})
	a := hub.Subscribe(key)
	other := hub.Subscribe(domain.SeriesKey{PairID: "0xpair", Interval: "5m"})
	defer a.Close()
	defer other.Close()
	<-a.Messages()
	<-other.Messages()

	hub.Publish(key, fullUpdate())

	assert.Len(t, a.Messages(), 1)
	assert.Len(t, other.Messages(), 0)
}

func TestHub_EmptyUpdateIsNotSent(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe(key)
	defer sub.Close()
	<-sub.Messages()

	assert.Zero(t, hub.Publish(key, Update{}))
	assert.Len(t, sub.Messages(), 0)
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(HubOptions{Buffer: 2})
	slow := hub.Subscribe(key)
	fast := hub.Subscribe(key)
	defer slow.Close()
	defer fast.Close()
	<-fast.Messages()

	// slow still holds the connected batch; one slot left
	hub.Publish(key, fullUpdate())
	<-fast.Messages()
	hub.Publish(key, fullUpdate())

	assert.Equal(t, uint64(1), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Len(t, fast.Messages(), 1)
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe(key)
	assert.Equal(t, 1, hub.Count())

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, hub.Count())
	// drained channel is closed
	<-sub.Messages()
	_, ok := <-sub.Messages()
	assert.False(t, ok)

	// publishing after close must not panic
	assert.Zero(t, hub.Publish(key, fullUpdate()))
}

func TestSubscription_CloseLeavesOthers(t *testing.T) {
	hub := NewHub(HubOptions{})
	a := hub.Subscribe(key)
	b := hub.Subscribe(key)
	<-b.Messages()

	a.Close()
	hub.Publish(key, fullUpdate())

	assert.Len(t, b.Messages(), 1)
	b.Close()
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(HubOptions{})
	sub := hub.Subscribe(key)

	hub.Close()
	sub.Close()

	assert.Equal(t, 0, hub.Count())

	late := hub.Subscribe(key)
	<-late.Messages()
	_, ok := <-late.Messages()
	assert.False(t, ok)
	late.Close()
}

func TestHub_ConcurrentPublishAndClose(t *testing.T) {
	hub := NewHub(HubOptions{Buffer: 4})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(key)
			for j := 0; j < 10; j++ {
				select {
				case <-sub.Messages():
				default:
				}
			}
			sub.Close()
			sub.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.Publish(key, fullUpdate())
		}
	}()

	wg.Wait()
	assert.Equal(t, 0, hub.Count())
}

func TestHub_HasSubscribers(t *testing.T) {
	hub := NewHub(HubOptions{})
	assert.False(t, hub.HasSubscribers(key))

	sub := hub.Subscribe(key)
	assert.True(t, hub.HasSubscribers(key))
	assert.False(t, hub.HasSubscribers(domain.SeriesKey{PairID: "0xpair", Interval: "5m"}))

	sub.Close()
	assert.False(t, hub.HasSubscribers(key))
}
