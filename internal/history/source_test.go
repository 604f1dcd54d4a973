package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
	"dex-candles/internal/storage/memory"
)

// nowMs sits 30s into the 1m bucket starting at 1_700_000_040_000.
const nowMs = int64(1_700_000_070_000)

func fixedNow() time.Time { return time.UnixMilli(nowMs) }

func TestArchive_Fetch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSwapStore()
	_, err := store.InsertBulk(ctx, []*domain.SwapEvent{
		{PairID: "p", TimestampMs: 1_699_999_000_000, Price: 1, Volume: 1, TxHash: "0x0"},
		{PairID: "p", TimestampMs: 1_699_999_930_000, Price: 10, Volume: 1, TxHash: "0x1"},
		{PairID: "p", TimestampMs: 1_700_000_045_000, Price: 12, Volume: 2, TxHash: "0x2"},
		{PairID: "p", TimestampMs: 1_700_000_050_000, Price: 11, Volume: 3, TxHash: "0x3"},
		{PairID: "q", TimestampMs: 1_700_000_050_000, Price: 99, Volume: 3, TxHash: "0x4"},
	})
	require.NoError(t, err)

	src := NewArchive(interval.Default(), store)
	src.now = fixedNow

	c, v, err := src.Fetch(ctx, "p", "1m", 3)
	require.NoError(t, err)
	require.Len(t, c, 2)
	require.Len(t, v, 2)

	assert.Equal(t, domain.Candle{Time: 1_699_999_920, Open: 10, High: 10, Low: 10, Close: 10}, c[0])
	assert.Equal(t, domain.Candle{Time: 1_700_000_040, Open: 12, High: 12, Low: 11, Close: 11}, c[1])
	assert.InDelta(t, 5.0, v[1].Value, 1e-9)
	assert.Equal(t, domain.ColorDown, v[1].Color)
}

type stubQuerier struct {
	gotDuration   int64
	gotStart, end int64
	err           error
}

func (s *stubQuerier) QueryCandles(_ context.Context, _ string, durationMs int64, start, end int64, limit int) ([]domain.Candle, []domain.VolumeBucket, error) {
	s.gotDuration, s.gotStart, s.end = durationMs, start, end
	if s.err != nil {
		return nil, nil, s.err
	}
	return []domain.Candle{{Time: start / 1000, Open: 1, High: 1, Low: 1, Close: 1}}, []domain.VolumeBucket{{Time: start / 1000, Value: 2}}, nil
}

func TestClickHouse_Fetch(t *testing.T) {
	q := &stubQuerier{}
	src := NewClickHouse(interval.Default(), q)
	src.now = fixedNow

	c, _, err := src.Fetch(context.Background(), "p", "1m", 3)
	require.NoError(t, err)
	require.Len(t, c, 1)
	assert.Equal(t, interval.Minute, q.gotDuration)
	assert.Equal(t, int64(1_699_999_920_000), q.gotStart)
	assert.Equal(t, nowMs, q.end)

	q.err = errors.New("connection refused")
	_, _, err = src.Fetch(context.Background(), "p", "1m", 3)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

type stubFetcher struct {
	since  int64
	events []domain.SwapEvent
	err    error
}

func (s *stubFetcher) Swaps(_ context.Context, _ string, sinceSec int64, _ int) ([]domain.SwapEvent, error) {
	s.since = sinceSec
	return s.events, s.err
}

func TestSubgraph_Fetch(t *testing.T) {
	f := &stubFetcher{events: []domain.SwapEvent{
		{PairID: "p", TimestampMs: 1_700_000_050_000, Price: 3, Volume: 1},
		{PairID: "p", TimestampMs: 1_700_000_041_000, Price: 2, Volume: 1},
	}}
	src := NewSubgraph(interval.Default(), f)
	src.now = fixedNow

	c, v, err := src.Fetch(context.Background(), "p", "1m", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1_699_999_920), f.since)
	require.Len(t, c, 1)
	assert.Equal(t, 2.0, c[0].Open, "events are re-sorted before bucketing")
	assert.Equal(t, 3.0, c[0].Close)
	assert.InDelta(t, 2.0, v[0].Value, 1e-9)

	f.err = domain.ErrUpstreamUnavailable
	_, _, err = src.Fetch(context.Background(), "p", "1m", 3)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestNew(t *testing.T) {
	table := interval.Default()

	src, err := New(KindSynthetic, table, Deps{})
	require.NoError(t, err)
	assert.IsType(t, &Synthetic{}, src)

	src, err = New(KindNone, table, Deps{})
	require.NoError(t, err)
	c, v, err := src.Fetch(context.Background(), "p", "1h", 10)
	assert.NoError(t, err)
	assert.Empty(t, c)
	assert.Empty(t, v)

	_, err = New(KindArchive, table, Deps{})
	assert.Error(t, err)
	_, err = New("oracle", table, Deps{})
	assert.Error(t, err)

	src, err = New(KindArchive, table, Deps{Swaps: memory.NewSwapStore()})
	require.NoError(t, err)
	assert.IsType(t, &Archive{}, src)
}

func TestOverlapsLive(t *testing.T) {
	table := interval.Default()

	assert.True(t, OverlapsLive(NewArchive(table, memory.NewSwapStore())))
	assert.True(t, OverlapsLive(NewClickHouse(table, &stubQuerier{})))
	assert.True(t, OverlapsLive(NewSubgraph(table, &stubFetcher{})))
	assert.False(t, OverlapsLive(NewSynthetic(table)))
	assert.False(t, OverlapsLive(Empty{}))
}

func TestBefore(t *testing.T) {
	c := []domain.Candle{{Time: 0}, {Time: 60}, {Time: 120}}
	v := []domain.VolumeBucket{{Time: 0, Value: 1}, {Time: 60, Value: 2}, {Time: 120, Value: 3}}

	gotC, gotV := Before(c, v, 60_000)
	assert.Equal(t, []domain.Candle{{Time: 0}}, gotC)
	assert.Equal(t, []domain.VolumeBucket{{Time: 0, Value: 1}}, gotV)

	gotC, gotV = Before(c, v, 0)
	assert.Empty(t, gotC)
	assert.Empty(t, gotV)
	assert.Len(t, c, 3, "input untouched")
}
