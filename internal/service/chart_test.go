package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/candles"
	"dex-candles/internal/domain"
	"dex-candles/internal/history"
	"dex-candles/internal/interval"
	"dex-candles/internal/storage/memory"
)

type stubHistory struct {
	candles []domain.Candle
	volumes []domain.VolumeBucket
	err     error
	delay   time.Duration
}

func (h *stubHistory) Fetch(ctx context.Context, _, _ string, _ int) ([]domain.Candle, []domain.VolumeBucket, error) {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return h.candles, h.volumes, h.err
}

type stubQuotes struct {
	quote domain.Quote
	err   error
}

func (q *stubQuotes) Quote(context.Context, string) (domain.Quote, error) {
	return q.quote, q.err
}

type recordingTracker struct{ pairs []string }

func (r *recordingTracker) Track(pair string) { r.pairs = append(r.pairs, pair) }

func newAgg() *candles.Aggregator {
	return candles.NewAggregator(interval.Default(), candles.Options{})
}

func TestGetChart_InvalidInput(t *testing.T) {
	svc := New(Options{Aggregator: newAgg()})

	for _, tc := range []struct{ pair, label string }{
		{"", "1m"},
		{"0xabc", ""},
		{"0xabc", "2m"},
	} {
		_, err := svc.GetChart(context.Background(), tc.pair, tc.label, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%q %q", tc.pair, tc.label)
	}
}

func TestGetChart_MergesLiveOverHistory(t *testing.T) {
	agg := newAgg()
	require.NoError(t, agg.Ingest(domain.SwapEvent{PairID: "0xabc", TimestampMs: 60_000, Price: 7, Volume: 1}, "1m"))

	tracker := &recordingTracker{}
	price := 8.0
	svc := New(Options{
		Aggregator: agg,
		History: &stubHistory{
			candles: []domain.Candle{{Time: 0, Open: 4, High: 5, Low: 4, Close: 5}, {Time: 60, Open: 5, High: 6, Low: 5, Close: 6}},
			volumes: []domain.VolumeBucket{{Time: 0, Value: 1}, {Time: 60, Value: 2}},
		},
		Quotes:  &stubQuotes{quote: domain.Quote{Price: &price, MarketCap: 1000}},
		Tracker: tracker,
	})

	chart, err := svc.GetChart(context.Background(), "0xABC", "1m", 0)
	require.NoError(t, err)

	require.Len(t, chart.Candles, 2)
	assert.Equal(t, 7.0, chart.Candles[1].Close, "live wins on collision")
	require.Len(t, chart.Volumes, 2)
	assert.InDelta(t, 3.0, chart.Volumes[1].Value, 1e-9, "volumes are summed")
	assert.Equal(t, 8.0, chart.Stats.LastPrice)
	assert.Equal(t, 1000.0, chart.Stats.MarketCap)
	assert.InDelta(t, 100.0, chart.Stats.Change24h, 1e-9)
	assert.Equal(t, []string{"0xabc"}, tracker.pairs)
}

func TestGetChart_DegradesOnUpstreamFailure(t *testing.T) {
	agg := newAgg()
	require.NoError(t, agg.Ingest(domain.SwapEvent{PairID: "p", TimestampMs: 0, Price: 3, Volume: 1}, "1h"))

	svc := New(Options{
		Aggregator:     agg,
		History:        &stubHistory{delay: time.Second},
		Quotes:         &stubQuotes{err: domain.ErrUpstreamUnavailable},
		HistoryTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	chart, err := svc.GetChart(context.Background(), "p", "1h", 50)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.Len(t, chart.Candles, 1)
	assert.Equal(t, 3.0, chart.Stats.LastPrice)
	assert.Zero(t, chart.Stats.MarketCap)
}

func TestGetChart_LimitCapped(t *testing.T) {
	agg := newAgg()
	for i := 0; i < 10; i++ {
		require.NoError(t, agg.Ingest(domain.SwapEvent{PairID: "p", TimestampMs: int64(i) * 60_000, Price: 1, Volume: 1}, "1m"))
	}
	svc := New(Options{Aggregator: agg, MergeLimit: 5})

	chart, err := svc.GetChart(context.Background(), "p", "1m", 100)
	require.NoError(t, err)
	assert.Len(t, chart.Candles, 5)

	chart, err = svc.GetChart(context.Background(), "p", "1m", 3)
	require.NoError(t, err)
	assert.Len(t, chart.Candles, 3)
}

func TestLiveStats_UsesFreshQuoteOnly(t *testing.T) {
	agg := newAgg()
	require.NoError(t, agg.Ingest(domain.SwapEvent{PairID: "p", TimestampMs: 120_000, Price: 10, Volume: 2}, "1m"))

	price := 12.0
	svc := New(Options{Aggregator: agg, Quotes: &stubQuotes{quote: domain.Quote{Price: &price, MarketCap: 50, FetchedAt: 60_000}}})
	_, err := svc.GetChart(context.Background(), "p", "1m", 0)
	require.NoError(t, err)

	stats := svc.LiveStats("p", "1m")
	assert.Equal(t, 10.0, stats.LastPrice, "quote older than the newest candle")
	assert.Equal(t, 50.0, stats.MarketCap)
	assert.InDelta(t, 2.0, stats.Volume24h, 1e-9)
}

func TestGetChart_ArchivedLiveSwapCountedOnce(t *testing.T) {
	ctx := context.Background()
	agg := newAgg()
	store := memory.NewSwapStore()

	now := time.Now().UnixMilli()
	older := domain.SwapEvent{PairID: "p", TimestampMs: now - 10*60_000, Price: 4, Volume: 1, TxHash: "0xold"}
	live := domain.SwapEvent{PairID: "p", TimestampMs: now, Price: 5, Volume: 5, TxHash: "0xlive"}

	// The runner aggregates a swap and archives the same swap.
	require.NoError(t, agg.Ingest(live, "1m"))
	_, err := store.InsertBulk(ctx, []*domain.SwapEvent{&older, &live})
	require.NoError(t, err)

	svc := New(Options{Aggregator: agg, History: history.NewArchive(interval.Default(), store)})

	chart, err := svc.GetChart(ctx, "p", "1m", 20)
	require.NoError(t, err)

	require.Len(t, chart.Candles, 2)
	require.Len(t, chart.Volumes, 2)
	assert.Equal(t, 4.0, chart.Candles[0].Open)
	assert.InDelta(t, 1.0, chart.Volumes[0].Value, 1e-9)
	assert.InDelta(t, 5.0, chart.Volumes[1].Value, 1e-9)
	assert.InDelta(t, 6.0, chart.Stats.Volume24h, 1e-9)
}

func TestLiveStats_FoldsInLastHistory(t *testing.T) {
	agg := newAgg()
	require.NoError(t, agg.Ingest(domain.SwapEvent{PairID: "p", TimestampMs: 120_000, Price: 12, Volume: 2}, "1m"))

	svc := New(Options{Aggregator: agg, History: &stubHistory{
		candles: []domain.Candle{{Time: 0, Open: 10, High: 10, Low: 10, Close: 10}, {Time: 60, Open: 10, High: 11, Low: 10, Close: 11}},
		volumes: []domain.VolumeBucket{{Time: 0, Value: 1}, {Time: 60, Value: 3}},
	}})

	before := svc.LiveStats("p", "1m")
	assert.Zero(t, before.Change24h)
	assert.InDelta(t, 2.0, before.Volume24h, 1e-9)

	chart, err := svc.GetChart(context.Background(), "p", "1m", 0)
	require.NoError(t, err)

	stats := svc.LiveStats("p", "1m")
	assert.Equal(t, chart.Stats, stats)
	assert.InDelta(t, 20.0, stats.Change24h, 1e-9)
	assert.InDelta(t, 6.0, stats.Volume24h, 1e-9)
}

func TestPairs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPairStore()
	require.NoError(t, store.Upsert(ctx, &domain.TradingPair{Address: "0xa", VolumeUSD: 1}))
	require.NoError(t, store.Upsert(ctx, &domain.TradingPair{Address: "0xb", VolumeUSD: 2}))

	pairs, err := New(Options{Aggregator: newAgg(), Pairs: store}).Pairs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "0xb", pairs[0].Address)

	pairs, err = New(Options{Aggregator: newAgg()}).Pairs(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, pairs)
	assert.Empty(t, pairs)
}

func TestValidateKey(t *testing.T) {
	svc := New(Options{Aggregator: newAgg()})
	key, err := svc.ValidateKey(" 0xAbC ", "5m")
	require.NoError(t, err)
	assert.Equal(t, domain.SeriesKey{PairID: "0xabc", Interval: "5m"}, key)

	_, err = svc.ValidateKey("0xabc", "3h")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
