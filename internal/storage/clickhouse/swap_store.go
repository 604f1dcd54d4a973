package clickhouse

import (
	"context"
	"fmt"
	"time"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// SwapStore implements storage.SwapStore using ClickHouse.
// Cross-batch duplicates are collapsed by ReplacingMergeTree; reads use FINAL.
type SwapStore struct {
	conn *Conn
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(conn *Conn) *SwapStore {
	return &SwapStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBulk appends swaps in one batch. Intra-batch duplicates are dropped
// before sending; the returned count is the number of rows sent.
func (s *SwapStore) InsertBulk(ctx context.Context, swaps []*domain.SwapEvent) (n int, err error) {
	if len(swaps) == 0 {
		return 0, nil
	}
	for _, swap := range swaps {
		if !storage.ValidSwap(swap) {
			return 0, storage.ErrInvalidInput
		}
	}

	defer func(start time.Time) { observe("swaps_insert", start, err) }(time.Now())

	type key struct {
		pairID   string
		txHash   string
		logIndex int
	}
	seen := make(map[key]struct{}, len(swaps))

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO swaps (
			pair_id, tx_hash, log_index, block_number, timestamp_ms, price, volume, source
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	for _, swap := range swaps {
		k := key{swap.PairID, swap.TxHash, swap.LogIndex}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		err = batch.Append(
			swap.PairID, swap.TxHash, uint32(swap.LogIndex), uint64(swap.BlockNumber),
			uint64(swap.TimestampMs), swap.Price, swap.Volume, swap.Source,
		)
		if err != nil {
			return 0, fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}

	return len(seen), nil
}

// GetByTimeRange retrieves swaps for a pair within [start, end] (inclusive).
func (s *SwapStore) GetByTimeRange(ctx context.Context, pairID string, start, end int64) (_ []*domain.SwapEvent, err error) {
	defer func(t time.Time) { observe("swaps_range", t, err) }(time.Now())

	query := `
		SELECT pair_id, tx_hash, log_index, block_number, timestamp_ms, price, volume, source
		FROM swaps FINAL
		WHERE pair_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, log_index ASC
	`

	rows, err := s.conn.Query(ctx, query, pairID, clampUint(start), clampUint(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// QueryCandles computes OHLCV buckets of durationMs in SQL and returns the
// newest limit buckets in ascending order. Open and close are the earliest and
// latest trade by (timestamp, log index). Volume colors are left empty.
func (s *SwapStore) QueryCandles(ctx context.Context, pairID string, durationMs int64, start, end int64, limit int) (_ []domain.Candle, _ []domain.VolumeBucket, err error) {
	if durationMs <= 0 || limit <= 0 {
		return nil, nil, storage.ErrInvalidInput
	}
	defer func(t time.Time) { observe("candles", t, err) }(time.Now())

	query := `
		SELECT
			intDiv(timestamp_ms, ?) * ? AS bucket,
			argMin(price, (timestamp_ms, log_index)) AS open,
			max(price) AS high,
			min(price) AS low,
			argMax(price, (timestamp_ms, log_index)) AS close,
			sum(volume) AS volume
		FROM swaps FINAL
		WHERE pair_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		GROUP BY bucket
		ORDER BY bucket DESC
		LIMIT ?
	`

	d := uint64(durationMs)
	rows, err := s.conn.Query(ctx, query, d, d, pairID, clampUint(start), clampUint(end), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	var volumes []domain.VolumeBucket
	for rows.Next() {
		var bucket uint64
		var c domain.Candle
		var vol float64
		if err := rows.Scan(&bucket, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Time = int64(bucket) / 1000
		candles = append(candles, c)
		volumes = append(volumes, domain.VolumeBucket{Time: c.Time, Value: vol})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
		volumes[i], volumes[j] = volumes[j], volumes[i]
	}
	return candles, volumes, nil
}

// scanSwaps scans multiple rows.
func scanSwaps(rows chRows) ([]*domain.SwapEvent, error) {
	var swaps []*domain.SwapEvent

	for rows.Next() {
		var swap domain.SwapEvent
		var logIndex uint32
		var blockNumber, timestampMs uint64

		err := rows.Scan(
			&swap.PairID, &swap.TxHash, &logIndex, &blockNumber,
			&timestampMs, &swap.Price, &swap.Volume, &swap.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}

		swap.LogIndex = int(logIndex)
		swap.BlockNumber = int64(blockNumber)
		swap.TimestampMs = int64(timestampMs)
		swaps = append(swaps, &swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}

func clampUint(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
