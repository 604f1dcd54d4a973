package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBulk archives swaps in one transaction. Existing keys are skipped.
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO swaps (
			pair_id, tx_hash, log_index, block_number, timestamp_ms, price, volume, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (pair_id, tx_hash, log_index) DO NOTHING
	`

	inserted := 0
	for _, swap := range swaps {
		tag, err := tx.Exec(ctx, query,
			swap.PairID,
			swap.TxHash,
			swap.LogIndex,
			swap.BlockNumber,
			swap.TimestampMs,
			swap.Price,
			swap.Volume,
			swap.Source,
		)
		if err != nil {
			return 0, fmt.Errorf("insert swap in bulk: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return inserted, nil
}

// GetByTimeRange retrieves swaps for a pair within [start, end] (inclusive).
func (s *SwapStore) GetByTimeRange(ctx context.Context, pairID string, start, end int64) (_ []*domain.SwapEvent, err error) {
	defer func(t time.Time) { observe("swaps_range", t, err) }(time.Now())

	query := `
		SELECT pair_id, tx_hash, log_index, block_number, timestamp_ms, price, volume, source
		FROM swaps
		WHERE pair_id = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC, log_index ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, pairID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get swaps by time range: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// scanSwaps scans multiple rows into a slice of SwapEvent.
func scanSwaps(rows pgx.Rows) ([]*domain.SwapEvent, error) {
	var swaps []*domain.SwapEvent

	for rows.Next() {
		var swap domain.SwapEvent

		err := rows.Scan(
			&swap.PairID,
			&swap.TxHash,
			&swap.LogIndex,
			&swap.BlockNumber,
			&swap.TimestampMs,
			&swap.Price,
			&swap.Volume,
			&swap.Source,
		)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}

		swaps = append(swaps, &swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}
