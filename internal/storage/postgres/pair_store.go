package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// PairStore implements storage.PairStore using PostgreSQL.
type PairStore struct {
	pool *Pool
}

// NewPairStore creates a new PairStore.
func NewPairStore(pool *Pool) *PairStore {
	return &PairStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PairStore = (*PairStore)(nil)

const pairColumns = `address, token0, token1, token0_symbol, token1_symbol,
		token0_decimals, token1_decimals, volume_usd, reserve_usd, updated_at`

// Upsert inserts a pair or replaces the row with the same address.
func (s *PairStore) Upsert(ctx context.Context, p *domain.TradingPair) (err error) {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("pairs_upsert", start, err) }(time.Now())

	updatedAt := p.UpdatedAt
	if updatedAt == 0 {
		updatedAt = time.Now().UnixMilli()
	}

	query := `
		INSERT INTO pairs (` + pairColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			token0 = EXCLUDED.token0,
			token1 = EXCLUDED.token1,
			token0_symbol = EXCLUDED.token0_symbol,
			token1_symbol = EXCLUDED.token1_symbol,
			token0_decimals = EXCLUDED.token0_decimals,
			token1_decimals = EXCLUDED.token1_decimals,
			volume_usd = EXCLUDED.volume_usd,
			reserve_usd = EXCLUDED.reserve_usd,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		strings.ToLower(p.Address),
		strings.ToLower(p.Token0),
		strings.ToLower(p.Token1),
		p.Token0Symbol,
		p.Token1Symbol,
		p.Token0Decimals,
		p.Token1Decimals,
		p.VolumeUSD,
		p.ReserveUSD,
		updatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("upsert pair: %w", err)
	}
	return nil
}

// GetByAddress retrieves a pair by address. Returns ErrNotFound if not exists.
func (s *PairStore) GetByAddress(ctx context.Context, address string) (_ *domain.TradingPair, err error) {
	defer func(start time.Time) { observe("pairs_get", start, err) }(time.Now())

	query := `SELECT ` + pairColumns + ` FROM pairs WHERE address = $1`

	p, err := scanPair(s.pool.QueryRow(ctx, query, strings.ToLower(address)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pair by address: %w", err)
	}
	return p, nil
}

// List returns pairs ordered by volume_usd DESC.
func (s *PairStore) List(ctx context.Context, limit int) (_ []*domain.TradingPair, err error) {
	defer func(start time.Time) { observe("pairs_list", start, err) }(time.Now())

	query := `SELECT ` + pairColumns + ` FROM pairs ORDER BY volume_usd DESC, address ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.TradingPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pair row: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pair rows: %w", err)
	}
	return pairs, nil
}

func scanPair(row pgx.Row) (*domain.TradingPair, error) {
	var p domain.TradingPair
	err := row.Scan(
		&p.Address,
		&p.Token0,
		&p.Token1,
		&p.Token0Symbol,
		&p.Token1Symbol,
		&p.Token0Decimals,
		&p.Token1Decimals,
		&p.VolumeUSD,
		&p.ReserveUSD,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
