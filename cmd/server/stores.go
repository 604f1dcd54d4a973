package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dex-candles/internal/storage"
	chstore "dex-candles/internal/storage/clickhouse"
	"dex-candles/internal/storage/memory"
	"dex-candles/internal/storage/migrations"
	pgstore "dex-candles/internal/storage/postgres"
)

// allStores holds the storage backends selected by configuration.
type allStores struct {
	pairs storage.PairStore
	swaps storage.SwapStore

	// analytics is the optional ClickHouse swap table. It doubles as the SQL
	// candle source.
	analytics *chstore.SwapStore
}

// archives returns every swap store the ingestion runner writes to.
func (s *allStores) archives() []storage.SwapStore {
	out := []storage.SwapStore{s.swaps}
	if s.analytics != nil {
		out = append(out, s.analytics)
	}
	return out
}

// createStores opens the pair registry and swap archive (memory or
// PostgreSQL) and, when clickhouseDSN is set, the ClickHouse swap table.
// Migrations run on open.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, log *zap.Logger) (*allStores, func(), error) {
	stores := &allStores{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if useMemory {
		stores.pairs = memory.NewPairStore()
		stores.swaps = memory.NewSwapStore()
		log.Info("using in-memory storage")
	} else {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		stores.pairs = pgstore.NewPairStore(pool)
		stores.swaps = pgstore.NewSwapStore(pool)
		log.Info("using postgres storage")
	}

	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("clickhouse: %w", err)
		}
		closers = append(closers, func() { conn.Close() })
		stores.analytics = chstore.NewSwapStore(conn)
		log.Info("clickhouse swap archive enabled")
	}

	return stores, cleanup, nil
}
