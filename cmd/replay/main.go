// Package main re-aggregates archived swaps of one pair into candles and
// prints them as a table, JSON or CSV.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dex-candles/internal/domain"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/interval"
	"dex-candles/internal/replay"
	"dex-candles/internal/storage"
	chstore "dex-candles/internal/storage/clickhouse"
	"dex-candles/internal/storage/memory"
	pgstore "dex-candles/internal/storage/postgres"
	"dex-candles/internal/subgraph"
)

type options struct {
	pair          string
	interval      string
	from          string
	to            string
	archive       string
	postgresDSN   string
	clickhouseDSN string
	subgraphURL   string
	format        string
	limit         int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "replay",
		Short:        "Rebuild candles for a pair from archived swaps",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.pair, "pair", "", "pair contract address (required)")
	f.StringVar(&opts.interval, "interval", "1h", "bucket interval")
	f.StringVar(&opts.from, "from", "", "start time, RFC3339 (requires --to)")
	f.StringVar(&opts.to, "to", "", "end time, RFC3339 (requires --from)")
	f.StringVar(&opts.archive, "archive", "postgres", "swap archive: postgres, clickhouse or subgraph")
	f.StringVar(&opts.postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	f.StringVar(&opts.clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	f.StringVar(&opts.subgraphURL, "subgraph-url", subgraph.DefaultURL, "subgraph endpoint for --archive subgraph")
	f.StringVar(&opts.format, "format", "table", "output format: table, json or csv")
	f.IntVar(&opts.limit, "limit", 0, "print only the newest n buckets (0 prints all)")
	_ = cmd.MarkFlagRequired("pair")

	return cmd
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) error {
	from, to, err := parseRange(opts.from, opts.to)
	if err != nil {
		return err
	}

	pair := strings.ToLower(strings.TrimSpace(opts.pair))
	engine, err := replay.NewCandleEngine(interval.Default(), pair, opts.interval)
	if err != nil {
		return err
	}

	store, cleanup, err := openArchive(ctx, opts, pair, from)
	if err != nil {
		return err
	}
	defer cleanup()

	start := time.Now()
	n, err := replay.NewRunner(store).Run(ctx, pair, from, to, engine)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	fmt.Fprintf(stderr, "replayed %d swaps of %s in %v\n", n, pair, time.Since(start).Round(time.Millisecond))

	c, v := engine.Series(opts.limit)
	return printSeries(stdout, opts.format, engine.Stats(), c, v)
}

// parseRange returns the replay window in ms. Both bounds or neither must be
// given; neither replays everything.
func parseRange(from, to string) (int64, int64, error) {
	if from == "" && to == "" {
		return 0, time.Now().UnixMilli(), nil
	}
	if from == "" || to == "" {
		return 0, 0, fmt.Errorf("--from and --to must be given together")
	}
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return 0, 0, fmt.Errorf("parse --from: %w", err)
	}
	t, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return 0, 0, fmt.Errorf("parse --to: %w", err)
	}
	return f.UnixMilli(), t.UnixMilli(), nil
}

// openArchive opens the swap store to replay from. The subgraph archive is
// fetched into memory first.
func openArchive(ctx context.Context, opts options, pair string, fromMs int64) (storage.SwapStore, func(), error) {
	switch opts.archive {
	case "postgres":
		if opts.postgresDSN == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required for the postgres archive")
		}
		pool, err := pgstore.NewPool(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return pgstore.NewSwapStore(pool), pool.Close, nil

	case "clickhouse":
		if opts.clickhouseDSN == "" {
			return nil, nil, fmt.Errorf("--clickhouse-dsn is required for the clickhouse archive")
		}
		conn, err := chstore.NewConn(ctx, opts.clickhouseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		return chstore.NewSwapStore(conn), func() { conn.Close() }, nil

	case "subgraph":
		store := memory.NewSwapStore()
		client := subgraph.New(opts.subgraphURL)
		manager := ingestion.NewManager(ingestion.ManagerOptions{
			SwapSource: client,
			SwapStores: []storage.SwapStore{store},
		})
		if _, err := manager.IngestSwaps(ctx, pair, fromMs/1000, 1000); err != nil {
			return nil, nil, fmt.Errorf("fetch subgraph swaps: %w", err)
		}
		return store, func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown archive %q", opts.archive)
	}
}

func printSeries(w io.Writer, format string, stats replay.Stats, c []domain.Candle, v []domain.VolumeBucket) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Stats   replay.Stats          `json:"stats"`
			Candles []domain.Candle       `json:"candles"`
			Volumes []domain.VolumeBucket `json:"volume"`
		}{stats, c, v})

	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume", "color"}); err != nil {
			return err
		}
		for i, candle := range c {
			if err := cw.Write(csvRow(candle, volumeAt(v, i))); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case "table":
		fmt.Fprintf(w, "%-20s %14s %14s %14s %14s %16s\n", "TIME", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
		for i, candle := range c {
			fmt.Fprintf(w, "%-20s %14.6g %14.6g %14.6g %14.6g %16.6g\n",
				time.Unix(candle.Time, 0).UTC().Format("2006-01-02 15:04:05"),
				candle.Open, candle.High, candle.Low, candle.Close, volumeAt(v, i).Value)
		}
		fmt.Fprintf(w, "\n%d buckets from %d swaps (%d rejected)\n", stats.Buckets, stats.TotalEvents, stats.Rejected)
		return nil

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// volumeAt returns the volume paired with candle i. Both series share bucket times.
func volumeAt(v []domain.VolumeBucket, i int) domain.VolumeBucket {
	if i < len(v) {
		return v[i]
	}
	return domain.VolumeBucket{}
}

func csvRow(c domain.Candle, v domain.VolumeBucket) []string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	return []string{
		strconv.FormatInt(c.Time, 10),
		f(c.Open), f(c.High), f(c.Low), f(c.Close),
		f(v.Value),
		string(v.Color),
	}
}
