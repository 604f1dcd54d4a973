// Package main runs the candle service: ingestion from the configured swap
// feeds, live aggregation, and the HTTP API with its SSE and websocket feeds.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dex-candles/internal/config"
	"dex-candles/internal/logger"
)

// flagEnv maps flags to the environment variable they override.
var flagEnv = map[string]string{
	"addr":        "HTTP_ADDR",
	"feed":        "FEED_MODES",
	"history":     "HISTORY_SOURCE",
	"pairs-file":  "PAIRS_FILE",
	"use-memory":  "USE_MEMORY",
	"log-level":   "LOG_LEVEL",
	"log-format":  "LOG_FORMAT",
	"ws-endpoint": "BSC_WS_ENDPOINT",
}

type options struct {
	envFile    string
	addr       string
	feed       string
	history    string
	pairsFile  string
	useMemory  bool
	logLevel   string
	logFormat  string
	wsEndpoint string
	backfill   time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "server",
		Short:        "Aggregate DEX swaps into candles and serve them over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg, opts.backfill)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.envFile, "env-file", "", "env file loaded before the environment (default .env when present)")
	f.StringVar(&opts.addr, "addr", "", "HTTP listen address (HTTP_ADDR)")
	f.StringVar(&opts.feed, "feed", "", "comma-separated feeds: bsc, kafka, simulated (FEED_MODES)")
	f.StringVar(&opts.history, "history", "", "history source: archive, clickhouse, subgraph, synthetic, none (HISTORY_SOURCE)")
	f.StringVar(&opts.pairsFile, "pairs-file", "", "YAML or JSON pair watchlist (PAIRS_FILE)")
	f.BoolVar(&opts.useMemory, "use-memory", false, "use in-memory storage instead of PostgreSQL (USE_MEMORY)")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	f.StringVar(&opts.logFormat, "log-format", "", "json or console (LOG_FORMAT)")
	f.StringVar(&opts.wsEndpoint, "ws-endpoint", "", "BSC node websocket endpoint (BSC_WS_ENDPOINT)")
	f.DurationVar(&opts.backfill, "backfill", 0, "archive subgraph swaps of the top pairs for this lookback at startup")

	return cmd
}

// loadConfig applies changed flags to the environment, then loads and
// validates the configuration.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	values := map[string]string{
		"addr":        opts.addr,
		"feed":        opts.feed,
		"history":     opts.history,
		"pairs-file":  opts.pairsFile,
		"use-memory":  strconv.FormatBool(opts.useMemory),
		"log-level":   opts.logLevel,
		"log-format":  opts.logFormat,
		"ws-endpoint": opts.wsEndpoint,
	}
	for name, key := range flagEnv {
		if !cmd.Flags().Changed(name) {
			continue
		}
		if err := os.Setenv(key, values[name]); err != nil {
			return nil, fmt.Errorf("apply --%s: %w", name, err)
		}
	}
	return config.LoadFile(opts.envFile)
}

func run(cfg *config.Config, backfill time.Duration) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		case <-done:
			return
		}
		cancel()

		// A second signal or a stuck shutdown forces exit.
		select {
		case sig := <-sigCh:
			log.Warn("received second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	srv, err := newServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	err = srv.Run(ctx, backfill)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}

	log.Info("shutdown complete")
	return nil
}
