// Package main follows a running server's live feed for one pair and
// interval and prints every update.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/logger"
	"dex-candles/internal/stream"
)

type options struct {
	url       string
	pair      string
	interval  string
	jsonLines bool
	reconnect time.Duration
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:          "watch",
		Short:        "Print live candle, volume and stats updates from a server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://localhost:8080/api/ws", "server websocket feed")
	f.StringVar(&opts.pair, "pair", "", "pair contract address (required)")
	f.StringVar(&opts.interval, "interval", "1m", "candle interval")
	f.BoolVar(&opts.jsonLines, "json", false, "print raw JSON messages, one per line")
	f.DurationVar(&opts.reconnect, "reconnect", 5*time.Second, "delay before reconnecting")
	f.StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	_ = cmd.MarkFlagRequired("pair")

	return cmd
}

func run(ctx context.Context, opts options, out io.Writer) error {
	log, err := logger.New(logger.Config{Level: opts.logLevel, Format: "console"})
	if err != nil {
		return err
	}
	defer log.Sync()

	key := domain.SeriesKey{PairID: strings.ToLower(strings.TrimSpace(opts.pair)), Interval: opts.interval}
	cfg := stream.DefaultClientConfig()
	cfg.ReconnectDelay = opts.reconnect
	cfg.Logger = log

	client, err := stream.NewClient(opts.url, key, &cfg)
	if err != nil {
		return err
	}

	log.Info("watching live feed", zap.String("url", opts.url), zap.String("series", key.String()))
	err = client.Run(ctx, func(msg stream.Message) {
		if opts.jsonLines {
			data, _ := json.Marshal(msg)
			fmt.Fprintln(out, string(data))
			return
		}
		fmt.Fprintln(out, format(msg))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// format renders one message as a single human-readable line.
func format(msg stream.Message) string {
	switch msg.Type {
	case stream.TypeConnected:
		return fmt.Sprintf("connected  %s %s", msg.Pair, msg.Interval)
	case stream.TypeCandle:
		c := msg.Candle
		return fmt.Sprintf("candle     %s  O %.6g  H %.6g  L %.6g  C %.6g",
			clock(c.Time), c.Open, c.High, c.Low, c.Close)
	case stream.TypeVolume:
		v := msg.Volume
		return fmt.Sprintf("volume     %s  %.6g  %s", clock(v.Time), v.Value, v.Color)
	case stream.TypeStats:
		s := msg.Stats
		return fmt.Sprintf("stats      last %.6g  24h %+.2f%%  vol %.6g  mcap %.6g",
			s.LastPrice, s.Change24h, s.Volume24h, s.MarketCap)
	default:
		return string(msg.Type)
	}
}

func clock(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04")
}
