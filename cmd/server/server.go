package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dex-candles/internal/api"
	"dex-candles/internal/bsc"
	"dex-candles/internal/candles"
	"dex-candles/internal/config"
	"dex-candles/internal/domain"
	"dex-candles/internal/history"
	"dex-candles/internal/ingestion"
	"dex-candles/internal/logger"
	"dex-candles/internal/market"
	"dex-candles/internal/service"
	"dex-candles/internal/stream"
	"dex-candles/internal/subgraph"
)

// Server holds all components of the service.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	stores    *allStores
	watchlist []domain.TradingPair
	subgraph  *subgraph.Client
	rpc       *bsc.HTTPClient
	manager   *ingestion.Manager

	hub    *stream.Hub
	runner *ingestion.Runner
	api    *api.Server

	closers []func()
}

// newServer connects storage and upstreams and wires every component.
func newServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	stores, cleanup, err := createStores(ctx, cfg.PostgresDSN, cfg.ClickhouseDSN, cfg.UseMemory, log)
	if err != nil {
		return nil, err
	}
	s.stores = stores
	s.closers = append(s.closers, cleanup)

	if cfg.PairsFile != "" {
		if s.watchlist, err = config.LoadWatchlist(cfg.PairsFile); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.subgraph = subgraph.New(cfg.Subgraph.URL, subgraph.WithTimeout(cfg.Subgraph.Timeout))
	s.rpc = bsc.NewHTTPClient(cfg.BSC.RPCEndpoint, bsc.WithTimeout(cfg.BSC.RPCTimeout))
	s.manager = ingestion.NewManager(ingestion.ManagerOptions{
		SwapSource: s.subgraph,
		PairSource: s.subgraph,
		SwapStores: stores.archives(),
		PairStore:  stores.pairs,
	})

	s.syncPairs(ctx)
	tracked, err := s.trackedPairs(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	table, err := cfg.IntervalTable()
	if err != nil {
		s.Close()
		return nil, err
	}
	agg := candles.NewAggregator(table, candles.Options{
		MaxBucketsPerSeries: cfg.Agg.MaxBuckets,
		LateBucketLimit:     cfg.Agg.LateBuckets,
	})
	s.hub = stream.NewHub(stream.HubOptions{
		Buffer: cfg.HTTP.StreamBuffer,
		Logger: logger.Named(log, "hub"),
	})

	hist, err := history.New(cfg.History.Source, table, s.historyDeps())
	if err != nil {
		s.Close()
		return nil, err
	}

	sources, sim, err := s.eventSources(ctx, tracked)
	if err != nil {
		s.Close()
		return nil, err
	}

	chartOpts := service.Options{
		Aggregator:     agg,
		History:        hist,
		Quotes:         s.quoteSource(),
		Pairs:          stores.pairs,
		MergeLimit:     cfg.Agg.MergeLimit,
		HistoryTimeout: cfg.History.Timeout,
		QuoteTimeout:   cfg.Market.Timeout,
		Logger:         logger.Named(log, "chart"),
	}
	if sim != nil {
		chartOpts.Tracker = sim
	}
	charts := service.New(chartOpts)

	s.runner = ingestion.NewRunner(ingestion.RunnerOptions{
		Sources:       sources,
		Aggregator:    agg,
		Hub:           s.hub,
		Stats:         charts,
		Archives:      stores.archives(),
		FlushInterval: cfg.Feed.FlushInterval,
		ArchiveBatch:  cfg.Feed.ArchiveBatch,
		CompactEvery:  cfg.Agg.CompactEvery,
		Logger:        logger.Named(log, "ingestion"),
	})

	s.api = api.New(api.Options{
		Charts:          charts,
		Hub:             s.hub,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Heartbeat:       cfg.HTTP.Heartbeat,
		AllowOrigin:     cfg.HTTP.AllowOrigin,
		Logger:          logger.Named(log, "api"),
	})

	return s, nil
}

// Run serves until ctx is cancelled. A non-zero backfill archives that much
// subgraph history for the top pairs in the background.
func (s *Server) Run(ctx context.Context, backfill time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.runner.Run(ctx)
		if errors.Is(err, ingestion.ErrSourcesClosed) {
			// Snapshots keep working from history.
			s.log.Warn("all swap feeds closed, live aggregation stopped")
			return nil
		}
		return err
	})

	g.Go(func() error {
		return s.api.Run(ctx, s.cfg.HTTP.Addr)
	})

	g.Go(func() error {
		s.refreshPairs(ctx)
		return nil
	})

	if backfill > 0 {
		g.Go(func() error {
			s.backfill(ctx, backfill)
			return nil
		})
	}

	err := g.Wait()
	s.hub.Close()
	return err
}

// Close releases connections in reverse order of creation.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// syncPairs refreshes the registry from the subgraph and the watchlist. A
// subgraph failure is logged; the watchlist is still applied.
func (s *Server) syncPairs(ctx context.Context) {
	n, err := s.manager.SyncPairs(ctx, s.cfg.Subgraph.TopPairs, s.watchlist)
	if err != nil {
		s.log.Warn("pair sync failed", zap.Error(err))
		return
	}
	s.log.Info("pairs synced", zap.Int("pairs", n))
}

func (s *Server) refreshPairs(ctx context.Context) {
	if s.cfg.Subgraph.Refresh <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Subgraph.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncPairs(ctx)
		}
	}
}

// trackedPairs lists the pairs fed to the chain subscription and the
// simulator. An empty registry is seeded with the factory's WBNB/BUSD pair.
func (s *Server) trackedPairs(ctx context.Context) ([]string, error) {
	pairs, err := s.stores.pairs.List(ctx, s.cfg.Subgraph.TopPairs+len(s.watchlist))
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	if len(pairs) == 0 {
		p, err := s.seedDefaultPair(ctx)
		if err != nil {
			s.log.Warn("no pairs registered and default pair lookup failed", zap.Error(err))
			return nil, nil
		}
		pairs = append(pairs, p)
	}

	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Address)
	}
	return out, nil
}

func (s *Server) seedDefaultPair(ctx context.Context) (*domain.TradingPair, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BSC.RPCTimeout)
	defer cancel()

	addr, err := s.rpc.GetPair(ctx,
		common.HexToAddress(s.cfg.BSC.Factory),
		common.HexToAddress(s.cfg.BSC.WBNB),
		common.HexToAddress(s.cfg.BSC.BUSD))
	if err != nil {
		return nil, err
	}
	p, err := s.rpc.ResolvePair(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := s.stores.pairs.Upsert(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("seeded default pair",
		zap.String("pair", p.Address),
		zap.String("symbols", p.Token0Symbol+"/"+p.Token1Symbol))
	return p, nil
}

func (s *Server) historyDeps() history.Deps {
	deps := history.Deps{
		Swaps:    s.stores.swaps,
		Subgraph: s.subgraph,
	}
	if s.stores.analytics != nil {
		deps.ClickHouse = s.stores.analytics
	}
	return deps
}

// quoteSource reads reserves from the chain when the bsc feed is on and
// the registry otherwise, behind the Redis cache when configured.
func (s *Server) quoteSource() market.Source {
	var src market.Source
	if s.cfg.HasFeed("bsc") {
		src = market.NewChainSource(s.rpc, s.stores.pairs)
	} else {
		src = market.NewRegistrySource(s.stores.pairs)
	}

	if s.cfg.Redis.Addr == "" {
		return src
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Redis.Addr,
		Password: s.cfg.Redis.Password,
		DB:       s.cfg.Redis.DB,
	})
	s.closers = append(s.closers, func() { rdb.Close() })
	return market.NewCachedSource(src, rdb, s.cfg.Market.CacheTTL, logger.Named(s.log, "market"))
}

// eventSources builds the configured feeds. The simulator is returned
// separately so requested pairs can join its walk.
func (s *Server) eventSources(ctx context.Context, pairs []string) ([]ingestion.EventSource, *ingestion.Simulator, error) {
	var (
		sources []ingestion.EventSource
		sim     *ingestion.Simulator
	)
	log := logger.Named(s.log, "feed")

	if s.cfg.HasFeed("simulated") {
		sim = ingestion.NewSimulator(ingestion.SimulatorOptions{
			Pairs:      pairs,
			Tick:       s.cfg.Feed.SimTick,
			Volatility: s.cfg.Feed.SimVolatility,
		})
		sources = append(sources, sim)
	}

	if s.cfg.HasFeed("bsc") && len(pairs) == 0 {
		log.Warn("bsc feed enabled but no pairs to watch")
	} else if s.cfg.HasFeed("bsc") {
		wsCfg := bsc.DefaultWSConfig()
		wsCfg.Logger = log
		ws, err := bsc.NewWSClient(ctx, s.cfg.BSC.WSEndpoint, &wsCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect bsc websocket: %w", err)
		}
		s.closers = append(s.closers, func() { ws.Close() })

		decoder := bsc.NewDecoder(s.rpc, s.stores.pairs)
		sources = append(sources, ingestion.NewBSCSource(ws, decoder, pairs, log))
	}

	if s.cfg.HasFeed("kafka") {
		sources = append(sources, ingestion.NewKafkaSource(ingestion.KafkaConfig{
			Brokers: s.cfg.Kafka.Brokers,
			Topic:   s.cfg.Kafka.Topic,
			GroupID: s.cfg.Kafka.GroupID,
		}, log))
	}

	return sources, sim, nil
}

func (s *Server) backfill(ctx context.Context, lookback time.Duration) {
	b := ingestion.NewBackfiller(ingestion.BackfillOptions{
		Manager:   s.manager,
		PairStore: s.stores.pairs,
		MaxPairs:  s.cfg.Subgraph.TopPairs,
		Logger:    logger.Named(s.log, "backfill"),
	})
	res, err := b.BackfillSince(ctx, time.Now().Add(-lookback))
	if err != nil {
		s.log.Warn("backfill failed", zap.Error(err))
		return
	}
	s.log.Info("backfill complete",
		zap.Int("pairs", res.Pairs),
		zap.Int("swaps", res.SwapsIngested),
		zap.Int("errors", res.Errors),
		zap.Duration("duration", res.Duration))
}
