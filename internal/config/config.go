// Package config loads service configuration from the environment and an
// optional pair watchlist file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dex-candles/internal/domain"
	"dex-candles/internal/interval"
	"dex-candles/internal/logger"
)

// Config is the complete service configuration.
type Config struct {
	HTTP     HTTPConfig       `envPrefix:"HTTP_"`
	Agg      AggregatorConfig `envPrefix:"AGG_"`
	Feed     FeedConfig       `envPrefix:"FEED_"`
	BSC      BSCConfig        `envPrefix:"BSC_"`
	Subgraph SubgraphConfig   `envPrefix:"SUBGRAPH_"`
	History  HistoryConfig    `envPrefix:"HISTORY_"`
	Market   MarketConfig     `envPrefix:"MARKET_"`
	Redis    RedisConfig      `envPrefix:"REDIS_"`
	Kafka    KafkaConfig      `envPrefix:"KAFKA_"`
	Log      logger.Config    `envPrefix:"LOG_"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`
	UseMemory     bool   `env:"USE_MEMORY" envDefault:"false"`
	PairsFile     string `env:"PAIRS_FILE"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Heartbeat       time.Duration `env:"STREAM_HEARTBEAT" envDefault:"15s"`
	StreamBuffer    int           `env:"STREAM_BUFFER" envDefault:"64"`
	AllowOrigin     string        `env:"ALLOW_ORIGIN" envDefault:"*"`
}

// AggregatorConfig configures live aggregation.
type AggregatorConfig struct {
	Intervals       []string      `env:"INTERVALS" envSeparator:"," envDefault:"1m,5m,15m,1h,4h,1d,1w"`
	DefaultInterval string        `env:"DEFAULT_INTERVAL" envDefault:"1h"`
	MergeLimit      int           `env:"MERGE_LIMIT" envDefault:"200"`
	MaxBuckets      int           `env:"MAX_BUCKETS" envDefault:"5000"`
	LateBuckets     int           `env:"LATE_BUCKETS" envDefault:"2"`
	CompactEvery    time.Duration `env:"COMPACT_EVERY" envDefault:"1m"`
}

// FeedConfig selects event sources.
type FeedConfig struct {
	Modes         []string      `env:"MODES" envSeparator:"," envDefault:"simulated"` // bsc | kafka | simulated
	SimTick       time.Duration `env:"SIM_TICK" envDefault:"5s"`
	SimVolatility float64       `env:"SIM_VOLATILITY" envDefault:"0.02"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"5s"`
	ArchiveBatch  int           `env:"ARCHIVE_BATCH" envDefault:"500"`
}

// BSCConfig configures the chain connection.
type BSCConfig struct {
	RPCEndpoint string        `env:"RPC_ENDPOINT" envDefault:"https://bsc-dataseed1.binance.org/"`
	WSEndpoint  string        `env:"WS_ENDPOINT"`
	Factory     string        `env:"FACTORY" envDefault:"0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"`
	WBNB        string        `env:"WBNB" envDefault:"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"`
	BUSD        string        `env:"BUSD" envDefault:"0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"`
	RPCTimeout  time.Duration `env:"RPC_TIMEOUT" envDefault:"10s"`
}

// SubgraphConfig configures the PancakeSwap subgraph client.
type SubgraphConfig struct {
	URL      string        `env:"URL" envDefault:"https://api.thegraph.com/subgraphs/name/pancakeswap/exchange"`
	TopPairs int           `env:"TOP_PAIRS" envDefault:"20"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Refresh  time.Duration `env:"REFRESH" envDefault:"10m"`
}

// HistoryConfig selects the historical candle source.
type HistoryConfig struct {
	Source  string        `env:"SOURCE" envDefault:"synthetic"` // archive | clickhouse | subgraph | synthetic | none
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

// MarketConfig configures current price and market cap lookups.
type MarketConfig struct {
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"3s"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`
}

// RedisConfig configures the market snapshot cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// KafkaConfig configures the Kafka swap feed.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"swaps"`
	GroupID string   `env:"GROUP_ID" envDefault:"dex-candles"`
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads an explicit env file before parsing the environment.
// Existing environment variables win over file values.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := c.IntervalTable(); err != nil {
		return fmt.Errorf("intervals: %w", err)
	}
	for _, mode := range c.Feed.Modes {
		switch strings.TrimSpace(mode) {
		case "bsc":
			if c.BSC.WSEndpoint == "" {
				return fmt.Errorf("BSC_WS_ENDPOINT is required for feed mode bsc")
			}
		case "kafka", "simulated":
		default:
			return fmt.Errorf("unknown feed mode %q", mode)
		}
	}
	switch c.History.Source {
	case "archive", "subgraph", "synthetic", "none":
	case "clickhouse":
		if c.ClickhouseDSN == "" {
			return fmt.Errorf("CLICKHOUSE_DSN is required for history source clickhouse")
		}
	default:
		return fmt.Errorf("unknown history source %q", c.History.Source)
	}
	if !c.UseMemory && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set USE_MEMORY=true for in-memory storage)")
	}
	if c.Agg.MergeLimit <= 0 {
		return fmt.Errorf("AGG_MERGE_LIMIT must be positive")
	}
	return nil
}

// IntervalTable builds the enabled interval table.
func (c *Config) IntervalTable() (*interval.Table, error) {
	return interval.NewTable(c.Agg.DefaultInterval, c.Agg.Intervals)
}

// HasFeed reports whether mode is enabled.
func (c *Config) HasFeed(mode string) bool {
	for _, m := range c.Feed.Modes {
		if strings.TrimSpace(m) == mode {
			return true
		}
	}
	return false
}

// Watchlist is the file format of PAIRS_FILE.
type Watchlist struct {
	Pairs []domain.TradingPair `json:"pairs" yaml:"pairs"`
}

// LoadWatchlist reads a pair watchlist (YAML, falling back to JSON).
// Addresses are lowercased.
func LoadWatchlist(path string) ([]domain.TradingPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		if jerr := json.Unmarshal(data, &wl); jerr != nil {
			return nil, fmt.Errorf("parse watchlist (tried YAML and JSON): %w", err)
		}
	}

	for i := range wl.Pairs {
		p := &wl.Pairs[i]
		if p.Address == "" {
			return nil, fmt.Errorf("watchlist entry %d: missing address", i)
		}
		p.Address = strings.ToLower(p.Address)
		p.Token0 = strings.ToLower(p.Token0)
		p.Token1 = strings.ToLower(p.Token1)
		if p.Token0Decimals == 0 {
			p.Token0Decimals = 18
		}
		if p.Token1Decimals == 0 {
			p.Token1Decimals = 18
		}
	}
	return wl.Pairs, nil
}
