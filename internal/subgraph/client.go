// Package subgraph queries the PancakeSwap exchange subgraph for top pairs and
// recent swaps.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

// DefaultURL is the public PancakeSwap V2 exchange subgraph.
const DefaultURL = "https://api.thegraph.com/subgraphs/name/pancakeswap/exchange"

// MinPairVolumeUSD filters dust pairs out of TopPairs.
const MinPairVolumeUSD = "1000"

// maxPageSize is the subgraph's limit for `first`.
const maxPageSize = 1000

// Client is a GraphQL-over-HTTP client for the subgraph.
type Client struct {
	url  string
	http *http.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a subgraph client. An empty url uses DefaultURL.
func New(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// query posts a GraphQL document and decodes data into out.
// Any failure wraps domain.ErrUpstreamUnavailable.
func (c *Client) query(ctx context.Context, op, doc string, vars map[string]any, out any) (err error) {
	start := time.Now()
	defer func() { observability.RecordUpstream("subgraph_"+op, time.Since(start).Seconds(), err) }()

	body, err := json.Marshal(gqlRequest{Query: doc, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph %s: %v: %w", op, err, domain.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("subgraph %s: read body: %v: %w", op, err, domain.ErrUpstreamUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subgraph %s: status %d: %w", op, resp.StatusCode, domain.ErrUpstreamUnavailable)
	}

	var gr gqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("subgraph %s: decode: %v: %w", op, err, domain.ErrUpstreamUnavailable)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("subgraph %s: %s: %w", op, strings.Join(msgs, "; "), domain.ErrUpstreamUnavailable)
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return fmt.Errorf("subgraph %s: empty data: %w", op, domain.ErrUpstreamUnavailable)
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("subgraph %s: decode data: %v: %w", op, err, domain.ErrUpstreamUnavailable)
	}
	return nil
}

const topPairsQuery = `query TopPairs($first: Int!, $minVolume: BigDecimal!) {
  pairs(first: $first, orderBy: volumeUSD, orderDirection: desc, where: {volumeUSD_gt: $minVolume}) {
    id
    token0 { id symbol decimals }
    token1 { id symbol decimals }
    volumeUSD
    reserveUSD
  }
}`

type token struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

type pairNode struct {
	ID         string `json:"id"`
	Token0     token  `json:"token0"`
	Token1     token  `json:"token1"`
	VolumeUSD  string `json:"volumeUSD"`
	ReserveUSD string `json:"reserveUSD"`
}

// TopPairs returns up to first pairs with volumeUSD above MinPairVolumeUSD,
// highest volume first.
func (c *Client) TopPairs(ctx context.Context, first int) ([]domain.TradingPair, error) {
	if first <= 0 {
		first = 20
	}

	var data struct {
		Pairs []pairNode `json:"pairs"`
	}
	vars := map[string]any{"first": first, "minVolume": MinPairVolumeUSD}
	if err := c.query(ctx, "pairs", topPairsQuery, vars, &data); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	pairs := make([]domain.TradingPair, 0, len(data.Pairs))
	for _, n := range data.Pairs {
		pairs = append(pairs, domain.TradingPair{
			Address:        strings.ToLower(n.ID),
			Token0:         strings.ToLower(n.Token0.ID),
			Token1:         strings.ToLower(n.Token1.ID),
			Token0Symbol:   n.Token0.Symbol,
			Token1Symbol:   n.Token1.Symbol,
			Token0Decimals: parseDecimals(n.Token0.Decimals),
			Token1Decimals: parseDecimals(n.Token1.Decimals),
			VolumeUSD:      parseFloat(n.VolumeUSD),
			ReserveUSD:     parseFloat(n.ReserveUSD),
			UpdatedAt:      now,
		})
	}
	return pairs, nil
}

const swapsQuery = `query Swaps($pair: String!, $since: BigInt!, $first: Int!) {
  swaps(first: $first, orderBy: timestamp, orderDirection: desc, where: {pair: $pair, timestamp_gte: $since}) {
    id
    timestamp
    amount0In
    amount1In
    amount0Out
    amount1Out
  }
}`

type swapNode struct {
	ID         string `json:"id"` // "<txhash>-<logIndex>"
	Timestamp  string `json:"timestamp"`
	Amount0In  string `json:"amount0In"`
	Amount1In  string `json:"amount1In"`
	Amount0Out string `json:"amount0Out"`
	Amount1Out string `json:"amount1Out"`
}

// Swaps returns up to first swaps on pair since sinceSec, oldest first.
// Swaps without a base amount are skipped.
func (c *Client) Swaps(ctx context.Context, pair string, sinceSec int64, first int) ([]domain.SwapEvent, error) {
	if first <= 0 || first > maxPageSize {
		first = maxPageSize
	}

	var data struct {
		Swaps []swapNode `json:"swaps"`
	}
	vars := map[string]any{
		"pair":  strings.ToLower(pair),
		"since": strconv.FormatInt(sinceSec, 10),
		"first": first,
	}
	if err := c.query(ctx, "swaps", swapsQuery, vars, &data); err != nil {
		return nil, err
	}

	events := make([]domain.SwapEvent, 0, len(data.Swaps))
	for _, s := range data.Swaps {
		ev, ok := s.toEvent(strings.ToLower(pair))
		if ok {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})
	return events, nil
}

func (s swapNode) toEvent(pair string) (domain.SwapEvent, bool) {
	ts, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return domain.SwapEvent{}, false
	}

	base := parseDecimal(s.Amount0In).Add(parseDecimal(s.Amount0Out))
	quote := parseDecimal(s.Amount1In).Add(parseDecimal(s.Amount1Out))
	if !base.IsPositive() {
		return domain.SwapEvent{}, false
	}
	price, _ := quote.Div(base).Float64()
	volume, _ := base.Float64()

	txHash, logIndex := s.ID, 0
	if i := strings.LastIndexByte(s.ID, '-'); i > 0 {
		txHash = s.ID[:i]
		logIndex, _ = strconv.Atoi(s.ID[i+1:])
	}

	return domain.SwapEvent{
		PairID:      pair,
		TimestampMs: ts * 1000,
		Price:       price,
		Volume:      volume,
		TxHash:      txHash,
		LogIndex:    logIndex,
		Source:      domain.SourceSubgraph,
	}, true
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseFloat(s string) float64 {
	f, _ := parseDecimal(s).Float64()
	return f
}

func parseDecimals(s string) int32 {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 77 {
		return 18
	}
	return int32(n)
}
