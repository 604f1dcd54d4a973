package bsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
	"dex-candles/internal/storage"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements RPCClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new BSC JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ RPCClient = (*HTTPClient)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// Transport failures wrap domain.ErrUpstreamUnavailable; RPC errors are returned as is.
func (c *HTTPClient) call(ctx context.Context, method string, params []any, result any) error {
	start := time.Now()
	defer func() { observability.RecordRPCLatency(method, time.Since(start).Seconds()) }()

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s: max retries exceeded: %v: %w", method, lastErr, domain.ErrUpstreamUnavailable)
}

// BlockNumber returns the latest block number.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &n); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// BlockTimestamp returns a block's timestamp in Unix seconds.
func (c *HTTPClient) BlockTimestamp(ctx context.Context, number uint64) (int64, error) {
	var block *struct {
		Timestamp hexutil.Uint64 `json:"timestamp"`
	}
	params := []any{hexutil.EncodeUint64(number), false}
	if err := c.call(ctx, "eth_getBlockByNumber", params, &block); err != nil {
		return 0, err
	}
	if block == nil {
		return 0, fmt.Errorf("block %d not found", number)
	}
	return int64(block.Timestamp), nil
}

// Call executes eth_call against the latest block.
func (c *HTTPClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := map[string]any{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	var out hexutil.Bytes
	if err := c.call(ctx, "eth_call", []any{msg, "latest"}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetReserves calls getReserves on a pair contract.
func (c *HTTPClient) GetReserves(ctx context.Context, pair common.Address) (*Reserves, error) {
	input, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, fmt.Errorf("pack getReserves: %w", err)
	}
	out, err := c.Call(ctx, pair, input)
	if err != nil {
		return nil, fmt.Errorf("getReserves %s: %w", pair.Hex(), err)
	}
	return unpackReserves(out)
}

// ResolvePair reads a pair's tokens and their symbol and decimals.
func (c *HTTPClient) ResolvePair(ctx context.Context, pair common.Address) (*domain.TradingPair, error) {
	token0, err := c.pairToken(ctx, pair, "token0")
	if err != nil {
		return nil, err
	}
	token1, err := c.pairToken(ctx, pair, "token1")
	if err != nil {
		return nil, err
	}

	p := &domain.TradingPair{
		Address:   strings.ToLower(pair.Hex()),
		Token0:    strings.ToLower(token0.Hex()),
		Token1:    strings.ToLower(token1.Hex()),
		UpdatedAt: time.Now().UnixMilli(),
	}
	if p.Token0Symbol, p.Token0Decimals, err = c.tokenInfo(ctx, token0); err != nil {
		return nil, err
	}
	if p.Token1Symbol, p.Token1Decimals, err = c.tokenInfo(ctx, token1); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPair asks factory for the pair of tokenA and tokenB. Returns an error
// wrapping storage.ErrNotFound when the factory has no such pair.
func (c *HTTPClient) GetPair(ctx context.Context, factory, tokenA, tokenB common.Address) (common.Address, error) {
	input, err := factoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack getPair: %w", err)
	}
	out, err := c.Call(ctx, factory, input)
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair %s/%s: %w", tokenA.Hex(), tokenB.Hex(), err)
	}
	pair, err := unpackAddress(factoryABI, "getPair", out)
	if err != nil {
		return common.Address{}, err
	}
	if pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("getPair %s/%s: %w", tokenA.Hex(), tokenB.Hex(), storage.ErrNotFound)
	}
	return pair, nil
}

func (c *HTTPClient) pairToken(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	input, err := pairABI.Pack(method)
	if err != nil {
		return common.Address{}, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.Call(ctx, pair, input)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s %s: %w", method, pair.Hex(), err)
	}
	return unpackAddress(pairABI, method, out)
}

func (c *HTTPClient) tokenInfo(ctx context.Context, token common.Address) (string, int32, error) {
	input, _ := erc20ABI.Pack("decimals")
	out, err := c.Call(ctx, token, input)
	if err != nil {
		return "", 0, fmt.Errorf("decimals %s: %w", token.Hex(), err)
	}
	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil {
		return "", 0, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return "", 0, fmt.Errorf("unpack decimals: value is %T", values[0])
	}

	// Some tokens return bytes32 symbols; those are left blank.
	symbol := ""
	input, _ = erc20ABI.Pack("symbol")
	if out, err := c.Call(ctx, token, input); err == nil {
		if values, err := erc20ABI.Unpack("symbol", out); err == nil {
			symbol, _ = values[0].(string)
		}
	}
	return symbol, int32(decimals), nil
}
