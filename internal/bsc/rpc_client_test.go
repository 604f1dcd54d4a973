package bsc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dex-candles/internal/domain"
	"dex-candles/internal/storage"
)

// rpcServer answers JSON-RPC requests with handle's result.
func rpcServer(t *testing.T, handle func(req rpcRequest) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		})
	}))
}

func TestHTTPClient_BlockTimestamp(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "eth_getBlockByNumber" {
			t.Errorf("expected eth_getBlockByNumber, got %s", req.Method)
		}
		if req.Params[0] != "0x2a" || req.Params[1] != false {
			t.Errorf("unexpected params %v", req.Params)
		}
		return map[string]any{"number": "0x2a", "timestamp": "0x6553f100"}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ts, err := client.BlockTimestamp(context.Background(), 42)
	if err != nil {
		t.Fatalf("BlockTimestamp: %v", err)
	}
	if ts != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", ts)
	}
}

func TestHTTPClient_BlockTimestamp_NotFound(t *testing.T) {
	server := rpcServer(t, func(rpcRequest) any { return nil })
	defer server.Close()

	client := NewHTTPClient(server.URL)
	if _, err := client.BlockTimestamp(context.Background(), 1); err == nil {
		t.Fatal("expected error for missing block")
	}
}

func TestHTTPClient_GetReserves(t *testing.T) {
	pair := common.HexToAddress("0x58F876857a02D6762E0101bb5C46A8c1ED44Dc16")

	server := rpcServer(t, func(req rpcRequest) any {
		if req.Method != "eth_call" {
			t.Errorf("expected eth_call, got %s", req.Method)
		}
		msg := req.Params[0].(map[string]any)
		if common.HexToAddress(msg["to"].(string)) != pair {
			t.Errorf("unexpected to %v", msg["to"])
		}
		out, err := pairABI.Methods["getReserves"].Outputs.Pack(e18(100), e18(30000), uint32(1700000000))
		if err != nil {
			t.Errorf("pack: %v", err)
		}
		return hexutil.Encode(out)
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	r, err := client.GetReserves(context.Background(), pair)
	if err != nil {
		t.Fatalf("GetReserves: %v", err)
	}
	if r.Reserve0.Cmp(e18(100)) != 0 || r.Reserve1.Cmp(e18(30000)) != 0 {
		t.Errorf("unexpected reserves %v %v", r.Reserve0, r.Reserve1)
	}
	if p := ReservePrice(r, 18, 18); p == nil || *p != 300 {
		t.Errorf("price = %v, want 300", p)
	}
}

func TestHTTPClient_GetPair(t *testing.T) {
	factory := common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	wbnb := common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	busd := common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56")
	want := common.HexToAddress("0x58F876857a02D6762E0101bb5C46A8c1ED44Dc16")

	server := rpcServer(t, func(req rpcRequest) any {
		msg := req.Params[0].(map[string]any)
		if common.HexToAddress(msg["to"].(string)) != factory {
			t.Errorf("unexpected to %v", msg["to"])
		}
		input, err := factoryABI.Pack("getPair", wbnb, busd)
		if err != nil {
			t.Errorf("pack: %v", err)
		}
		if msg["data"] != hexutil.Encode(input) {
			// Unknown token order: the factory returns the zero address.
			out, _ := factoryABI.Methods["getPair"].Outputs.Pack(common.Address{})
			return hexutil.Encode(out)
		}
		out, err := factoryABI.Methods["getPair"].Outputs.Pack(want)
		if err != nil {
			t.Errorf("pack: %v", err)
		}
		return hexutil.Encode(out)
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	got, err := client.GetPair(context.Background(), factory, wbnb, busd)
	if err != nil {
		t.Fatalf("GetPair: %v", err)
	}
	if got != want {
		t.Errorf("pair = %s, want %s", got.Hex(), want.Hex())
	}

	_, err = client.GetPair(context.Background(), factory, busd, busd)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPClient_ResolvePair(t *testing.T) {
	token0 := common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	token1 := common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")

	selector := func(abiMethod string, fromERC20 bool) string {
		if fromERC20 {
			return hexutil.Encode(erc20ABI.Methods[abiMethod].ID)
		}
		return hexutil.Encode(pairABI.Methods[abiMethod].ID)
	}

	server := rpcServer(t, func(req rpcRequest) any {
		msg := req.Params[0].(map[string]any)
		to := common.HexToAddress(msg["to"].(string))
		data := msg["data"].(string)

		var out []byte
		switch {
		case data == selector("token0", false):
			out, _ = pairABI.Methods["token0"].Outputs.Pack(token0)
		case data == selector("token1", false):
			out, _ = pairABI.Methods["token1"].Outputs.Pack(token1)
		case data == selector("decimals", true):
			out, _ = erc20ABI.Methods["decimals"].Outputs.Pack(uint8(18))
			if to == token1 {
				out, _ = erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
			}
		case data == selector("symbol", true):
			sym := "WBNB"
			if to == token1 {
				sym = "USDT"
			}
			out, _ = erc20ABI.Methods["symbol"].Outputs.Pack(sym)
		default:
			t.Errorf("unexpected call data %s", data)
		}
		return hexutil.Encode(out)
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	p, err := client.ResolvePair(context.Background(), common.HexToAddress("0x16b9a82891338f9ba80e2d6970fdda79d1eb0dae"))
	if err != nil {
		t.Fatalf("ResolvePair: %v", err)
	}
	if p.Address != "0x16b9a82891338f9ba80e2d6970fdda79d1eb0dae" {
		t.Errorf("address = %s", p.Address)
	}
	if p.Token0Symbol != "WBNB" || p.Token1Symbol != "USDT" {
		t.Errorf("symbols = %s/%s", p.Token0Symbol, p.Token1Symbol)
	}
	if p.Token0Decimals != 18 || p.Token1Decimals != 6 {
		t.Errorf("decimals = %d/%d", p.Token0Decimals, p.Token1Decimals)
	}
}

func TestHTTPClient_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0x10"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 16 {
		t.Errorf("block = %d, want 16", n)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPClient_MaxRetriesIsUpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxRetries(1))
	_, err := client.BlockNumber(context.Background())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32000, "message": "execution reverted"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.Call(context.Background(), common.Address{}, nil)

	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Errorf("expected rpc error -32000, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
