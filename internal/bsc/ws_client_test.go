package bsc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func testWSConfig() *WSClientConfig {
	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond
	cfg.SubscribeTimeout = 2 * time.Second
	return &cfg
}

// nodeServer accepts eth_subscribe, confirms with a per-connection id and
// pushes one notification built by notify. If dropFirst is set the first
// connection closes right after the notification.
func nodeServer(t *testing.T, dropFirst bool, notify func(conn int32) types.Log) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req rpcRequest
			if err := json.Unmarshal(msg, &req); err != nil || req.Method != "eth_subscribe" {
				t.Errorf("unexpected request %s", msg)
				return
			}
			if req.Params[0] != "logs" {
				t.Errorf("expected logs subscription, got %v", req.Params[0])
			}

			subID := "0xsub" + string(rune('0'+n))
			c.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": subID})

			raw, _ := json.Marshal(notify(n))
			c.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "eth_subscription",
				"params":  map[string]any{"subscription": subID, "result": json.RawMessage(raw)},
			})

			if dropFirst && n == 1 {
				return
			}
		}
	}))
	return server, &conns
}

func testLog(block uint64) types.Log {
	return types.Log{
		Address:     testPair,
		Topics:      []common.Hash{SwapTopic},
		Data:        []byte{},
		BlockNumber: block,
		TxHash:      common.HexToHash("0x01"),
		BlockHash:   common.HexToHash("0x02"),
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	server, _ := nodeServer(t, false, func(int32) types.Log { return testLog(77) })
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, SwapFilter([]common.Address{testPair}))
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case lg := <-ch:
		if lg.BlockNumber != 77 || lg.Address != testPair {
			t.Errorf("unexpected log %+v", lg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no log received")
	}
}

func TestWSClient_ResubscribesAfterDrop(t *testing.T) {
	server, conns := nodeServer(t, true, func(n int32) types.Log { return testLog(uint64(n)) })
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, SwapFilter([]common.Address{testPair}))
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	var blocks []uint64
	timeout := time.After(5 * time.Second)
	for len(blocks) < 2 {
		select {
		case lg := <-ch:
			blocks = append(blocks, lg.BlockNumber)
		case <-timeout:
			t.Fatalf("got blocks %v before timeout, connections=%d", blocks, conns.Load())
		}
	}

	if blocks[0] != 1 || blocks[1] != 2 {
		t.Errorf("blocks = %v, want [1 2]", blocks)
	}
}

func TestWSClient_CloseClosesChannels(t *testing.T) {
	server, _ := nodeServer(t, false, func(int32) types.Log { return testLog(1) })
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), testWSConfig())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	ch, err := client.SubscribeLogs(ctx, SwapFilter(nil))
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	<-ch

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
