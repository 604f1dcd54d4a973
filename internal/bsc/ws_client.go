package bsc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription id.
	SubscribeTimeout time.Duration
	// Logger receives connection lifecycle events.
	Logger *zap.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
	}
}

// WSClient implements LogSubscriber using gorilla/websocket. After a dropped
// connection it reconnects with backoff and re-issues every subscription,
// keeping the caller's channels.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	log      *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the node's subscription id to the caller's channel and filter.
	subs   map[string]*subscription
	subsMu sync.RWMutex

	// pending maps eth_subscribe request ids awaiting confirmation.
	pending   map[uint64]*pendingSub
	pendingMu sync.Mutex

	done         chan struct{}
	wg           sync.WaitGroup
	reconnecting atomic.Bool
}

// NewWSClient creates a WebSocket client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		log:      log,
		subs:     make(map[string]*subscription),
		pending:  make(map[uint64]*pendingSub),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

var _ LogSubscriber = (*WSClient)(nil)

func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return fmt.Errorf("client closed")
	}
	c.conn = conn
	return nil
}

type subscription struct {
	ch     chan types.Log
	filter LogsFilter
}

// pendingSub is registered by the read loop when its confirmation arrives,
// so no notification for the new id can be missed.
type pendingSub struct {
	sub       *subscription
	oldID     string // set when resubscribing
	confirmed chan string
}

// SubscribeLogs subscribes to logs matching the filter.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan types.Log, error) {
	// Blocking delivery; the buffer absorbs bursts.
	sub := &subscription{ch: make(chan types.Log, 4096), filter: filter}
	if _, err := c.subscribe(ctx, sub, ""); err != nil {
		return nil, err
	}
	return sub.ch, nil
}

// subscribe sends eth_subscribe and waits for the subscription id.
func (c *WSClient) subscribe(ctx context.Context, sub *subscription, oldID string) (string, error) {
	if c.closed.Load() {
		return "", fmt.Errorf("client closed")
	}

	reqID := c.requestID.Add(1)
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []any{"logs", sub.filter.params()},
	}

	p := &pendingSub{sub: sub, oldID: oldID, confirmed: make(chan string, 1)}
	c.pendingMu.Lock()
	c.pending[reqID] = p
	c.pendingMu.Unlock()

	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		forget()
		return "", fmt.Errorf("not connected: %w", domain.ErrConnectionLost)
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		forget()
		return "", fmt.Errorf("write subscribe: %w", err)
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case subID, ok := <-p.confirmed:
		if !ok {
			return "", fmt.Errorf("client closed")
		}
		return subID, nil
	case <-timer.C:
		forget()
		return "", fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return "", fmt.Errorf("client closed")
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	}
}

// Close closes the connection and every subscription channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	// Readers exit before channels close so no send races the close.
	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, p := range c.pending {
		close(p.confirmed)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	return nil
}

// readLoop reads messages and dispatches them until Close.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			c.log.Warn("node websocket read failed",
				zap.Error(fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)))

			c.connMu.Lock()
			if c.conn == conn {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if !c.reconnecting.Swap(true) {
				go c.reconnect()
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect dials with exponential backoff until it succeeds or the client
// closes, then resubscribes.
func (c *WSClient) reconnect() {
	defer c.reconnecting.Store(false)

	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			break
		}
		if c.closed.Load() {
			return
		}

		c.log.Warn("node websocket reconnect failed", zap.Error(err), zap.Duration("delay", delay))
		delay = min(delay*2, c.config.MaxReconnectDelay)
	}

	c.log.Info("node websocket reconnected", zap.String("endpoint", c.endpoint))
	// The read loop must keep running to deliver the confirmations.
	go c.resubscribeAll()
}

// resubscribeAll re-issues every active filter. The read loop moves each
// channel to its new subscription id.
func (c *WSClient) resubscribeAll() {
	c.subsMu.RLock()
	active := make(map[string]*subscription, len(c.subs))
	for id, sub := range c.subs {
		active[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range active {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SubscribeTimeout)
		_, err := c.subscribe(ctx, sub, oldID)
		cancel()
		if err != nil {
			c.log.Warn("resubscribe failed", zap.String("subscription", oldID), zap.Error(err))
		}
	}
}

// wsMessage covers responses and eth_subscription notifications.
type wsMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Debug("ignoring malformed node message", zap.Error(err))
		return
	}

	switch {
	case msg.Method == "eth_subscription" && msg.Params != nil:
		c.handleNotification(msg.Params.Subscription, msg.Params.Result)
	case msg.ID != nil && msg.Error != nil:
		// The subscriber times out.
		c.log.Warn("node rpc error", zap.Uint64("id", *msg.ID), zap.Error(msg.Error))
	case msg.ID != nil:
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err != nil || subID == "" {
			return
		}
		c.pendingMu.Lock()
		p, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.pendingMu.Unlock()
		if !ok {
			return
		}

		c.subsMu.Lock()
		if p.oldID != "" {
			delete(c.subs, p.oldID)
		}
		c.subs[subID] = p.sub
		c.subsMu.Unlock()

		p.confirmed <- subID
	}
}

func (c *WSClient) handleNotification(subID string, raw json.RawMessage) {
	var lg types.Log
	if err := json.Unmarshal(raw, &lg); err != nil {
		c.log.Warn("undecodable log notification", zap.String("subscription", subID), zap.Error(err))
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[subID]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	select {
	case sub.ch <- lg:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces in the read loop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
