package stream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
)

// ClientConfig configures reconnection of a live-feed client.
type ClientConfig struct {
	// ReconnectDelay is the wait before the first reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay bounds the wait between attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout closes a connection that stays silent this long.
	ReadTimeout time.Duration
	Logger      *zap.Logger
}

// DefaultClientConfig reconnects after 5s, backing off to 30s.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    5 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
	}
}

// Client consumes a server's websocket live feed for one series key.
type Client struct {
	endpoint string
	config   ClientConfig
	dialer   websocket.Dialer
	logger   *zap.Logger
}

// NewClient creates a client for wsURL (e.g. ws://host:8080/api/ws).
func NewClient(wsURL string, key domain.SeriesKey, config *ClientConfig) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("pair", key.PairID)
	q.Set("interval", key.Interval)
	u.RawQuery = q.Encode()

	return &Client{
		endpoint: u.String(),
		config:   cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:   logger,
	}, nil
}

// Run delivers messages to handle until ctx is cancelled. A lost connection
// is re-established after a bounded delay; malformed messages are skipped.
func (c *Client) Run(ctx context.Context, handle func(Message)) error {
	delay := c.config.ReconnectDelay

	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = c.config.ReconnectDelay
		}
		c.logger.Warn("live feed disconnected",
			zap.Error(fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)),
			zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context, handle func(Message)) (connected bool, err error) {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		if c.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("skipping malformed feed message", zap.Error(err))
			continue
		}
		handle(msg)
	}
}
