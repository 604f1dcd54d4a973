package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dex-candles/internal/observability"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4096
)

// StreamSSE handles GET /api/stream?pair=&interval= as server-sent events.
// Each message is written as "data: <json>\n\n"; heartbeats are comments.
func (s *Server) StreamSSE(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	if s.hub == nil {
		s.handleError(c, nil, http.StatusServiceUnavailable, "Live feed unavailable")
		return
	}

	sub := s.hub.Subscribe(key)
	defer sub.Close()
	s.charts.Track(key.PairID)

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-sub.Messages():
			if !ok {
				return
			}
			for _, msg := range batch {
				data, err := json.Marshal(msg)
				if err != nil {
					s.logger.Warn("encode stream message", zap.Error(err))
					continue
				}
				if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
					return
				}
				observability.RecordStreamMessage("sse", string(msg.Type))
			}
			c.Writer.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// StreamWS handles GET /api/ws?pair=&interval= with the same messages as
// StreamSSE, one JSON text frame each.
func (s *Server) StreamWS(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	if s.hub == nil {
		s.handleError(c, nil, http.StatusServiceUnavailable, "Live feed unavailable")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(key)
	defer sub.Close()
	s.charts.Track(key.PairID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Client frames are ignored; a read error means the peer is gone.
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * s.heartbeat))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(s.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case batch, ok := <-sub.Messages():
			if !ok {
				return
			}
			for _, msg := range batch {
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.logger.Debug("websocket write failed",
						zap.String("series", key.String()), zap.Error(err))
					return
				}
				observability.RecordStreamMessage("ws", string(msg.Type))
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.allowOrigin
}
