package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
)

// GetCandles handles GET /api/candles?pair=&interval=&limit=
func (s *Server) GetCandles(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	key, ok := s.bindKey(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.handleError(c, err, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	chart, err := s.charts.GetChart(ctx, key.PairID, key.Interval, limit)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			s.handleError(c, err, http.StatusBadRequest, err.Error())
			return
		}
		s.handleError(c, err, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusOK, chart)
}

// GetPairs handles GET /api/pairs?limit=
func (s *Server) GetPairs(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.requestTimeout)
	defer cancel()

	limit := DefaultPairsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.handleError(c, err, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, MaxPairsLimit)
	}

	pairs, err := s.charts.Pairs(ctx, limit)
	if err != nil {
		s.handleError(c, err, http.StatusInternalServerError, "Failed to fetch pairs")
		return
	}

	c.JSON(http.StatusOK, pairs)
}

// GetIntervals handles GET /api/intervals
func (s *Server) GetIntervals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"intervals": s.charts.Intervals()})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   ServiceVersion,
	})
}

// StatusResponse is the JSON body of /status.
type StatusResponse struct {
	Status      string    `json:"status"`
	Uptime      string    `json:"uptime"`
	StartedAt   time.Time `json:"started_at"`
	LiveSeries  int       `json:"live_series"`
	Subscribers int       `json:"subscribers"`
	Intervals   []string  `json:"intervals"`
}

// Status handles GET /status
func (s *Server) Status(c *gin.Context) {
	resp := StatusResponse{
		Status:     "running",
		Uptime:     time.Since(s.startedAt).Truncate(time.Second).String(),
		StartedAt:  s.startedAt.UTC(),
		LiveSeries: s.charts.SeriesCount(),
		Intervals:  s.charts.Intervals(),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.Count()
	}
	c.JSON(http.StatusOK, resp)
}

// bindKey reads pair and interval from the query and writes a 400 when
// either is missing or the interval is not enabled.
func (s *Server) bindKey(c *gin.Context) (domain.SeriesKey, bool) {
	pair := strings.TrimSpace(c.Query("pair"))
	label := strings.TrimSpace(c.Query("interval"))
	if pair == "" || label == "" {
		s.handleError(c, domain.ErrInvalidInput, http.StatusBadRequest, "Missing pair or interval")
		return domain.SeriesKey{}, false
	}

	key, err := s.charts.ValidateKey(pair, label)
	if err != nil {
		s.handleError(c, err, http.StatusBadRequest, "Unsupported interval: "+label)
		return domain.SeriesKey{}, false
	}
	return key, true
}

// handleError logs err and aborts with {"error", "request_id"}.
func (s *Server) handleError(c *gin.Context, err error, statusCode int, userMessage string) {
	requestID := c.GetString(RequestIDContextKey)
	if requestID == "" {
		requestID = "unknown"
	}

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status_code", statusCode),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if statusCode >= http.StatusInternalServerError {
		s.logger.Error("api error", fields...)
	} else {
		s.logger.Debug("rejected request", fields...)
	}

	c.AbortWithStatusJSON(statusCode, gin.H{
		"error":      userMessage,
		"request_id": requestID,
	})
}
