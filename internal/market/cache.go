package market

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

const keyPrefix = "dex-candles:quote:"

// CachedSource memoizes quotes in Redis for a fixed TTL. Redis failures fall
// through to the wrapped source.
type CachedSource struct {
	next Source
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *zap.Logger
}

// NewCachedSource wraps next with a Redis cache.
func NewCachedSource(next Source, rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *CachedSource {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSource{next: next, rdb: rdb, ttl: ttl, log: log}
}

var _ Source = (*CachedSource)(nil)

// Quote returns the cached quote or fetches and stores a fresh one.
func (c *CachedSource) Quote(ctx context.Context, pair string) (domain.Quote, error) {
	key := keyPrefix + strings.ToLower(pair)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var q domain.Quote
		if jerr := json.Unmarshal(raw, &q); jerr == nil {
			observability.RecordCacheLookup(true)
			return q, nil
		}
		c.log.Warn("discarding undecodable cached quote", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("quote cache read failed", zap.String("key", key), zap.Error(err))
	}
	observability.RecordCacheLookup(false)

	q, err := c.next.Quote(ctx, pair)
	if err != nil {
		return domain.Quote{}, err
	}

	if data, jerr := json.Marshal(q); jerr == nil {
		if serr := c.rdb.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.log.Warn("quote cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return q, nil
}
