package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/errify/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitTimeout   = 250 * time.Millisecond
)

// RateLimitStore is a fixed-window request counter shared by all server
// instances. It satisfies echo's RateLimiterStore. When Redis is unreachable
// requests are allowed.
type RateLimitStore struct {
	rdb     *goredis.Client
	clock   clockwork.Clock
	limit   int64
	window  time.Duration
	metrics *metrics.RedisMetrics
}

var _ middleware.RateLimiterStore = (*RateLimitStore)(nil)

// NewRateLimitStore allows limit requests per identifier in each window.
// m may be nil.
func NewRateLimitStore(rdb *goredis.Client, clock clockwork.Clock, limit int, window time.Duration, m *metrics.RedisMetrics) *RateLimitStore {
	return &RateLimitStore{
		rdb:     rdb,
		clock:   clock,
		limit:   int64(limit),
		window:  window,
		metrics: m,
	}
}

func (s *RateLimitStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rateLimitTimeout)
	defer cancel()

	count, err := s.increment(ctx, identifier)
	if err != nil {
		slog.Warn("Rate limit check failed, allowing request", "identifier", identifier, "error", err)
		s.record("error")
		return true, nil
	}

	if count > s.limit {
		s.record("denied")
		return false, nil
	}
	s.record("allowed")
	return true, nil
}

func (s *RateLimitStore) increment(ctx context.Context, identifier string) (int64, error) {
	key := s.key(identifier)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

// key buckets the identifier into the current window so counters reset
// without a separate sweep.
func (s *RateLimitStore) key(identifier string) string {
	bucket := s.clock.Now().UnixNano() / int64(s.window)
	return fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, identifier, bucket)
}

func (s *RateLimitStore) record(result string) {
	if s.metrics != nil {
		s.metrics.RateLimitDecisions.WithLabelValues(result).Inc()
	}
}
