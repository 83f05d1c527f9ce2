// Package cache keeps recently completed reports in Redis so status and
// export requests do not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

// ErrMiss means no report is cached for the run.
var ErrMiss = errors.New("report not cached")

const (
	keyPrefix  = "research:report:"
	DefaultTTL = 24 * time.Hour
	cacheLabel = "report"
)

// Key returns the cache key of a run's report.
func Key(runID string) string { return keyPrefix + runID }

// ReportCache stores reports as JSON under research:report:<id>.
type ReportCache struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

func NewReportCache(rdb *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *ReportCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportCache{redis: rdb, ttl: ttl, logger: logger}
}

// Get returns the cached report or ErrMiss.
func (c *ReportCache) Get(ctx context.Context, runID string) (*models.Report, error) {
	data, err := c.redis.Get(ctx, Key(runID))
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues(cacheLabel).Inc()
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", runID, err)
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("Dropping undecodable cached report", zap.String("run_id", runID), zap.Error(err))
		_ = c.redis.Del(ctx, Key(runID))
		metrics.CacheMisses.WithLabelValues(cacheLabel).Inc()
		return nil, ErrMiss
	}
	metrics.CacheHits.WithLabelValues(cacheLabel).Inc()
	return &r, nil
}

// Put stores the report with the configured TTL.
func (c *ReportCache) Put(ctx context.Context, runID string, report models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.redis.Set(ctx, Key(runID), data, c.ttl); err != nil {
		return fmt.Errorf("cache put %s: %w", runID, err)
	}
	return nil
}

// Delete evicts a run's report.
func (c *ReportCache) Delete(ctx context.Context, runID string) error {
	return c.redis.Del(ctx, Key(runID))
}

// Ping checks connectivity for health probes.
func (c *ReportCache) Ping(ctx context.Context) error { return c.redis.Ping(ctx) }
