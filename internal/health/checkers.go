package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
)

const (
	// highLatency marks a reachable dependency as degraded.
	highLatency  = 100 * time.Millisecond
	probeTimeout = 5 * time.Second
)

// probe is a Checker backed by a function.
type probe struct {
	name     string
	critical bool
	timeout  time.Duration
	fn       func(ctx context.Context) CheckResult
}

func (p *probe) Name() string                          { return p.name }
func (p *probe) IsCritical() bool                      { return p.critical }
func (p *probe) Timeout() time.Duration                { return p.timeout }
func (p *probe) Check(ctx context.Context) CheckResult { return p.fn(ctx) }

// NewCustomHealthChecker wraps fn as a Checker.
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, fn func(ctx context.Context) CheckResult) Checker {
	return &probe{name: name, critical: critical, timeout: timeout, fn: fn}
}

func failed(msg string, err error) CheckResult {
	return CheckResult{Status: StatusUnhealthy, Message: msg, Error: err.Error()}
}

var errBreakerOpen = errors.New("circuit breaker open")

// byLatency is healthy unless the round trip was slow.
func byLatency(component string, took time.Duration) CheckResult {
	r := CheckResult{
		Status:  StatusHealthy,
		Message: component + " healthy",
		Details: map[string]interface{}{"latency_ms": took.Milliseconds()},
	}
	if took > highLatency {
		r.Status = StatusDegraded
		r.Message = component + " responding but with high latency"
	}
	return r
}

// NewRedisHealthChecker probes the report cache. Redis is optional, so a
// failure degrades the service without taking it out of readiness.
func NewRedisHealthChecker(rw *circuitbreaker.RedisWrapper, logger *zap.Logger) Checker {
	return NewCustomHealthChecker("redis", false, probeTimeout, func(ctx context.Context) CheckResult {
		if rw.IsCircuitBreakerOpen() {
			return failed("Redis circuit breaker is open", errBreakerOpen)
		}
		start := time.Now()
		if err := rw.Ping(ctx); err != nil {
			return failed("Redis ping failed", err)
		}
		return byLatency("Redis", time.Since(start))
	})
}

// DatabaseProbe is the slice of the report store the database checker needs.
type DatabaseProbe interface {
	Ping(ctx context.Context) error
	Stats() sql.DBStats
	BreakerOpen() bool
}

// NewDatabaseHealthChecker probes the report store.
func NewDatabaseHealthChecker(db DatabaseProbe, logger *zap.Logger) Checker {
	return NewCustomHealthChecker("database", true, probeTimeout, func(ctx context.Context) CheckResult {
		if db.BreakerOpen() {
			return failed("Database circuit breaker is open", errBreakerOpen)
		}
		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			return failed("Database ping failed", err)
		}
		r := byLatency("Database", time.Since(start))

		stats := db.Stats()
		if stats.MaxOpenConnections > 1 && stats.InUse >= stats.MaxOpenConnections {
			r.Status = StatusDegraded
			r.Message = "Database connection pool exhausted"
		}
		r.Details["open_connections"] = stats.OpenConnections
		r.Details["max_open_connections"] = stats.MaxOpenConnections
		r.Details["in_use_connections"] = stats.InUse
		return r
	})
}

// NewTemporalHealthChecker probes the Temporal frontend. Registered only for
// the temporal executor.
func NewTemporalHealthChecker(c client.Client, logger *zap.Logger) Checker {
	return NewCustomHealthChecker("temporal", true, probeTimeout, func(ctx context.Context) CheckResult {
		if _, err := c.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
			return failed("Temporal frontend unreachable", err)
		}
		return CheckResult{Status: StatusHealthy, Message: "Temporal healthy"}
	})
}

// NewLLMServiceHealthChecker checks that the chat completions host answers.
// Anything below 500 counts as reachable; credentials are not exercised.
func NewLLMServiceHealthChecker(baseURL string, logger *zap.Logger) Checker {
	hc := &http.Client{Timeout: probeTimeout}
	return NewCustomHealthChecker("llm_service", false, probeTimeout, func(ctx context.Context) CheckResult {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
		if err != nil {
			return failed("Invalid LLM base URL", err)
		}
		start := time.Now()
		resp, err := hc.Do(req)
		if err != nil {
			return failed("LLM service unreachable", err)
		}
		resp.Body.Close()

		r := CheckResult{
			Status:  StatusHealthy,
			Message: "LLM service reachable",
			Details: map[string]interface{}{
				"base_url":    baseURL,
				"status_code": resp.StatusCode,
				"latency_ms":  time.Since(start).Milliseconds(),
			},
		}
		if resp.StatusCode >= 500 {
			r.Status = StatusDegraded
			r.Message = fmt.Sprintf("LLM service returned %d", resp.StatusCode)
		}
		return r
	})
}
