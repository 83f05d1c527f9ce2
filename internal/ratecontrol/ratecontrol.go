package ratecontrol

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit is a requests-per-minute and tokens-per-minute budget. Zero means unlimited.
type RateLimit struct {
	RPM int `mapstructure:"rpm"`
	TPM int `mapstructure:"tpm"`
}

var builtInProviderLimits = map[string]RateLimit{
	"openai":  {RPM: 30, TPM: 60000},
	"tavily":  {RPM: 60},
	"brave":   {RPM: 60},
	"unknown": {RPM: 45, TPM: 90000},
}

// LimitForProvider returns the override for provider if set, else the built-in default.
func LimitForProvider(provider string, overrides map[string]RateLimit) RateLimit {
	key := strings.ToLower(strings.TrimSpace(provider))
	if override, ok := overrides[key]; ok {
		return override
	}
	if limit, ok := builtInProviderLimits[key]; ok {
		return limit
	}
	return builtInProviderLimits["unknown"]
}

// CombineLimits keeps the stricter positive value of each dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
	return limit
}

// EstimateTokens is a rough chars/4 estimate used to reserve TPM budget before a call.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}

type providerLimiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// Registry hands out one limiter pair per provider; safe for concurrent use
// by the research worker pool.
type Registry struct {
	mu        sync.Mutex
	overrides map[string]RateLimit
	limiters  map[string]*providerLimiter
}

// NewRegistry creates a registry with per-provider overrides (keys lowercase).
func NewRegistry(overrides map[string]RateLimit) *Registry {
	normalized := make(map[string]RateLimit, len(overrides))
	for k, v := range overrides {
		normalized[strings.ToLower(k)] = v
	}
	return &Registry{overrides: normalized, limiters: make(map[string]*providerLimiter)}
}

func (r *Registry) get(provider string) *providerLimiter {
	key := strings.ToLower(strings.TrimSpace(provider))
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	limit := LimitForProvider(key, r.overrides)
	l := &providerLimiter{
		requests: newLimiter(limit.RPM),
		tokens:   newLimiter(limit.TPM),
	}
	r.limiters[key] = l
	return l
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

// Wait blocks until provider may issue one request carrying estimatedTokens.
func (r *Registry) Wait(ctx context.Context, provider string, estimatedTokens int) error {
	if r == nil {
		return nil
	}
	l := r.get(provider)
	if err := l.requests.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", provider, err)
	}
	if estimatedTokens <= 0 || l.tokens.Limit() == rate.Inf {
		return nil
	}
	if burst := l.tokens.Burst(); estimatedTokens > burst {
		estimatedTokens = burst
	}
	if err := l.tokens.WaitN(ctx, estimatedTokens); err != nil {
		return fmt.Errorf("token rate limit %s: %w", provider, err)
	}
	return nil
}

// Limit reports the effective limit for provider.
func (r *Registry) Limit(provider string) RateLimit {
	return LimitForProvider(provider, r.overrides)
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
