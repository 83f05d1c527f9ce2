// Package search provides the web search backends used by the researcher tool loop.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
)

// DefaultMaxResults is used when a caller passes maxResults <= 0.
const DefaultMaxResults = 8

// ErrSearchFailed matches every *Error via errors.Is.
var ErrSearchFailed = errors.New("search failed")

// Result is one web search hit.
type Result struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Snippet string   `json:"snippet"`
	Score   *float64 `json:"score,omitempty"`
}

// Provider runs a web search. An empty result set is not an error.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Error describes a failed search.
type Error struct {
	Provider   string
	Query      string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s search %q: http %d", e.Provider, e.Query, e.StatusCode)
	}
	return fmt.Sprintf("%s search %q: %v", e.Provider, e.Query, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrSearchFailed }

// Config configures a provider.
type Config struct {
	Provider string
	APIKey   string
	// BaseURL overrides the provider endpoint.
	BaseURL string
	Timeout time.Duration
	Breaker circuitbreaker.Settings
	Client  *http.Client
}

// New builds the provider named by cfg.Provider.
func New(cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "tavily":
		return NewTavily(cfg, limits, logger), nil
	case "brave":
		return NewBrave(cfg, limits, logger), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

// transport is shared by providers: breaker wrapped client plus the provider rate limiter.
type transport struct {
	name   string
	http   *circuitbreaker.HTTPWrapper
	limits *ratecontrol.Registry
	logger *zap.Logger
}

func newTransport(name string, cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return transport{
		name:   name,
		http:   circuitbreaker.NewHTTPWrapper(client, "search-"+name, name, cfg.Breaker, logger),
		limits: limits,
		logger: logger,
	}
}

func (t transport) do(ctx context.Context, query string, req *http.Request) (*http.Response, error) {
	if err := t.limits.Wait(ctx, t.name, 0); err != nil {
		return nil, &Error{Provider: t.name, Query: query, Err: err}
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: t.name, Query: query, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &Error{Provider: t.name, Query: query, StatusCode: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	return resp, nil
}

func clampResults(maxResults int) int {
	if maxResults <= 0 {
		return DefaultMaxResults
	}
	return maxResults
}
