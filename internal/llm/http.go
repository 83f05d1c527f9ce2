package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/research/internal/util"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultMaxRetries = 3
	maxErrorBody      = 2048
	maxRetryWait      = 30 * time.Second
)

// HTTPConfig configures HTTPClient.
type HTTPConfig struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Breaker    circuitbreaker.Settings
	// Client overrides the transport; tests point it at httptest servers.
	Client *http.Client
}

// HTTPClient talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	provider   string
	maxRetries int
	http       *circuitbreaker.HTTPWrapper
	limits     *ratecontrol.Registry
	logger     *zap.Logger
	backoff    func(attempt int) time.Duration
}

// NewHTTPClient builds a client. limits may be nil.
func NewHTTPClient(cfg HTTPConfig, limits *ratecontrol.Registry, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		provider:   cfg.Provider,
		maxRetries: cfg.MaxRetries,
		http:       circuitbreaker.NewHTTPWrapper(client, "llm", cfg.Provider, cfg.Breaker, logger),
		limits:     limits,
		logger:     logger,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type wireRequest struct {
	Model          string            `json:"model"`
	Messages       []wireMessage     `json:"messages"`
	Tools          []wireTool        `json:"tools,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Temperature    *float64          `json:"temperature,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

func toWire(req *CompletionRequest) wireRequest {
	out := wireRequest{Model: req.Model, Temperature: req.Temperature}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out.Messages = append(out.Messages, wm)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, wireTool{Type: "function", Function: t})
	}
	if req.JSONMode {
		out.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return out
}

// Complete sends the request, retrying on HTTP 429.
func (c *HTTPClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("llm: nil request")
	}
	caller := util.FirstNonEmpty(req.Caller, "unknown")
	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.baseURL+"/chat/completions")
	defer span.End()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limits.Wait(ctx, c.provider, ratecontrol.EstimateTokens(string(body))); err != nil {
			metrics.RecordLLMMetrics(caller, "rate_limited", time.Since(start).Seconds(), 0, 0)
			return nil, err
		}

		resp, retryAfter, err := c.do(ctx, body)
		if err == nil {
			metrics.RecordLLMMetrics(caller, "ok", time.Since(start).Seconds(), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return resp, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests || attempt == c.maxRetries-1 {
			break
		}
		wait := retryAfter
		if wait < 0 {
			wait = c.backoff(attempt)
		}
		if wait > maxRetryWait {
			wait = maxRetryWait
		}
		c.logger.Warn("LLM rate limited, retrying",
			zap.String("caller", caller),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	status := "error"
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) {
		status = strconv.Itoa(apiErr.StatusCode)
	}
	metrics.RecordLLMMetrics(caller, status, time.Since(start).Seconds(), 0, 0)
	return nil, lastErr
}

// do performs one HTTP exchange. retryAfter is -1 when the server gave no hint.
func (c *HTTPClient) do(ctx context.Context, body []byte) (*CompletionResponse, time.Duration, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, -1, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, -1, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, -1, fmt.Errorf("llm: decode response: %w", err)
	}
	if len(wr.Choices) == 0 {
		return nil, -1, errors.New("llm: response has no choices")
	}
	choice := wr.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        wr.Model,
		Usage:        wr.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, -1, nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return -1
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return -1
}
