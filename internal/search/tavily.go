package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API with advanced depth.
type Tavily struct {
	apiKey   string
	endpoint string
	transport
}

// NewTavily constructs a Tavily search provider.
func NewTavily(cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) *Tavily {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = tavilyEndpoint
	}
	return &Tavily{apiKey: cfg.APIKey, endpoint: endpoint, transport: newTransport("tavily", cfg, limits, logger)}
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts a query to Tavily.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, &Error{Provider: t.Name(), Query: query, Err: errMissingKey}
	}
	maxResults = clampResults(maxResults)

	payload, err := json.Marshal(map[string]any{
		"api_key":      t.apiKey,
		"query":        query,
		"max_results":  maxResults,
		"search_depth": "advanced",
	})
	if err != nil {
		return nil, &Error{Provider: t.Name(), Query: query, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Provider: t.Name(), Query: query, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.do(ctx, query, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var response struct {
		Results []struct {
			Title   string   `json:"title"`
			URL     string   `json:"url"`
			Content string   `json:"content"`
			Score   *float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &Error{Provider: t.Name(), Query: query, Err: err}
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
		if len(results) >= maxResults {
			break
		}
	}
	t.logger.Debug("Tavily search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}
