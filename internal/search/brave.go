package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

var errMissingKey = errors.New("api key is missing")

// Brave uses the Brave Search API. An API key is required via X-Subscription-Token.
type Brave struct {
	apiKey   string
	endpoint string
	transport
}

// NewBrave constructs a Brave search provider.
func NewBrave(cfg Config, limits *ratecontrol.Registry, logger *zap.Logger) *Brave {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = braveEndpoint
	}
	return &Brave{apiKey: cfg.APIKey, endpoint: endpoint, transport: newTransport("brave", cfg, limits, logger)}
}

func (b *Brave) Name() string { return "brave" }

// Search executes a Brave query. Brave has no relevance score, so one is derived from rank.
func (b *Brave) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, &Error{Provider: b.Name(), Query: query, Err: errMissingKey}
	}
	maxResults = clampResults(maxResults)

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Provider: b.Name(), Query: query, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.do(ctx, query, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Provider: b.Name(), Query: query, Err: err}
	}

	n := len(payload.Web.Results)
	results := make([]Result, 0, n)
	for i, r := range payload.Web.Results {
		if len(results) >= maxResults {
			break
		}
		score := 1 - float64(i)/float64(n)
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description, Score: &score})
	}
	b.logger.Debug("Brave search completed", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}
