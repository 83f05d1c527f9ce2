package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/research/internal/search"
	"github.com/Kocoro-lab/Shannon/go/research/internal/util"
)

const (
	// WebSearchTool is the only tool offered to researchers.
	WebSearchTool        = "web_search"
	DefaultMaxSources    = 8
	DefaultMaxToolRounds = 5

	fallbackSummaryRunes = 500
	fallbackCitations    = 3
)

// Researcher investigates one subtopic with a web search tool loop.
type Researcher struct {
	deps          Deps
	search        search.Provider
	maxSources    int
	maxToolRounds int
}

// NewResearcher builds a researcher. Non-positive limits take the defaults.
func NewResearcher(deps Deps, provider search.Provider, maxSources, maxToolRounds int) *Researcher {
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	if maxToolRounds <= 0 {
		maxToolRounds = DefaultMaxToolRounds
	}
	return &Researcher{deps: deps.withDefaults(), search: provider, maxSources: maxSources, maxToolRounds: maxToolRounds}
}

func (r *Researcher) searchTool() llm.Tool {
	return llm.Tool{
		Name:        WebSearchTool,
		Description: r.deps.Prompts.SearchToolDescription(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query for finding relevant sources",
				},
				"k": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Number of results to return (default: %d)", r.maxSources),
					"default":     r.maxSources,
				},
			},
			"required": []string{"query"},
		},
	}
}

type searchArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// Research runs the tool loop for spec. index is the zero-based subtopic position.
// An LLM failure is returned as an error; search failures are reported to the model.
func (r *Researcher) Research(ctx context.Context, index int, spec models.SubtopicSpec, mainTopic string) (models.SubtopicFindings, error) {
	agentID := ResearcherID(index)
	logger := r.deps.Logger.With(zap.String("agent_id", agentID), zap.String("subtopic", spec.Name))

	system, err := r.deps.Prompts.Render(prompts.ResearcherSystem, nil)
	if err != nil {
		return models.SubtopicFindings{}, err
	}
	user, err := r.deps.Prompts.Render(prompts.ResearcherUser, map[string]any{
		"MainTopic":   mainTopic,
		"Name":        spec.Name,
		"Description": spec.Description,
		"Queries":     spec.SearchQueries,
	})
	if err != nil {
		return models.SubtopicFindings{}, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
	tools := []llm.Tool{r.searchTool()}

	var sources []search.Result
	queries := []string{}

	resp, err := r.complete(ctx, messages, tools)
	if err != nil {
		return models.SubtopicFindings{}, err
	}
	for rounds := 0; resp.HasToolCalls(); rounds++ {
		if rounds >= r.maxToolRounds {
			logger.Debug("Tool round limit reached, requesting final answer", zap.Int("rounds", rounds))
			finalize, err := r.deps.Prompts.Render(prompts.ResearcherFinal, nil)
			if err != nil {
				return models.SubtopicFindings{}, err
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: finalize})
			resp, err = r.complete(ctx, messages, nil)
			if err != nil {
				return models.SubtopicFindings{}, err
			}
			break
		}

		messages = append(messages, resp.AssistantMessage())
		for _, call := range resp.ToolCalls {
			content, found, query := r.runTool(ctx, call, logger)
			if query != "" {
				queries = append(queries, query)
			}
			sources = append(sources, found...)
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: content})
		}

		resp, err = r.complete(ctx, messages, tools)
		if err != nil {
			return models.SubtopicFindings{}, err
		}
	}

	findings := r.parseFindings(spec, sources, resp.Content)
	findings.Metadata = models.FindingsMetadata{
		Timestamp:   r.deps.Now(),
		AgentID:     agentID,
		Model:       r.deps.Model,
		QueriesUsed: queries,
		NumSources:  len(sources),
	}
	logger.Info("Subtopic researched",
		zap.Int("sources", len(sources)),
		zap.Int("queries", len(queries)),
		zap.Int("insights", len(findings.KeyInsights)),
	)
	return findings, nil
}

func (r *Researcher) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.CompletionResponse, error) {
	resp, err := r.deps.LLM.Complete(ctx, &llm.CompletionRequest{
		Model:    r.deps.Model,
		Messages: messages,
		Tools:    tools,
		Caller:   CallerResearcher,
	})
	if err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}
	return resp, nil
}

// runTool executes one tool call and returns the tool message content.
func (r *Researcher) runTool(ctx context.Context, call llm.ToolCall, logger *zap.Logger) (string, []search.Result, string) {
	if call.Name != WebSearchTool {
		return toolError(fmt.Sprintf("unknown tool %q", call.Name)), nil, ""
	}
	var args searchArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return toolError("invalid arguments: a non-empty query is required"), nil, ""
	}
	k := args.K
	if k <= 0 || k > r.maxSources {
		k = r.maxSources
	}

	start := time.Now()
	results, err := r.search.Search(ctx, args.Query, k)
	if err != nil {
		metrics.RecordSearchMetrics(r.search.Name(), "error", time.Since(start).Seconds())
		logger.Warn("Search failed", zap.String("query", args.Query), zap.Error(err))
		if ctx.Err() != nil {
			return toolError(ctx.Err().Error()), nil, args.Query
		}
		var serr *search.Error
		if errors.As(err, &serr) {
			return toolError(serr.Error()), nil, args.Query
		}
		return toolError(err.Error()), nil, args.Query
	}
	metrics.RecordSearchMetrics(r.search.Name(), "ok", time.Since(start).Seconds())

	if results == nil {
		results = []search.Result{}
	}
	body, err := json.Marshal(results)
	if err != nil {
		return toolError(err.Error()), nil, args.Query
	}
	return string(body), results, args.Query
}

func toolError(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

type findingsPayload struct {
	Summary     *string `json:"summary"`
	KeyInsights []struct {
		Finding   string   `json:"finding"`
		Citations []string `json:"citations"`
	} `json:"key_insights"`
	ResearcherNotes string `json:"researcher_notes"`
}

// parseFindings turns the final model text into findings, filling gaps from the sources.
func (r *Researcher) parseFindings(spec models.SubtopicSpec, results []search.Result, analysis string) models.SubtopicFindings {
	var payload findingsPayload
	if span, ok := extractObject(analysis); ok {
		if err := json.Unmarshal([]byte(span), &payload); err != nil {
			payload = findingsPayload{}
		}
	}

	sources := make([]models.Source, 0, len(results))
	for _, res := range results {
		sources = append(sources, models.Source{Title: res.Title, URL: res.URL, Snippet: res.Snippet, Score: res.Score})
	}

	insights := make([]models.KeyFinding, 0, len(payload.KeyInsights))
	for _, in := range payload.KeyInsights {
		insights = append(insights, models.KeyFinding{Finding: in.Finding, Citations: in.Citations}.Normalize())
	}

	var summary string
	switch {
	case payload.Summary != nil:
		summary = *payload.Summary
	case analysis != "":
		summary = util.TruncateRunes(analysis, fallbackSummaryRunes)
	default:
		summary = "Research on " + spec.Name
	}

	if len(insights) == 0 && len(sources) > 0 {
		finding := "Research findings on " + spec.Name
		if payload.Summary != nil {
			finding = *payload.Summary
		}
		insights = append(insights, models.KeyFinding{
			Finding:   finding,
			Citations: metadata.LeadingURLs(sources, fallbackCitations),
		})
	}

	return models.SubtopicFindings{
		Subtopic:        spec.Name,
		Summary:         summary,
		KeyInsights:     insights,
		Sources:         sources,
		ResearcherNotes: payload.ResearcherNotes,
	}
}
