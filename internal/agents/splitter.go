package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
	"github.com/Kocoro-lab/Shannon/go/research/internal/util"
)

// ErrNoSubtopics means the splitter produced nothing to research.
var ErrNoSubtopics = errors.New("splitter returned no subtopics")

const (
	minSubtopics        = 2
	maxSubtopics        = 4
	splitterTemperature = 0.7
)

// SplitResult is the splitter output.
type SplitResult struct {
	Analysis  string
	Subtopics []models.SubtopicSpec
}

// Splitter breaks a topic into independently researchable subtopics.
type Splitter struct {
	deps         Deps
	numSubtopics int
}

// NewSplitter clamps numSubtopics into [2,4].
func NewSplitter(deps Deps, numSubtopics int) *Splitter {
	return &Splitter{deps: deps.withDefaults(), numSubtopics: ClampSubtopics(numSubtopics)}
}

// ClampSubtopics bounds the requested subtopic count.
func ClampSubtopics(n int) int {
	if n < minSubtopics {
		return minSubtopics
	}
	if n > maxSubtopics {
		return maxSubtopics
	}
	return n
}

// NumSubtopics is the clamped count requested from the model.
func (s *Splitter) NumSubtopics() int { return s.numSubtopics }

type splitPayload struct {
	MainTopicAnalysis string `json:"main_topic_analysis"`
	Subtopics         []struct {
		Name          string   `json:"name"`
		Description   string   `json:"description"`
		SearchQueries []string `json:"search_queries"`
	} `json:"subtopics"`
}

// Split asks the model for subtopics. Blank names are dropped.
func (s *Splitter) Split(ctx context.Context, topic string) (*SplitResult, error) {
	data := map[string]any{"NumSubtopics": s.numSubtopics, "Topic": topic}
	system, err := s.deps.Prompts.Render(prompts.SplitterSystem, data)
	if err != nil {
		return nil, err
	}
	user, err := s.deps.Prompts.Render(prompts.SplitterUser, data)
	if err != nil {
		return nil, err
	}

	resp, err := s.deps.LLM.Complete(ctx, &llm.CompletionRequest{
		Model: s.deps.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		JSONMode:    true,
		Temperature: llm.Temperature(splitterTemperature),
		Caller:      CallerSplitter,
	})
	if err != nil {
		return nil, fmt.Errorf("split topic: %w", err)
	}

	var payload splitPayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		return nil, fmt.Errorf("split topic: decode: %w", err)
	}

	result := &SplitResult{Analysis: payload.MainTopicAnalysis, Subtopics: []models.SubtopicSpec{}}
	for _, st := range payload.Subtopics {
		name := strings.TrimSpace(st.Name)
		if name == "" {
			continue
		}
		result.Subtopics = append(result.Subtopics, models.SubtopicSpec{
			Name:          name,
			Description:   st.Description,
			SearchQueries: util.CompactStrings(st.SearchQueries),
		})
	}
	if len(result.Subtopics) == 0 {
		return nil, ErrNoSubtopics
	}

	s.deps.Logger.Info("Topic split",
		zap.String("topic", topic),
		zap.Int("subtopics", len(result.Subtopics)),
		zap.String("analysis", result.Analysis),
	)
	return result, nil
}
