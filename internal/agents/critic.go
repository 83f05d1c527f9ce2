package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/prompts"
)

const criticTemperature = 0.3

// Critic reviews a report against the four rubric categories.
type Critic struct {
	deps       Deps
	strictness models.Strictness
}

func NewCritic(deps Deps, strictness models.Strictness) *Critic {
	return &Critic{deps: deps.withDefaults(), strictness: models.ParseStrictness(string(strictness))}
}

type reviewPayload struct {
	Decision     *string `json:"decision"`
	OverallScore flexInt `json:"overall_score"`
	IssuesFound  []struct {
		Category    string `json:"category"`
		Severity    string `json:"severity"`
		Description string `json:"description"`
		Location    string `json:"location"`
		Suggestion  string `json:"suggestion"`
	} `json:"issues_found"`
	Strengths            []string `json:"strengths"`
	RevisionInstructions string   `json:"revision_instructions"`
}

// Review evaluates report. Undecodable output yields DefaultReview; an LLM failure is an error.
// The caller sets Iteration.
func (c *Critic) Review(ctx context.Context, report models.Report) (models.CriticReview, error) {
	row := c.deps.Prompts.Strictness(c.strictness)
	system, err := c.deps.Prompts.Render(prompts.CriticSystem, map[string]any{
		"Strictness":        string(c.strictness),
		"Description":       row.Description,
		"RevisionThreshold": row.RevisionThreshold,
	})
	if err != nil {
		return models.CriticReview{}, err
	}
	user, err := c.deps.Prompts.Render(prompts.CriticUser, map[string]any{"Report": formatForReview(report)})
	if err != nil {
		return models.CriticReview{}, err
	}

	resp, err := c.deps.LLM.Complete(ctx, &llm.CompletionRequest{
		Model: c.deps.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		JSONMode:    true,
		Temperature: llm.Temperature(criticTemperature),
		Caller:      CallerCritic,
	})
	if err != nil {
		return models.CriticReview{}, fmt.Errorf("review: %w", err)
	}

	var payload reviewPayload
	if err := decodeObject(resp.Content, &payload); err != nil {
		c.deps.Logger.Warn("Critic output undecodable, approving by default", zap.Error(err))
		return models.DefaultReview(), nil
	}

	review := models.CriticReview{
		Decision:             models.DecisionApproved,
		OverallScore:         models.DefaultCriticScore,
		Strengths:            payload.Strengths,
		RevisionInstructions: payload.RevisionInstructions,
	}
	if payload.Decision != nil {
		review.Decision = models.ParseDecision(*payload.Decision)
	}
	if payload.OverallScore.Set {
		review.OverallScore = models.ClampScore(payload.OverallScore.Value)
	}
	for _, issue := range payload.IssuesFound {
		review.IssuesFound = append(review.IssuesFound, models.CriticIssue{
			Category:    models.IssueCategory(issue.Category),
			Severity:    models.Severity(issue.Severity),
			Description: issue.Description,
			Location:    issue.Location,
			Suggestion:  issue.Suggestion,
		})
	}
	review = review.Normalize()

	c.deps.Logger.Info("Report reviewed",
		zap.String("decision", string(review.Decision)),
		zap.Int("score", review.OverallScore),
		zap.Int("issues", len(review.IssuesFound)),
		zap.String("strictness", string(c.strictness)),
	)
	return review, nil
}
