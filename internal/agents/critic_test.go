package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

func sampleReport() models.Report {
	return models.Report{
		Topic:            "Topic",
		Subtopics:        []string{"A"},
		ExecutiveSummary: "Summary.",
		SubtopicFindings: []models.SubtopicFindings{{Subtopic: "A", Summary: "s"}},
	}
}

func TestReviewParsesDecision(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text(`{
		"decision": "REVISION_NEEDED",
		"overall_score": "6",
		"issues_found": [{"category": "citation_accuracy", "severity": "major", "description": "d", "location": "l", "suggestion": "s"},
		                 {"category": "vibes", "severity": "catastrophic", "description": "x"}],
		"strengths": ["clear"],
		"revision_instructions": "cite more"
	}`)}}
	review, err := NewCritic(testDeps(t, client), models.StrictnessStrict).Review(context.Background(), sampleReport())
	require.NoError(t, err)

	assert.Equal(t, models.DecisionRevisionNeeded, review.Decision)
	assert.Equal(t, 6, review.OverallScore)
	require.Len(t, review.IssuesFound, 2)
	assert.Equal(t, models.CategoryCitationAccuracy, review.IssuesFound[0].Category)
	assert.Equal(t, models.CategoryCompleteness, review.IssuesFound[1].Category)
	assert.Equal(t, models.SeverityModerate, review.IssuesFound[1].Severity)
	assert.Equal(t, "cite more", review.RevisionInstructions)
	assert.True(t, review.NeedsRevision())

	req := client.requests[0]
	assert.Contains(t, req.Messages[0].Content, "Review Strictness: STRICT")
	assert.Contains(t, req.Messages[1].Content, "EXECUTIVE SUMMARY")
	assert.Equal(t, 0.3, *req.Temperature)
}

func TestReviewDefaultsAndClamp(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		text(`{}`),
		text(`{"decision":"APPROVED","overall_score":42}`),
		text(`{"decision":"maybe","overall_score":0}`),
	}}
	c := NewCritic(testDeps(t, client), "")

	r, err := c.Review(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, r.Decision)
	assert.Equal(t, 7, r.OverallScore)

	r, err = c.Review(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, 10, r.OverallScore)

	r, err = c.Review(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, r.Decision)
	assert.Equal(t, 1, r.OverallScore)

	assert.Contains(t, client.requests[0].Messages[0].Content, "Review Strictness: BALANCED")
}

func TestReviewRevisionWithoutInstructionsUsesSuggestions(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text(`{
		"decision": "REVISION_NEEDED",
		"issues_found": [{"category": "completeness", "description": "costs missing", "suggestion": "add 2024 pack prices"}]
	}`)}}
	review, err := NewCritic(testDeps(t, client), "").Review(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.True(t, review.NeedsRevision())
	assert.Equal(t, "- add 2024 pack prices", review.RevisionInstructions)
}

func TestReviewUndecodableApproves(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text("looks fine to me")}}
	r, err := NewCritic(testDeps(t, client), models.StrictnessLenient).Review(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultReview(), r)
}

func TestReviewLLMError(t *testing.T) {
	boom := errors.New("down")
	client := &scriptedLLM{errs: []error{boom}}
	_, err := NewCritic(testDeps(t, client), models.StrictnessLenient).Review(context.Background(), sampleReport())
	assert.ErrorIs(t, err, boom)
}
