package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnumsFallBackToDefaults(t *testing.T) {
	assert.Equal(t, StyleLayperson, ParseStyle("layperson"))
	assert.Equal(t, StyleTechnical, ParseStyle("poetic"))
	assert.Equal(t, ToneAdvisory, ParseTone(" ADVISORY "))
	assert.Equal(t, ToneNeutral, ParseTone(""))
	assert.Equal(t, StrictnessStrict, ParseStrictness("Strict"))
	assert.Equal(t, StrictnessBalanced, ParseStrictness("harsh"))
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
	}{
		{"APPROVED", DecisionApproved},
		{"REVISION_NEEDED", DecisionRevisionNeeded},
		{"revision needed", DecisionRevisionNeeded},
		{"revision-needed", DecisionRevisionNeeded},
		{"", DecisionApproved},
		{"maybe", DecisionApproved},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDecision(tt.in))
		})
	}
}

func TestCriticReviewNormalize(t *testing.T) {
	review := CriticReview{
		Decision:     "revision_needed",
		OverallScore: 14,
		IssuesFound: []CriticIssue{
			{Category: "Citation Accuracy", Severity: "MAJOR", Description: "missing cite"},
			{Description: "no category"},
		},
		RevisionInstructions: "add citations",
	}.Normalize()

	assert.Equal(t, DecisionRevisionNeeded, review.Decision)
	assert.Equal(t, MaxCriticScore, review.OverallScore)
	require.Len(t, review.IssuesFound, 2)
	assert.Equal(t, CategoryCitationAccuracy, review.IssuesFound[0].Category)
	assert.Equal(t, SeverityMajor, review.IssuesFound[0].Severity)
	assert.Equal(t, CategoryCompleteness, review.IssuesFound[1].Category)
	assert.Equal(t, SeverityModerate, review.IssuesFound[1].Severity)
	assert.NotNil(t, review.Strengths)
	assert.Equal(t, "add citations", review.RevisionInstructions)
}

func TestCriticReviewNormalizeDefaults(t *testing.T) {
	review := CriticReview{}.Normalize()
	assert.Equal(t, DefaultReview().Decision, review.Decision)
	assert.Equal(t, DefaultCriticScore, review.OverallScore)
	assert.Empty(t, review.RevisionInstructions)
}

func TestCriticReviewNormalizeFillsMissingInstructions(t *testing.T) {
	review := CriticReview{
		Decision: DecisionRevisionNeeded,
		IssuesFound: []CriticIssue{
			{Description: "thin sourcing", Suggestion: "cite the IEA outlook"},
			{Description: "no cost section"},
			{},
		},
		RevisionInstructions: "  ",
	}.Normalize()
	assert.Equal(t, "- cite the IEA outlook\n- no cost section", review.RevisionInstructions)

	bare := CriticReview{Decision: DecisionRevisionNeeded}.Normalize()
	assert.Equal(t, DefaultRevisionInstructions, bare.RevisionInstructions)
}

func TestErrorFindings(t *testing.T) {
	f := ErrorFindings("Cost trends", errors.New("boom"))
	assert.True(t, f.Failed())
	assert.Equal(t, "Research failed: boom", f.Summary)
	assert.Equal(t, "Error during research: boom", f.ResearcherNotes)
	assert.Equal(t, "boom", f.Metadata.Error)
	assert.Empty(t, f.KeyInsights)
	assert.Empty(t, f.Sources)
}

func TestReportNormalizeRendersEmptyLists(t *testing.T) {
	r := Report{Topic: "t", SubtopicFindings: []SubtopicFindings{{Subtopic: "a"}}}.Normalize()
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "null")
	assert.NotContains(t, string(b), "critic_review")
}

func TestReportWithReviewDoesNotMutate(t *testing.T) {
	r := Report{Topic: "t"}
	reviewed := r.WithReview(CriticReview{Decision: DecisionRevisionNeeded, Iteration: 2})
	assert.Nil(t, r.CriticReview)
	require.NotNil(t, reviewed.CriticReview)
	assert.False(t, reviewed.Approved())
	assert.True(t, r.Approved())
}
