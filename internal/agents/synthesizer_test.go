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

func sampleFindings() []models.SubtopicFindings {
	return []models.SubtopicFindings{
		{
			Subtopic:    "A",
			Summary:     "about a",
			KeyInsights: []models.KeyFinding{{Finding: "a1", Citations: []string{"https://1", "https://2", "https://3", "https://4"}}},
			Sources: []models.Source{
				{Title: "one", URL: "https://1"}, {Title: "two", URL: "https://2"}, {Title: "three", URL: "https://3"},
				{Title: "four", URL: "https://4"}, {Title: "five", URL: "https://5"}, {Title: "six", URL: "https://6"},
			},
		},
		{
			Subtopic: "B",
			Summary:  "about b",
			Sources:  []models.Source{{Title: "one again", URL: "https://1"}, {Title: "seven", URL: "https://7"}},
		},
	}
}

const synthesisJSON = `{
	"executive_summary": "Summary.",
	"overall_insights": [{"finding": "Cross", "citations": ["https://1"]}],
	"consensus_points": ["agree"],
	"conflicts_and_gaps": "gaps",
	"top_sources": [
		{"title":"1","url":"https://1","why_matters":"w"},{"title":"2","url":"https://2"},{"title":"3","url":"https://3"},
		{"title":"4","url":"https://4"},{"title":"5","url":"https://5"},{"title":"6","url":"https://6"}
	]
}`

func TestSynthesize(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text(synthesisJSON)}}
	report, err := NewSynthesizer(testDeps(t, client)).Synthesize(context.Background(), "Topic", sampleFindings(), models.StyleBusiness, models.ToneAdvisory)
	require.NoError(t, err)

	assert.Equal(t, "Topic", report.Topic)
	assert.Equal(t, []string{"A", "B"}, report.Subtopics)
	assert.Equal(t, "Summary.", report.ExecutiveSummary)
	assert.Len(t, report.TopSources, 5)
	assert.Equal(t, "w", report.TopSources[0].WhyMatters)
	require.Len(t, report.AllSources, 7)
	assert.Equal(t, "one", report.AllSources[0].Title)
	assert.Equal(t, "https://7", report.AllSources[6].URL)
	assert.Equal(t, 0, report.RevisionCount)
	assert.Nil(t, report.CriticReview)
	assert.Equal(t, 2, report.Metadata.NumResearchers)
	assert.Equal(t, 7, report.Metadata.TotalSources)
	assert.Equal(t, models.StyleBusiness, report.Metadata.Style)
	assert.Equal(t, fixedNow, report.Metadata.Timestamp)

	req := client.requests[0]
	assert.True(t, req.JSONMode)
	assert.Equal(t, 0.3, *req.Temperature)
	user := req.Messages[1].Content
	assert.Contains(t, user, "Focus on practical implications and actionable insights.")
	assert.Contains(t, user, "Provide insights and recommendations based on findings.")
	assert.Contains(t, user, "SUBTOPIC 1: A")
	assert.Contains(t, user, "Sources (6 total):")
	assert.Contains(t, user, "https://5")
	assert.NotContains(t, user, "https://6")
	assert.Contains(t, user, "Citations: https://1, https://2, https://3\n")
}

func TestSynthesizeUndecodableYieldsEmptyFields(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text("garbage")}}
	report, err := NewSynthesizer(testDeps(t, client)).Synthesize(context.Background(), "Topic", sampleFindings(), models.StyleTechnical, models.ToneNeutral)
	require.NoError(t, err)
	assert.Empty(t, report.ExecutiveSummary)
	assert.NotNil(t, report.OverallInsights)
	assert.NotNil(t, report.ConsensusPoints)
	assert.NotNil(t, report.TopSources)
	assert.Len(t, report.AllSources, 7)
}

func TestSynthesizeLLMError(t *testing.T) {
	boom := errors.New("down")
	client := &scriptedLLM{errs: []error{boom}}
	_, err := NewSynthesizer(testDeps(t, client)).Synthesize(context.Background(), "Topic", sampleFindings(), models.StyleTechnical, models.ToneNeutral)
	assert.ErrorIs(t, err, boom)
}

func TestReviseIncrementsCountAndKeepsFindings(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text(`{"executive_summary":"Better."}`)}}
	in := models.Report{
		Topic:            "Topic",
		ExecutiveSummary: "Old.",
		SubtopicFindings: sampleFindings(),
		RevisionCount:    1,
		Metadata:         models.ReportMetadata{RunID: "run-1", Mode: models.ModeParallel},
	}
	out, err := NewSynthesizer(testDeps(t, client)).Revise(context.Background(), in, "add citations", models.StyleTechnical, models.ToneNeutral)
	require.NoError(t, err)
	assert.Equal(t, 2, out.RevisionCount)
	assert.Equal(t, "Better.", out.ExecutiveSummary)
	assert.Equal(t, in.SubtopicFindings[0].Subtopic, out.SubtopicFindings[0].Subtopic)
	assert.Len(t, out.SubtopicFindings, 2)
	assert.Equal(t, "run-1", out.Metadata.RunID)
	assert.Equal(t, models.ModeParallel, out.Metadata.Mode)

	user := client.requests[0].Messages[1].Content
	assert.Contains(t, user, "REVISION INSTRUCTIONS FROM CRITIC:\nadd citations")
	assert.Contains(t, user, "EXECUTIVE SUMMARY:\nOld.")
}
