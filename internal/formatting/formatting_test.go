package formatting

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

func sampleReport() models.Report {
	score := 0.91
	return models.Report{
		Topic:            "Renewable energy storage",
		Subtopics:        []string{"Battery chemistry", "Cost trends"},
		ExecutiveSummary: "Storage costs fell & deployments <grew>.",
		SubtopicFindings: []models.SubtopicFindings{
			{
				Subtopic: "Battery chemistry",
				Summary:  "LFP dominates new installs.",
				KeyInsights: []models.KeyFinding{
					{Finding: "LFP share rose", Citations: []string{"https://nrel.gov/lfp"}},
				},
				Sources:  []models.Source{{Title: "NREL LFP", URL: "https://nrel.gov/lfp", Score: &score}},
				Metadata: models.FindingsMetadata{AgentID: "Researcher 1", NumSources: 1},
			},
			models.ErrorFindings("Cost trends", assertErr("timeout")),
		},
		OverallInsights: []models.KeyFinding{
			{Finding: "Costs are falling", Citations: []string{"https://nrel.gov/lfp"}},
		},
		ConsensusPoints:  []string{"Chemistry matters"},
		ConflictsAndGaps: "Cost data is sparse.",
		AllSources: []models.Source{
			{Title: "NREL LFP", URL: "https://nrel.gov/lfp"},
			{Title: "IEA outlook", URL: "https://www.iea.org/outlook"},
		},
		TopSources: []models.Source{
			{Title: "NREL | LFP", URL: "https://nrel.gov/lfp", WhyMatters: "primary data"},
		},
		RevisionCount: 1,
		CriticReview: &models.CriticReview{
			Decision:             models.DecisionRevisionNeeded,
			OverallScore:         6,
			IssuesFound:          []models.CriticIssue{{Category: models.CategoryCompleteness, Severity: models.SeverityMajor, Description: "missing costs"}},
			Strengths:            []string{"clear"},
			RevisionInstructions: "add cost data",
			Iteration:            2,
		},
		Metadata: models.ReportMetadata{
			RunID:          "run-1",
			Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			NumResearchers: 2,
			Style:          models.StyleTechnical,
			Tone:           models.ToneNeutral,
		},
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestExportJSONIsByteStable(t *testing.T) {
	r := sampleReport()
	a, err := ExportJSON(r)
	require.NoError(t, err)
	b, err := ExportJSON(r)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
	assert.True(t, bytes.HasSuffix(a, []byte("}\n")))
	assert.Contains(t, string(a), "\n  \"topic\": ")
	assert.Contains(t, string(a), "<grew>")
}

func TestExportJSONRoundTripsLosslessly(t *testing.T) {
	r := sampleReport()
	data, err := ExportJSON(r)
	require.NoError(t, err)
	back, err := ImportJSON(data)
	require.NoError(t, err)
	if diff := cmp.Diff(r.Normalize(), back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestExportDoesNotMutateReport(t *testing.T) {
	r := models.Report{Topic: "bare"}
	before := r
	_, err := ExportJSON(r)
	require.NoError(t, err)
	_ = RenderMarkdown(r)
	if diff := cmp.Diff(before, r); diff != "" {
		t.Fatalf("report mutated:\n%s", diff)
	}
}

func TestRenderMarkdownSections(t *testing.T) {
	md := RenderMarkdown(sampleReport())

	order := []string{
		"# Research Report: Renewable energy storage",
		"## Executive Summary",
		"## Key Insights",
		"## Consensus Points",
		"## Subtopic Findings",
		"## Conflicts & Gaps",
		"## Top Sources",
		"## Critic Review",
		"## All Sources",
	}
	last := -1
	for _, h := range order {
		idx := strings.Index(md, h)
		require.NotEqual(t, -1, idx, h)
		assert.Greater(t, idx, last, h)
		last = idx
	}

	assert.Contains(t, md, "> Research failed: timeout")
	assert.Contains(t, md, "| Title |")
	assert.Contains(t, md, `NREL \| LFP`)
	assert.Contains(t, md, "nrel.gov")
	assert.Contains(t, md, "Source domains: iea.org (1), nrel.gov (1)\n")
	assert.Contains(t, md, "1. [NREL LFP](https://nrel.gov/lfp) - Cited")
	assert.Contains(t, md, "2. [IEA outlook](https://www.iea.org/outlook) - Additional source")
	assert.Contains(t, md, "**Decision:** REVISION_NEEDED | **Score:** 6/10 | **Iteration:** 2")
	assert.Contains(t, md, "Generated: 2026-03-01 12:00 UTC")
}

func TestRenderMarkdownIsDeterministic(t *testing.T) {
	r := sampleReport()
	if diff := cmp.Diff(RenderMarkdown(r), RenderMarkdown(r)); diff != "" {
		t.Fatal(diff)
	}
}

func TestRenderMarkdownEmptyReport(t *testing.T) {
	md := RenderMarkdown(models.Report{Topic: "empty"})
	assert.NotContains(t, md, "## Critic Review")
	assert.Contains(t, md, "## Top Sources\n\n_None._")
	assert.NotContains(t, md, "Source domains:")
}

func TestSummaryTable(t *testing.T) {
	out := SummaryTable(sampleReport())
	assert.Contains(t, out, "Battery chemistry")
	assert.Contains(t, out, "failed: timeout")
	assert.Contains(t, out, "REVISION_NEEDED 6/10")
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Renewable energy storage", "Renewable energy storage"},
		{"AI/ML: what's next?", "AI_ML_ what_s next_"},
		{"", "report"},
		{"   ", "report"},
		{strings.Repeat("x", 40), strings.Repeat("x", 30)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeName(tt.in), tt.in)
	}
}

func TestWriteFiles(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport()
	paths, err := WriteFiles(dir, report, FormatJSON, FormatMarkdown)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "Renewable energy storage.json"), paths[0])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	want, err := ExportJSON(report)
	require.NoError(t, err)
	if diff := cmp.Diff(string(want), string(data)); diff != "" {
		t.Errorf("json file mismatch (-want +got):\n%s", diff)
	}

	md, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, RenderMarkdown(report), string(md))

	_, err = WriteFiles(dir, report, "pdf")
	assert.Error(t, err)
}
