package agents

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/search"
)

var spec = models.SubtopicSpec{Name: "Battery chemistry", Description: "Cells", SearchQueries: []string{"solid state battery"}}

func results(urls ...string) []search.Result {
	out := make([]search.Result, 0, len(urls))
	for _, u := range urls {
		out = append(out, search.Result{Title: "T " + u, URL: u, Snippet: "s"})
	}
	return out
}

func TestResearchToolLoop(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"solid state battery"}`),
		text("Here you go:\n```json\n{\"summary\":\"Solid state is close.\",\"key_insights\":[{\"finding\":\"Density up\",\"citations\":[\"https://a\"]}],\"researcher_notes\":\"n\"}\n```"),
	}}
	provider := &fakeSearch{results: map[string][]search.Result{"solid state battery": results("https://a", "https://b")}}

	f, err := NewResearcher(testDeps(t, client), provider, 0, 0).Research(context.Background(), 1, spec, "Energy storage")
	require.NoError(t, err)

	assert.Equal(t, "Battery chemistry", f.Subtopic)
	assert.Equal(t, "Solid state is close.", f.Summary)
	require.Len(t, f.KeyInsights, 1)
	assert.Equal(t, "Density up", f.KeyInsights[0].Finding)
	assert.Len(t, f.Sources, 2)
	assert.Equal(t, "n", f.ResearcherNotes)
	assert.Equal(t, "Researcher 2", f.Metadata.AgentID)
	assert.Equal(t, "test-model", f.Metadata.Model)
	assert.Equal(t, fixedNow, f.Metadata.Timestamp)
	assert.Equal(t, []string{"solid state battery"}, f.Metadata.QueriesUsed)
	assert.Equal(t, 2, f.Metadata.NumSources)
	assert.False(t, f.Failed())

	assert.Equal(t, []int{DefaultMaxSources}, provider.ks)
	require.Len(t, client.requests, 2)
	first := client.requests[0]
	require.Len(t, first.Tools, 1)
	assert.Equal(t, WebSearchTool, first.Tools[0].Name)
	assert.Contains(t, first.Messages[1].Content, "Main Topic: Energy storage")
	second := client.requests[1]
	toolMsg := second.Messages[len(second.Messages)-1]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "c1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "https://a")
}

func TestResearchSearchFailureGoesBackToModel(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"q","k":3}`),
		text(`{"summary":"Nothing found.","key_insights":[]}`),
	}}
	provider := &fakeSearch{err: &search.Error{Provider: "fake", Query: "q", StatusCode: 500}}

	f, err := NewResearcher(testDeps(t, client), provider, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, provider.ks)
	assert.Equal(t, "Nothing found.", f.Summary)
	assert.Empty(t, f.KeyInsights)
	assert.Empty(t, f.Sources)

	toolMsg := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.True(t, strings.HasPrefix(toolMsg.Content, `{"error":`), toolMsg.Content)
}

func TestResearchClampsRequestedResultCount(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"q","k":100}`),
		toolCall("c2", `{"query":"q","k":-2}`),
		text(`{"summary":"done","key_insights":[]}`),
	}}
	provider := &fakeSearch{results: map[string][]search.Result{"q": results("https://a")}}

	_, err := NewResearcher(testDeps(t, client), provider, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8}, provider.ks)
}

func TestResearchRoundLimitForcesFinalAnswer(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"a"}`),
		toolCall("c2", `{"query":"b"}`),
		toolCall("c3", `{"query":"c"}`),
		text(`{"summary":"done","key_insights":[{"finding":"f","citations":[]}]}`),
	}}
	provider := &fakeSearch{results: map[string][]search.Result{"a": results("https://a"), "b": results("https://b")}}

	f, err := NewResearcher(testDeps(t, client), provider, 8, 2).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, provider.queries)
	assert.Equal(t, "done", f.Summary)

	require.Len(t, client.requests, 4)
	final := client.requests[3]
	assert.Empty(t, final.Tools)
	last := final.Messages[len(final.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "search limit")
}

func TestResearchFallbacksWithoutJSON(t *testing.T) {
	long := strings.Repeat("é", 600)
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"q"}`),
		text(long),
	}}
	provider := &fakeSearch{results: map[string][]search.Result{"q": results("https://1", "https://2", "https://3", "https://4")}}

	f, err := NewResearcher(testDeps(t, client), provider, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, 500, utf8.RuneCountInString(f.Summary))
	require.Len(t, f.KeyInsights, 1)
	assert.Equal(t, "Research findings on Battery chemistry", f.KeyInsights[0].Finding)
	assert.Equal(t, []string{"https://1", "https://2", "https://3"}, f.KeyInsights[0].Citations)
}

func TestResearchFallbackFindingUsesParsedSummary(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `{"query":"q"}`),
		text(`{"summary":"Short answer."}`),
	}}
	provider := &fakeSearch{results: map[string][]search.Result{"q": results("https://1")}}

	f, err := NewResearcher(testDeps(t, client), provider, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	require.Len(t, f.KeyInsights, 1)
	assert.Equal(t, "Short answer.", f.KeyInsights[0].Finding)
	assert.Equal(t, []string{"https://1"}, f.KeyInsights[0].Citations)
}

func TestResearchEmptyAnswerNoSources(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{text("")}}
	f, err := NewResearcher(testDeps(t, client), &fakeSearch{}, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Equal(t, "Research on Battery chemistry", f.Summary)
	assert.Empty(t, f.KeyInsights)
	assert.NotNil(t, f.KeyInsights)
	assert.Empty(t, f.Sources)
}

func TestResearchLLMFailure(t *testing.T) {
	boom := errors.New("upstream down")
	client := &scriptedLLM{
		responses: []*llm.CompletionResponse{toolCall("c1", `{"query":"q"}`)},
		errs:      []error{nil, boom},
	}
	_, err := NewResearcher(testDeps(t, client), &fakeSearch{}, 8, 5).Research(context.Background(), 0, spec, "")
	assert.ErrorIs(t, err, boom)
}

func TestResearchInvalidToolArguments(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.CompletionResponse{
		toolCall("c1", `not json`),
		text(`{"summary":"s"}`),
	}}
	provider := &fakeSearch{}
	_, err := NewResearcher(testDeps(t, client), provider, 8, 5).Research(context.Background(), 0, spec, "")
	require.NoError(t, err)
	assert.Empty(t, provider.queries)
	toolMsg := client.requests[1].Messages[len(client.requests[1].Messages)-1]
	assert.Contains(t, toolMsg.Content, "invalid arguments")
}
