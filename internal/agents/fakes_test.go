package agents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/research/internal/search"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// scriptedLLM returns canned responses in order and records every request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	errs      []error
	requests  []*llm.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.requests)
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.responses) {
		return nil, errors.New("scriptedLLM: no more responses")
	}
	return s.responses[idx], nil
}

func text(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content, FinishReason: "stop"}
}

func toolCall(id, args string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		ToolCalls:    []llm.ToolCall{{ID: id, Name: WebSearchTool, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]search.Result
	err     error
	queries []string
	ks      []int
}

func (f *fakeSearch) Name() string { return "fake" }

func (f *fakeSearch) Search(ctx context.Context, query string, k int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func testDeps(t *testing.T, client llm.Client) Deps {
	return Deps{LLM: client, Model: "test-model", Logger: zaptest.NewLogger(t), Now: func() time.Time { return fixedNow }}
}
