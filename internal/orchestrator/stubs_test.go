package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/agents"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metadata"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

type stubSplitter struct {
	names []string
	err   error
}

func (s *stubSplitter) Split(_ context.Context, topic string) (*agents.SplitResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := &agents.SplitResult{Analysis: "analysis of " + topic}
	for _, n := range s.names {
		out.Subtopics = append(out.Subtopics, models.SubtopicSpec{Name: n, Description: n + " description"})
	}
	return out, nil
}

// stubResearcher returns sourcesPer sources for each subtopic. delay(i) is
// applied before returning; fail and panicOn select indices that misbehave.
type stubResearcher struct {
	sourcesPer int
	sharedURL  string
	delay      func(i int) time.Duration
	fail       map[int]error
	panicOn    map[int]bool
	block      map[int]bool

	mu       sync.Mutex
	active   int32
	maxSeen  int32
	callsFor []int
}

func (r *stubResearcher) Research(ctx context.Context, index int, spec models.SubtopicSpec, _ string) (models.SubtopicFindings, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	r.mu.Lock()
	if n > r.maxSeen {
		r.maxSeen = n
	}
	r.callsFor = append(r.callsFor, index)
	r.mu.Unlock()

	if r.delay != nil {
		select {
		case <-time.After(r.delay(index)):
		case <-ctx.Done():
			return models.SubtopicFindings{}, ctx.Err()
		}
	}
	if r.block[index] {
		<-ctx.Done()
		return models.SubtopicFindings{}, ctx.Err()
	}
	if r.panicOn[index] {
		panic("researcher exploded")
	}
	if err := r.fail[index]; err != nil {
		return models.SubtopicFindings{}, err
	}

	f := models.SubtopicFindings{
		Subtopic: spec.Name,
		Summary:  "summary of " + spec.Name,
		KeyInsights: []models.KeyFinding{
			{Finding: spec.Name + " insight", Citations: []string{fmt.Sprintf("https://example.com/%d/0", index)}},
		},
		Metadata: models.FindingsMetadata{AgentID: agents.ResearcherID(index)},
	}
	for s := 0; s < r.sourcesPer; s++ {
		url := fmt.Sprintf("https://example.com/%d/%d", index, s)
		if s == 0 && r.sharedURL != "" {
			url = r.sharedURL
		}
		f.Sources = append(f.Sources, models.Source{Title: fmt.Sprintf("Source %d-%d", index, s), URL: url})
	}
	f.Metadata.NumSources = len(f.Sources)
	return f, nil
}

func (r *stubResearcher) maxConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.maxSeen)
}

type stubSynthesizer struct {
	err       error
	reviseErr error

	mu          sync.Mutex
	synthCalls  int
	reviseCalls int
	lastStyle   models.Style
	lastTone    models.Tone
}

func (s *stubSynthesizer) Synthesize(_ context.Context, topic string, findings []models.SubtopicFindings, style models.Style, tone models.Tone) (models.Report, error) {
	s.mu.Lock()
	s.synthCalls++
	s.lastStyle, s.lastTone = style, tone
	s.mu.Unlock()
	if s.err != nil {
		return models.Report{}, s.err
	}
	r := models.Report{
		Topic:            topic,
		ExecutiveSummary: "summary",
		SubtopicFindings: findings,
	}
	for _, f := range findings {
		r.Subtopics = append(r.Subtopics, f.Subtopic)
	}
	r.AllSources = metadata.DedupeSources(findings)
	r.Metadata.NumResearchers = len(findings)
	r.Metadata.TotalSources = len(r.AllSources)
	return r, nil
}

func (s *stubSynthesizer) Revise(_ context.Context, report models.Report, instructions string, _ models.Style, _ models.Tone) (models.Report, error) {
	s.mu.Lock()
	s.reviseCalls++
	s.mu.Unlock()
	if s.reviseErr != nil {
		return models.Report{}, s.reviseErr
	}
	next := report
	next.CriticReview = nil
	next.ExecutiveSummary = "revised: " + instructions
	next.RevisionCount = report.RevisionCount + 1
	return next, nil
}

// stubCritic approves from approveAt onward; approveAt 0 never approves.
type stubCritic struct {
	approveAt int
	err       error
	calls     int
}

func (c *stubCritic) Review(_ context.Context, _ models.Report) (models.CriticReview, error) {
	c.calls++
	if c.err != nil {
		return models.CriticReview{}, c.err
	}
	if c.approveAt > 0 && c.calls >= c.approveAt {
		return models.CriticReview{Decision: models.DecisionApproved, OverallScore: 9}, nil
	}
	return models.CriticReview{
		Decision:             models.DecisionRevisionNeeded,
		OverallScore:         5,
		RevisionInstructions: fmt.Sprintf("fix round %d", c.calls),
	}, nil
}

type progressRecorder struct {
	mu     sync.Mutex
	values []float64
	msgs   []string
}

func (p *progressRecorder) sink(v float64, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
	p.msgs = append(p.msgs, msg)
}

func (p *progressRecorder) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.msgs...)
}

var errResearch = errors.New("search backend unreachable")
