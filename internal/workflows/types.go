// Package workflows runs the research pipeline as a Temporal workflow so a run
// survives worker restarts. Each LLM call is an activity.
package workflows

import (
	"time"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
)

// QueryProgress returns the latest ProgressState of a running workflow.
const QueryProgress = "research_progress"

// Activity names as registered from the Activities methods.
const (
	ActivitySplitTopic       = "SplitTopic"
	ActivityResearchSubtopic = "ResearchSubtopic"
	ActivitySynthesize       = "Synthesize"
	ActivityRevise           = "Revise"
	ActivityReview           = "Review"
)

// WorkflowInput starts one research run.
type WorkflowInput struct {
	RunID           string
	Topic           string
	Style           models.Style
	Tone            models.Tone
	Sequential      bool
	MaxWorkers      int
	ResearchTimeout time.Duration
	EnableCritic    bool
	MaxRevisions    int
}

// InputFromOptions fills the pipeline knobs from orchestrator options.
func InputFromOptions(runID, topic string, sequential bool, opts orchestrator.Options) WorkflowInput {
	return WorkflowInput{
		RunID:           runID,
		Topic:           topic,
		Style:           opts.Style,
		Tone:            opts.Tone,
		Sequential:      sequential,
		MaxWorkers:      opts.MaxWorkers,
		ResearchTimeout: opts.ResearchTimeout,
		EnableCritic:    opts.EnableCritic,
		MaxRevisions:    opts.MaxRevisions,
	}
}

func (in WorkflowInput) withDefaults() WorkflowInput {
	if in.MaxWorkers <= 0 {
		in.MaxWorkers = orchestrator.DefaultMaxWorkers
	}
	if in.ResearchTimeout <= 0 {
		in.ResearchTimeout = orchestrator.DefaultResearchTimeout
	}
	if in.Style == "" {
		in.Style = models.StyleTechnical
	}
	if in.Tone == "" {
		in.Tone = models.ToneNeutral
	}
	return in
}

// ProgressState is the query result.
type ProgressState struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Analysis string  `json:"analysis,omitempty"`
}

type SplitOutput struct {
	Analysis  string
	Subtopics []models.SubtopicSpec
}

type ResearchInput struct {
	RunID     string
	Index     int
	Spec      models.SubtopicSpec
	MainTopic string
}

type SynthesizeInput struct {
	Topic    string
	Findings []models.SubtopicFindings
	Style    models.Style
	Tone     models.Tone
}

type ReviseInput struct {
	Report       models.Report
	Instructions string
	Style        models.Style
	Tone         models.Tone
}
