package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/agents"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// ErrEmptyTopic is returned when the request topic is blank.
var ErrEmptyTopic = errors.New("topic must not be empty")

// ErrPipeline wraps fatal precondition failures such as an empty split.
var ErrPipeline = errors.New("research pipeline aborted")

const (
	DefaultMaxWorkers      = 3
	DefaultResearchTimeout = 3 * time.Minute
	DefaultMaxRevisions    = 2
)

// Splitter decomposes a topic into subtopics.
type Splitter interface {
	Split(ctx context.Context, topic string) (*agents.SplitResult, error)
}

// Researcher produces findings for one subtopic.
type Researcher interface {
	Research(ctx context.Context, index int, spec models.SubtopicSpec, mainTopic string) (models.SubtopicFindings, error)
}

// Synthesizer merges findings into a report and revises it.
type Synthesizer interface {
	Synthesize(ctx context.Context, topic string, findings []models.SubtopicFindings, style models.Style, tone models.Tone) (models.Report, error)
	Revise(ctx context.Context, report models.Report, instructions string, style models.Style, tone models.Tone) (models.Report, error)
}

// Critic reviews a report.
type Critic interface {
	Review(ctx context.Context, report models.Report) (models.CriticReview, error)
}

// Agents groups the four pipeline roles.
type Agents struct {
	Splitter    Splitter
	Researcher  Researcher
	Synthesizer Synthesizer
	Critic      Critic
}

func (a Agents) validate(needCritic bool) error {
	switch {
	case a.Splitter == nil:
		return errors.New("orchestrator: splitter is required")
	case a.Researcher == nil:
		return errors.New("orchestrator: researcher is required")
	case a.Synthesizer == nil:
		return errors.New("orchestrator: synthesizer is required")
	case needCritic && a.Critic == nil:
		return errors.New("orchestrator: critic is required when the critic loop is enabled")
	}
	return nil
}

// Options configures one Orchestrator.
type Options struct {
	NumSubtopics    int
	MaxWorkers      int
	ResearchTimeout time.Duration
	EnableCritic    bool
	MaxRevisions    int
	Style           models.Style
	Tone            models.Tone
	Model           string
}

// DefaultOptions mirrors the research section defaults.
func DefaultOptions() Options {
	return Options{
		NumSubtopics:    3,
		MaxWorkers:      DefaultMaxWorkers,
		ResearchTimeout: DefaultResearchTimeout,
		EnableCritic:    true,
		MaxRevisions:    DefaultMaxRevisions,
		Style:           models.StyleTechnical,
		Tone:            models.ToneNeutral,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	if o.ResearchTimeout <= 0 {
		o.ResearchTimeout = DefaultResearchTimeout
	}
	if o.Style == "" {
		o.Style = models.StyleTechnical
	}
	if o.Tone == "" {
		o.Tone = models.ToneNeutral
	}
	return o
}

// Request is one research run. Empty Style or Tone use the Options values.
type Request struct {
	RunID string
	Topic string
	Style models.Style
	Tone  models.Tone
	// OnSplit, when set, receives the splitter analysis and subtopics.
	OnSplit func(analysis string, subtopics []models.SubtopicSpec)
}

// Orchestrator drives SPLITTING, RESEARCHING, SYNTHESIZING and the critic loop.
type Orchestrator struct {
	agents Agents
	opts   Options
	logger *zap.Logger
}

// New validates the agents and returns an Orchestrator.
func New(a Agents, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if err := a.validate(opts.EnableCritic && opts.MaxRevisions > 0); err != nil {
		return nil, err
	}
	return &Orchestrator{agents: a, opts: opts, logger: logger}, nil
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// Run researches subtopics concurrently.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink ProgressSink) (*models.Report, error) {
	return o.run(ctx, req, sink, models.ModeParallel)
}

// RunSequential researches subtopics one at a time, in order.
func (o *Orchestrator) RunSequential(ctx context.Context, req Request, sink ProgressSink) (*models.Report, error) {
	return o.run(ctx, req, sink, models.ModeSequential)
}

func (o *Orchestrator) run(ctx context.Context, req Request, sink ProgressSink, mode string) (report *models.Report, err error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	style, tone := req.Style, req.Tone
	if style == "" {
		style = o.opts.Style
	}
	if tone == "" {
		tone = o.opts.Tone
	}

	logger := o.logger.With(zap.String("run_id", req.RunID), zap.String("topic", topic), zap.String("mode", mode))
	progress := newMonotonicSink(sink, logger)
	start := time.Now()

	metrics.RunsStarted.WithLabelValues(mode).Inc()
	metrics.ActiveRuns.Inc()
	defer func() {
		metrics.ActiveRuns.Dec()
		status := models.StatusCompleted
		if err != nil {
			status = models.StatusFailed
		}
		metrics.RecordRunMetrics(mode, status, time.Since(start).Seconds())
	}()

	ctx, span := tracing.StartSpan(ctx, "research.run",
		attribute.String("research.topic", topic),
		attribute.String("research.mode", mode),
	)
	defer span.End()

	// SPLITTING
	progress.emit(ProgressSplitting, "Analyzing topic and generating subtopics...")
	split, err := o.split(ctx, topic)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Info("Topic split",
		zap.Int("subtopics", len(split.Subtopics)),
		zap.String("analysis", split.Analysis),
	)
	if req.OnSplit != nil {
		req.OnSplit(split.Analysis, split.Subtopics)
	}
	progress.emit(ProgressSplit, fmt.Sprintf("Generated %d subtopics. Starting research...", len(split.Subtopics)))

	// RESEARCHING
	var findings []models.SubtopicFindings
	if mode == models.ModeSequential {
		findings, err = o.researchSequential(ctx, topic, split.Subtopics, progress, logger)
	} else {
		findings, err = o.researchParallel(ctx, topic, split.Subtopics, progress, logger)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// SYNTHESIZING
	progress.emit(ProgressSynthesizing, "Synthesizing findings into final report...")
	synthCtx, synthSpan := tracing.StartStageSpan(ctx, "synthesize", topic)
	current, err := o.agents.Synthesizer.Synthesize(synthCtx, topic, findings, style, tone)
	synthSpan.End()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	current.Metadata.RunID = req.RunID
	current.Metadata.Mode = mode

	// CRITIQUING(i)
	if o.opts.EnableCritic && o.opts.MaxRevisions > 0 {
		criticCtx, criticSpan := tracing.StartStageSpan(ctx, "critic", topic)
		var stats LoopStats
		current, stats, err = CriticLoop(current, o.opts.MaxRevisions,
			func(r models.Report) (models.CriticReview, error) {
				return o.agents.Critic.Review(criticCtx, r)
			},
			func(r models.Report, instructions string) (models.Report, error) {
				return o.agents.Synthesizer.Revise(criticCtx, r, instructions, style, tone)
			},
			progress.Sink(),
		)
		criticSpan.End()
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		metrics.RecordCriticMetrics(stats.Iterations, stats.Revisions, stats.FinalScore)
		logger.Info("Critic loop finished",
			zap.Int("iterations", stats.Iterations),
			zap.Int("revisions", stats.Revisions),
			zap.Int("final_score", stats.FinalScore),
			zap.Bool("approved", current.Approved()),
		)
	}

	progress.emit(ProgressComplete, "Research complete!")
	logger.Info("Research run complete",
		zap.Int("sources", len(current.AllSources)),
		zap.Int("revision_count", current.RevisionCount),
		zap.Duration("duration", time.Since(start)),
	)
	final := current.Normalize()
	return &final, nil
}

func (o *Orchestrator) split(ctx context.Context, topic string) (*agents.SplitResult, error) {
	ctx, span := tracing.StartStageSpan(ctx, "split", topic)
	defer span.End()

	split, err := o.agents.Splitter.Split(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	if split == nil || len(split.Subtopics) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, agents.ErrNoSubtopics)
	}
	return split, nil
}
