package workflows

import (
	"fmt"
	"sort"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
)

// ResearchWorkflow is the durable form of Orchestrator.Run: split, bounded
// parallel research, synthesis and the critic loop, each LLM call an activity.
func ResearchWorkflow(ctx workflow.Context, in WorkflowInput) (*models.Report, error) {
	in = in.withDefaults()
	logger := workflow.GetLogger(ctx)

	state := &ProgressState{}
	if err := workflow.SetQueryHandler(ctx, QueryProgress, func() (ProgressState, error) {
		return *state, nil
	}); err != nil {
		return nil, fmt.Errorf("register progress query: %w", err)
	}
	progress := func(p float64, msg string) {
		if p > 1 {
			p = 1
		}
		if p > state.Progress {
			state.Progress = p
		}
		state.Message = msg
	}

	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, temporal.NewNonRetryableApplicationError(orchestrator.ErrEmptyTopic.Error(), "EmptyTopic", nil)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: in.ResearchTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"NoSubtopics"},
		},
	})

	mode := models.ModeParallel
	if in.Sequential {
		mode = models.ModeSequential
	}
	logger.Info("Research workflow started", "run_id", in.RunID, "topic", topic, "mode", mode)

	progress(orchestrator.ProgressSplitting, "Analyzing topic and generating subtopics...")
	var split SplitOutput
	if err := workflow.ExecuteActivity(ctx, ActivitySplitTopic, topic).Get(ctx, &split); err != nil {
		return nil, fmt.Errorf("%w: %w", orchestrator.ErrPipeline, err)
	}
	state.Analysis = split.Analysis
	progress(orchestrator.ProgressSplit, fmt.Sprintf("Generated %d subtopics. Starting research...", len(split.Subtopics)))

	var findings []models.SubtopicFindings
	if in.Sequential {
		findings = researchSequential(ctx, in, topic, split.Subtopics, progress)
	} else {
		findings = researchParallel(ctx, in, topic, split.Subtopics, progress)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research cancelled: %w", err)
	}

	progress(orchestrator.ProgressSynthesizing, "Synthesizing findings into final report...")
	var report models.Report
	err := workflow.ExecuteActivity(ctx, ActivitySynthesize, SynthesizeInput{
		Topic: topic, Findings: findings, Style: in.Style, Tone: in.Tone,
	}).Get(ctx, &report)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	report.Metadata.RunID = in.RunID
	report.Metadata.Mode = mode

	if in.EnableCritic && in.MaxRevisions > 0 {
		var stats orchestrator.LoopStats
		report, stats, err = orchestrator.CriticLoop(report, in.MaxRevisions,
			func(r models.Report) (models.CriticReview, error) {
				var review models.CriticReview
				err := workflow.ExecuteActivity(ctx, ActivityReview, r).Get(ctx, &review)
				return review, err
			},
			func(r models.Report, instructions string) (models.Report, error) {
				var revised models.Report
				err := workflow.ExecuteActivity(ctx, ActivityRevise, ReviseInput{
					Report: r, Instructions: instructions, Style: in.Style, Tone: in.Tone,
				}).Get(ctx, &revised)
				return revised, err
			},
			progress,
		)
		if err != nil {
			return nil, err
		}
		logger.Info("Critic loop finished", "iterations", stats.Iterations, "revisions", stats.Revisions, "final_score", stats.FinalScore)
	}

	progress(orchestrator.ProgressComplete, "Research complete!")
	final := report.Normalize()
	return &final, nil
}

type indexed struct {
	index    int
	findings models.SubtopicFindings
}

// researchParallel keeps at most MaxWorkers research activities in flight.
// A failed activity becomes an error placeholder at its index.
func researchParallel(ctx workflow.Context, in WorkflowInput, topic string, specs []models.SubtopicSpec, progress orchestrator.ProgressSink) []models.SubtopicFindings {
	collected := make([]indexed, 0, len(specs))
	sel := workflow.NewSelector(ctx)
	pending, next := 0, 0

	launch := func(i int) {
		spec := specs[i]
		f := workflow.ExecuteActivity(ctx, ActivityResearchSubtopic, ResearchInput{
			RunID: in.RunID, Index: i, Spec: spec, MainTopic: topic,
		})
		sel.AddFuture(f, func(f workflow.Future) {
			var out models.SubtopicFindings
			if err := f.Get(ctx, &out); err != nil {
				out = models.ErrorFindings(spec.Name, err)
			}
			pending--
			collected = append(collected, indexed{index: i, findings: out})
			progress(orchestrator.ResearchProgress(len(collected), len(specs)), orchestrator.CompletionMessage(out))
		})
		pending++
	}

	for next < len(specs) && pending < in.MaxWorkers {
		launch(next)
		next++
	}
	for pending > 0 {
		sel.Select(ctx)
		if next < len(specs) && ctx.Err() == nil {
			launch(next)
			next++
		}
	}

	sort.Slice(collected, func(a, b int) bool { return collected[a].index < collected[b].index })
	out := make([]models.SubtopicFindings, len(collected))
	for i, c := range collected {
		out[i] = c.findings
	}
	return out
}

func researchSequential(ctx workflow.Context, in WorkflowInput, topic string, specs []models.SubtopicSpec, progress orchestrator.ProgressSink) []models.SubtopicFindings {
	out := make([]models.SubtopicFindings, 0, len(specs))
	for i, spec := range specs {
		if ctx.Err() != nil {
			break
		}
		progress(orchestrator.ResearchProgress(i, len(specs)), "Researching: "+spec.Name)
		var f models.SubtopicFindings
		err := workflow.ExecuteActivity(ctx, ActivityResearchSubtopic, ResearchInput{
			RunID: in.RunID, Index: i, Spec: spec, MainTopic: topic,
		}).Get(ctx, &f)
		if err != nil {
			f = models.ErrorFindings(spec.Name, err)
		}
		out = append(out, f)
		progress(orchestrator.ResearchProgress(i+1, len(specs)), orchestrator.CompletionMessage(f))
	}
	return out
}
