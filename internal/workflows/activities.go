package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/agents"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
)

// Activities wraps the agents for the Temporal worker. Register the pointer
// with worker.RegisterActivity; method names are the activity names.
type Activities struct {
	agents orchestrator.Agents
	logger *zap.Logger
}

func NewActivities(a orchestrator.Agents, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{agents: a, logger: logger}
}

func (a *Activities) log(ctx context.Context) *zap.Logger {
	info := activity.GetInfo(ctx)
	return a.logger.With(
		zap.String("activity", info.ActivityType.Name),
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
	)
}

// SplitTopic fails without retry when the splitter produced nothing usable.
func (a *Activities) SplitTopic(ctx context.Context, topic string) (*SplitOutput, error) {
	split, err := a.agents.Splitter.Split(ctx, topic)
	if errors.Is(err, agents.ErrNoSubtopics) {
		return nil, temporal.NewNonRetryableApplicationError("splitter returned no subtopics", "NoSubtopics", err)
	}
	if err != nil {
		a.log(ctx).Warn("Split failed", zap.Error(err))
		return nil, fmt.Errorf("split topic: %w", err)
	}
	if split == nil || len(split.Subtopics) == 0 {
		return nil, temporal.NewNonRetryableApplicationError("splitter returned no subtopics", "NoSubtopics", agents.ErrNoSubtopics)
	}
	return &SplitOutput{Analysis: split.Analysis, Subtopics: split.Subtopics}, nil
}

func (a *Activities) ResearchSubtopic(ctx context.Context, in ResearchInput) (models.SubtopicFindings, error) {
	start := time.Now()
	findings, err := a.agents.Researcher.Research(ctx, in.Index, in.Spec, in.MainTopic)
	if err != nil {
		a.log(ctx).Warn("Research attempt failed", zap.String("subtopic", in.Spec.Name), zap.Error(err))
		return models.SubtopicFindings{}, err
	}
	metrics.RecordSubtopicMetrics("completed", time.Since(start).Seconds(), len(findings.Sources))
	return findings, nil
}

func (a *Activities) Synthesize(ctx context.Context, in SynthesizeInput) (models.Report, error) {
	report, err := a.agents.Synthesizer.Synthesize(ctx, in.Topic, in.Findings, in.Style, in.Tone)
	if err != nil {
		return models.Report{}, fmt.Errorf("synthesize: %w", err)
	}
	return report, nil
}

func (a *Activities) Revise(ctx context.Context, in ReviseInput) (models.Report, error) {
	return a.agents.Synthesizer.Revise(ctx, in.Report, in.Instructions, in.Style, in.Tone)
}

func (a *Activities) Review(ctx context.Context, report models.Report) (models.CriticReview, error) {
	if a.agents.Critic == nil {
		return models.DefaultReview(), nil
	}
	return a.agents.Critic.Review(ctx, report)
}
