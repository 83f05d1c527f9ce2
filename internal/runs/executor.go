package runs

import (
	"context"
	"fmt"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/research/internal/workflows"
)

// SplitFunc receives the splitter analysis once it is known.
type SplitFunc func(analysis string)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, job Job, progress orchestrator.ProgressSink, onSplit SplitFunc) (*models.Report, error)
	// SetOptions replaces the pipeline options used by subsequent jobs.
	SetOptions(opts orchestrator.Options)
	Name() string
}

// LocalExecutor runs the orchestrator in-process.
type LocalExecutor struct {
	agents orchestrator.Agents
	logger *zap.Logger

	mu   sync.RWMutex
	opts orchestrator.Options
}

// NewLocalExecutor validates the agents against opts up front.
func NewLocalExecutor(a orchestrator.Agents, opts orchestrator.Options, logger *zap.Logger) (*LocalExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := orchestrator.New(a, opts, logger); err != nil {
		return nil, err
	}
	return &LocalExecutor{agents: a, opts: opts, logger: logger}, nil
}

func (e *LocalExecutor) Name() string { return "local" }

func (e *LocalExecutor) SetOptions(opts orchestrator.Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// Options returns the options new jobs will use.
func (e *LocalExecutor) Options() orchestrator.Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

func (e *LocalExecutor) Execute(ctx context.Context, job Job, progress orchestrator.ProgressSink, onSplit SplitFunc) (*models.Report, error) {
	e.mu.RLock()
	opts := e.opts
	e.mu.RUnlock()

	orch, err := orchestrator.New(e.agents, opts, e.logger)
	if err != nil {
		return nil, err
	}
	req := orchestrator.Request{RunID: job.RunID, Topic: job.Topic, Style: job.Style, Tone: job.Tone}
	if onSplit != nil {
		req.OnSplit = func(analysis string, _ []models.SubtopicSpec) { onSplit(analysis) }
	}
	if job.Sequential {
		return orch.RunSequential(ctx, req, progress)
	}
	return orch.Run(ctx, req, progress)
}

// TemporalExecutor starts ResearchWorkflow and polls its progress query
// until the workflow returns.
type TemporalExecutor struct {
	client       client.Client
	taskQueue    string
	pollInterval time.Duration
	logger       *zap.Logger

	mu   sync.RWMutex
	opts orchestrator.Options
}

func NewTemporalExecutor(c client.Client, taskQueue string, opts orchestrator.Options, logger *zap.Logger) *TemporalExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemporalExecutor{
		client:       c,
		taskQueue:    taskQueue,
		pollInterval: time.Second,
		logger:       logger,
		opts:         opts,
	}
}

func (e *TemporalExecutor) Name() string { return "temporal" }

func (e *TemporalExecutor) SetOptions(opts orchestrator.Options) {
	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()
}

// WorkflowID derives the workflow ID from the run ID.
func WorkflowID(runID string) string { return "research-" + runID }

func (e *TemporalExecutor) Execute(ctx context.Context, job Job, progress orchestrator.ProgressSink, onSplit SplitFunc) (*models.Report, error) {
	e.mu.RLock()
	opts := e.opts
	e.mu.RUnlock()
	if job.Style != "" {
		opts.Style = job.Style
	}
	if job.Tone != "" {
		opts.Tone = job.Tone
	}

	input := workflows.InputFromOptions(job.RunID, job.Topic, job.Sequential, opts)
	we, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    WorkflowID(job.RunID),
		TaskQueue:             e.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		Memo:                  map[string]interface{}{"topic": job.Topic, "mode": job.mode()},
	}, "ResearchWorkflow", input)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	e.logger.Info("Research workflow started",
		zap.String("run_id", job.RunID),
		zap.String("workflow_id", we.GetID()),
		zap.String("temporal_run_id", we.GetRunID()),
	)

	pollCtx, stopPolling := context.WithCancel(ctx)
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		e.pollProgress(pollCtx, we.GetID(), we.GetRunID(), progress, onSplit)
	}()

	var report models.Report
	err = we.Get(ctx, &report)
	stopPolling()
	<-polled
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", we.GetID(), err)
	}
	return &report, nil
}

func (e *TemporalExecutor) pollProgress(ctx context.Context, workflowID, runID string, progress orchestrator.ProgressSink, onSplit SplitFunc) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	var last workflows.ProgressState
	splitSeen := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		val, err := e.client.QueryWorkflow(ctx, workflowID, runID, workflows.QueryProgress)
		if err != nil {
			e.logger.Debug("Progress query failed", zap.String("workflow_id", workflowID), zap.Error(err))
			continue
		}
		var state workflows.ProgressState
		if err := val.Get(&state); err != nil {
			continue
		}
		if !splitSeen && state.Analysis != "" && onSplit != nil {
			splitSeen = true
			onSplit(state.Analysis)
		}
		if state != last && progress != nil {
			progress(state.Progress, state.Message)
			last = state
		}
	}
}
