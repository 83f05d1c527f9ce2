package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

// indexedFindings tags a task result with its subtopic index.
type indexedFindings struct {
	index    int
	findings models.SubtopicFindings
}

// sortFindings restores subtopic order from completion order.
func sortFindings(results []indexedFindings) []models.SubtopicFindings {
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	out := make([]models.SubtopicFindings, len(results))
	for i, r := range results {
		out[i] = r.findings
	}
	return out
}

func (o *Orchestrator) researchParallel(ctx context.Context, topic string, specs []models.SubtopicSpec, progress *monotonicSink, logger *zap.Logger) ([]models.SubtopicFindings, error) {
	results := make(chan indexedFindings, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxWorkers)

	go func() {
		for i, spec := range specs {
			g.Go(func() error {
				results <- o.researchOne(gctx, i, spec, topic, logger)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	collected := make([]indexedFindings, 0, len(specs))
	for r := range results {
		collected = append(collected, r)
		progress.emit(ResearchProgress(len(collected), len(specs)), CompletionMessage(r.findings))
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("research cancelled: %w", err)
	}
	return sortFindings(collected), nil
}

func (o *Orchestrator) researchSequential(ctx context.Context, topic string, specs []models.SubtopicSpec, progress *monotonicSink, logger *zap.Logger) ([]models.SubtopicFindings, error) {
	out := make([]models.SubtopicFindings, 0, len(specs))
	for i, spec := range specs {
		progress.emit(ResearchProgress(i, len(specs)), "Researching: "+spec.Name)
		r := o.researchOne(ctx, i, spec, topic, logger)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("research cancelled: %w", err)
		}
		out = append(out, r.findings)
		progress.emit(ResearchProgress(i+1, len(specs)), CompletionMessage(r.findings))
	}
	return out, nil
}

// CompletionMessage is the progress message for a finished research task.
func CompletionMessage(f models.SubtopicFindings) string {
	if f.Failed() {
		return "Research failed on: " + f.Subtopic
	}
	return "Completed research on: " + f.Subtopic
}

// researchOne never fails: errors, timeouts and panics become placeholders.
func (o *Orchestrator) researchOne(ctx context.Context, index int, spec models.SubtopicSpec, topic string, logger *zap.Logger) indexedFindings {
	start := time.Now()
	ctx, span := tracing.StartStageSpan(ctx, "research", topic)
	defer span.End()

	tctx, cancel := context.WithTimeout(ctx, o.opts.ResearchTimeout)
	defer cancel()

	type outcome struct {
		findings models.SubtopicFindings
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("researcher panic: %v", r)}
			}
		}()
		f, err := o.agents.Researcher.Research(tctx, index, spec, topic)
		done <- outcome{findings: f, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-tctx.Done():
		res = outcome{err: tctx.Err()}
	}

	elapsed := time.Since(start).Seconds()
	if res.err != nil {
		span.RecordError(res.err)
		logger.Warn("Subtopic research failed",
			zap.Int("index", index),
			zap.String("subtopic", spec.Name),
			zap.Error(res.err),
		)
		metrics.RecordSubtopicMetrics("failed", elapsed, 0)
		return indexedFindings{index: index, findings: models.ErrorFindings(spec.Name, res.err)}
	}

	f := res.findings
	if f.Subtopic == "" {
		f.Subtopic = spec.Name
	}
	metrics.RecordSubtopicMetrics("completed", elapsed, len(f.Sources))
	logger.Debug("Subtopic research complete",
		zap.Int("index", index),
		zap.String("subtopic", spec.Name),
		zap.Int("sources", len(f.Sources)),
	)
	return indexedFindings{index: index, findings: f}
}
