package orchestrator

import (
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

// ReviewFunc evaluates one report.
type ReviewFunc func(report models.Report) (models.CriticReview, error)

// ReviseFunc produces a new report from the current one and the critic instructions.
type ReviseFunc func(report models.Report, instructions string) (models.Report, error)

// LoopStats summarises a finished critic loop.
type LoopStats struct {
	Iterations int
	Revisions  int
	FinalScore int
}

// CriticLoop runs CRITIQUING(1..maxRevisions). An APPROVED review ends the loop;
// REVISION_NEEDED before the last iteration triggers exactly one revision; at the
// last iteration the unresolved review is attached to the current report.
// maxRevisions <= 0 returns report unchanged. The function performs no I/O of its
// own, so a Temporal workflow can drive it with activity-backed funcs.
func CriticLoop(report models.Report, maxRevisions int, review ReviewFunc, revise ReviseFunc, progress ProgressSink) (models.Report, LoopStats, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	current := report
	var stats LoopStats

	for i := 1; i <= maxRevisions; i++ {
		progress(CriticProgress(i, maxRevisions), fmt.Sprintf("Critic reviewing report (iteration %d)...", i))

		rv, err := review(current)
		if err != nil {
			return current, stats, fmt.Errorf("critic iteration %d: %w", i, err)
		}
		rv.Iteration = i
		stats.Iterations = i
		stats.FinalScore = rv.OverallScore

		if !rv.NeedsRevision() {
			progress(ProgressCriticDone, fmt.Sprintf("Report approved by critic (score: %d/10)", rv.OverallScore))
			return current.WithReview(rv), stats, nil
		}
		if i >= maxRevisions {
			progress(ProgressCriticDone, fmt.Sprintf("Max revisions reached. Final score: %d/10", rv.OverallScore))
			return current.WithReview(rv), stats, nil
		}

		progress(CriticProgress(i, maxRevisions), "Revising report based on critic feedback...")
		next, err := revise(current, rv.RevisionInstructions)
		if err != nil {
			return current, stats, fmt.Errorf("revision %d: %w", i, err)
		}
		current = next
		stats.Revisions++
	}
	return current, stats, nil
}
