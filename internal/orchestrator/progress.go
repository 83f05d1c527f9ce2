package orchestrator

import (
	"sync"

	"go.uber.org/zap"
)

// ProgressSink receives progress in [0,1] with a status message. It may be nil.
type ProgressSink func(progress float64, message string)

// Progress milestones
const (
	ProgressSplitting    = 0.1
	ProgressSplit        = 0.2
	ProgressResearchSpan = 0.6
	ProgressSynthesizing = 0.7
	ProgressCriticBase   = 0.8
	ProgressCriticSpan   = 0.15
	ProgressCriticDone   = 0.95
	ProgressComplete     = 1.0
)

// ResearchProgress is the value reported after done of n research tasks.
func ResearchProgress(done, n int) float64 {
	if n <= 0 {
		return ProgressSplit + ProgressResearchSpan
	}
	return ProgressSplit + ProgressResearchSpan*float64(done)/float64(n)
}

// CriticProgress is the value reported at critic iteration i of maxRevisions.
func CriticProgress(i, maxRevisions int) float64 {
	return ProgressCriticBase + ProgressCriticSpan*float64(i)/float64(maxRevisions+1)
}

// monotonicSink clamps values to [0,1], never lets them decrease and
// isolates the run from a panicking sink.
type monotonicSink struct {
	mu     sync.Mutex
	last   float64
	sink   ProgressSink
	logger *zap.Logger
}

func newMonotonicSink(sink ProgressSink, logger *zap.Logger) *monotonicSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &monotonicSink{sink: sink, logger: logger}
}

func (m *monotonicSink) emit(progress float64, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if progress < m.last {
		progress = m.last
	}
	m.last = progress
	m.logger.Debug("Progress", zap.Float64("progress", progress), zap.String("message", message))
	if m.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("Progress sink panicked", zap.Any("panic", r))
		}
	}()
	m.sink(progress, message)
}

// Sink exposes emit as a ProgressSink.
func (m *monotonicSink) Sink() ProgressSink { return m.emit }
