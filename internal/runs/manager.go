package runs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/cache"
	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
)

// Config tunes the manager.
type Config struct {
	MaxConcurrent int
	DefaultStyle  models.Style
	DefaultTone   models.Tone
	// PersistTimeout bounds store and cache writes after a run finishes.
	PersistTimeout time.Duration
}

// Deps are the manager collaborators. Only Executor is required.
type Deps struct {
	Executor Executor
	Store    *db.Store
	Events   *db.EventWriter
	Cache    *cache.ReportCache
	Streams  *streaming.Manager
	Policy   policy.Engine
	Logger   *zap.Logger
}

type entry struct {
	run  Run
	done chan struct{}
}

// Manager admits, executes and tracks research runs.
type Manager struct {
	cfg  Config
	deps Deps

	slots chan struct{}

	mu   sync.RWMutex
	runs map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Executor == nil {
		return nil, errors.New("runs: executor is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Streams == nil {
		deps.Streams = streaming.NewManager(streaming.DefaultCapacity, nil, deps.Logger)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultStyle == "" {
		cfg.DefaultStyle = models.StyleTechnical
	}
	if cfg.DefaultTone == "" {
		cfg.DefaultTone = models.ToneNeutral
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		runs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Streams exposes the event manager for the streaming endpoints.
func (m *Manager) Streams() *streaming.Manager { return m.deps.Streams }

// Executor returns the configured executor.
func (m *Manager) Executor() Executor { return m.deps.Executor }

// Submit validates and admits the request, then starts the run in the background.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		metrics.RunsRejected.WithLabelValues("empty_topic").Inc()
		return nil, ErrEmptyTopic
	}

	style := m.cfg.DefaultStyle
	if req.Style != "" {
		style = models.ParseStyle(req.Style)
	}
	tone := m.cfg.DefaultTone
	if req.Tone != "" {
		tone = models.ParseTone(req.Tone)
	}

	if m.deps.Policy != nil {
		decision, err := m.deps.Policy.Evaluate(ctx, policy.Input{
			Topic:      topic,
			Subject:    req.Subject,
			Style:      string(style),
			Tone:       string(tone),
			Sequential: req.Sequential,
		})
		if err != nil && (decision == nil || !decision.Allow) {
			metrics.RunsRejected.WithLabelValues("policy_error").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTopicDenied, err)
		}
		if decision != nil && !decision.Allow {
			metrics.RunsRejected.WithLabelValues("policy").Inc()
			return nil, fmt.Errorf("%w: %s", ErrTopicDenied, decision.Reason())
		}
	}

	select {
	case m.slots <- struct{}{}:
	default:
		metrics.RunsRejected.WithLabelValues("busy").Inc()
		return nil, ErrBusy
	}

	job := Job{RunID: uuid.NewString(), Topic: topic, Style: style, Tone: tone, Sequential: req.Sequential}
	now := m.now()
	run := Run{
		ID:        job.RunID,
		Topic:     topic,
		Status:    models.StatusQueued,
		Style:     style,
		Tone:      tone,
		Mode:      job.mode(),
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if m.deps.Store != nil {
		if err := m.deps.Store.CreateRun(ctx, &db.RunRecord{
			ID: run.ID, Topic: run.Topic, Status: run.Status, Style: string(style), Tone: string(tone),
			Mode: run.Mode, Message: run.Message, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			<-m.slots
			return nil, err
		}
	}

	e := &entry{run: run, done: make(chan struct{})}
	m.mu.Lock()
	m.runs[run.ID] = e
	m.mu.Unlock()

	m.deps.Logger.Info("Research run submitted",
		zap.String("run_id", run.ID),
		zap.String("topic", topic),
		zap.String("mode", run.Mode),
		zap.String("executor", m.deps.Executor.Name()),
	)

	m.wg.Add(1)
	go m.execute(e, job)
	return &run, nil
}

func (m *Manager) execute(e *entry, job Job) {
	defer m.wg.Done()
	defer func() { <-m.slots }()
	defer close(e.done)

	logger := m.deps.Logger.With(zap.String("run_id", job.RunID))
	ctx := m.ctx

	m.update(job.RunID, func(r *Run) {
		r.Status = models.StatusRunning
		r.Message = "Starting research"
	})
	m.persist(ctx, logger, "status", func(ctx context.Context) error {
		return m.deps.Store.UpdateStatus(ctx, job.RunID, models.StatusRunning, "")
	})

	progress := func(p float64, msg string) {
		m.update(job.RunID, func(r *Run) {
			if p > r.Progress {
				r.Progress = p
			}
			r.Message = msg
		})
		m.publish(job.RunID, streaming.EventProgress, p, msg)
		m.persist(ctx, logger, "progress", func(ctx context.Context) error {
			return m.deps.Store.UpdateProgress(ctx, job.RunID, p, msg)
		})
	}
	onSplit := func(analysis string) {
		m.update(job.RunID, func(r *Run) { r.Analysis = analysis })
		m.persist(ctx, logger, "analysis", func(ctx context.Context) error {
			return m.deps.Store.SetAnalysis(ctx, job.RunID, analysis)
		})
	}

	report, err := m.runExecutor(ctx, job, progress, onSplit)
	if err != nil {
		logger.Error("Research run failed", zap.Error(err))
		m.update(job.RunID, func(r *Run) {
			r.Status = models.StatusFailed
			r.Error = err.Error()
			r.Message = "Research failed"
		})
		m.persist(context.Background(), logger, "status", func(ctx context.Context) error {
			return m.deps.Store.UpdateStatus(ctx, job.RunID, models.StatusFailed, err.Error())
		})
		m.publish(job.RunID, streaming.EventFailed, m.progressOf(job.RunID), err.Error())
		m.retire(job.RunID)
		return
	}

	if m.deps.Store != nil {
		m.persist(context.Background(), logger, "report", func(ctx context.Context) error {
			return m.deps.Store.SaveReport(ctx, job.RunID, *report)
		})
	}
	if m.deps.Cache != nil {
		pctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
		if err := m.deps.Cache.Put(pctx, job.RunID, *report); err != nil {
			logger.Warn("Failed to cache report", zap.Error(err))
		}
		cancel()
	}
	m.update(job.RunID, func(r *Run) {
		r.Status = models.StatusCompleted
		r.Progress = 1
		r.Message = "Research complete!"
		r.Report = report
	})
	m.publish(job.RunID, streaming.EventCompleted, 1, "Research complete!")
	logger.Info("Research run completed",
		zap.Int("sources", len(report.AllSources)),
		zap.Int("revisions", report.RevisionCount),
	)
	m.retire(job.RunID)
}

// runExecutor converts executor panics into run failures.
func (m *Manager) runExecutor(ctx context.Context, job Job, progress func(float64, string), onSplit SplitFunc) (report *models.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	report, err = m.deps.Executor.Execute(ctx, job, progress, onSplit)
	if err == nil && report == nil {
		err = errors.New("executor returned no report")
	}
	return report, err
}

// persist runs fn against the store when one is configured; failures are logged.
func (m *Manager) persist(ctx context.Context, logger *zap.Logger, what string, fn func(ctx context.Context) error) {
	if m.deps.Store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.PersistTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		logger.Warn("Failed to persist run state", zap.String("what", what), zap.Error(err))
	}
}

func (m *Manager) publish(runID, typ string, progress float64, msg string) {
	evt := m.deps.Streams.Publish(context.Background(), runID, streaming.Event{
		Type:     typ,
		Progress: progress,
		Message:  msg,
	})
	if m.deps.Events != nil {
		m.deps.Events.Enqueue(db.EventRecord{
			RunID:     runID,
			Seq:       int64(evt.Seq),
			Type:      evt.Type,
			Progress:  evt.Progress,
			Message:   evt.Message,
			CreatedAt: evt.Timestamp,
		})
	}
}

func (m *Manager) update(id string, fn func(r *Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.runs[id]; ok {
		fn(&e.run)
		e.run.UpdatedAt = m.now()
	}
}

func (m *Manager) progressOf(id string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.runs[id]; ok {
		return e.run.Progress
	}
	return 0
}

// retire drops a finished run from memory when the store holds it.
func (m *Manager) retire(id string) {
	if m.deps.Store == nil {
		return
	}
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()
}

// Get returns the run status. Completed runs include the report.
func (m *Manager) Get(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	var run Run
	if ok {
		run = e.run
	}
	m.mu.RUnlock()
	if ok {
		return &run, nil
	}

	if m.deps.Store == nil {
		return nil, ErrNotFound
	}
	rec, err := m.deps.Store.GetRun(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return runFromRecord(rec)
}

// Report returns the completed report, reading cache then store.
func (m *Manager) Report(ctx context.Context, id string) (*models.Report, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	var run Run
	if ok {
		run = e.run
	}
	m.mu.RUnlock()
	if ok {
		if run.Report == nil {
			return nil, ErrReportNotReady
		}
		return run.Report, nil
	}

	if m.deps.Cache != nil {
		report, err := m.deps.Cache.Get(ctx, id)
		if err == nil {
			return report, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			m.deps.Logger.Warn("Report cache read failed", zap.String("run_id", id), zap.Error(err))
		}
	}

	if m.deps.Store == nil {
		return nil, ErrNotFound
	}
	rec, err := m.deps.Store.GetRun(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := runFromRecord(rec)
	if err != nil {
		return nil, err
	}
	if r.Report == nil {
		return nil, ErrReportNotReady
	}
	if m.deps.Cache != nil {
		if err := m.deps.Cache.Put(ctx, id, *r.Report); err != nil {
			m.deps.Logger.Debug("Report cache backfill failed", zap.Error(err))
		}
	}
	return r.Report, nil
}

// List returns the most recent runs, newest first, without reports.
func (m *Manager) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	if m.deps.Store != nil {
		recs, err := m.deps.Store.ListRuns(ctx, limit)
		if err != nil {
			return nil, err
		}
		out := make([]Run, 0, len(recs))
		for i := range recs {
			r, err := runFromRecord(&recs[i])
			if err != nil {
				return nil, err
			}
			out = append(out, *r)
		}
		return out, nil
	}

	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, e := range m.runs {
		r := e.run
		r.Report = nil
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Wait blocks until the run finishes or ctx ends, then returns its final state.
func (m *Manager) Wait(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if ok {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.RLock()
		run := e.run
		m.mu.RUnlock()
		return &run, nil
	}
	return m.Get(ctx, id)
}

// Close cancels running jobs and waits for them to record their outcome.
func (m *Manager) Close(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
