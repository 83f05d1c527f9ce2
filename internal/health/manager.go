package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCheckInterval = 30 * time.Second

// Manager runs registered checks on demand and on a background ticker, and
// remembers the latest result per component.
type Manager struct {
	logger *zap.Logger

	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	stop     context.CancelFunc
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:   logger,
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: defaultCheckInterval,
	}
}

func (m *Manager) RegisterChecker(c Checker) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.checkers[name]; dup {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
		zap.Duration("timeout", c.Timeout()),
	)
	return nil
}

func (m *Manager) UnregisterChecker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkers[name]; !ok {
		return fmt.Errorf("checker %s not found", name)
	}
	delete(m.checkers, name)
	delete(m.last, name)
	return nil
}

func (m *Manager) GetCheckers() map[string]Checker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Checker, len(m.checkers))
	for name, c := range m.checkers {
		out[name] = c
	}
	return out
}

// GetOverallHealth runs every check and reduces them to one status.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	d := m.GetDetailedHealth(ctx)
	overall := d.Overall
	overall.Timestamp = d.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs all checks concurrently, each under its own timeout.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	checkers := m.GetCheckers()
	now := time.Now()

	results := make([]CheckResult, 0, len(checkers))
	var mu sync.Mutex
	var g errgroup.Group
	for _, c := range checkers {
		g.Go(func() error {
			r := runCheck(ctx, c)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	components := make(map[string]CheckResult, len(results))
	m.mu.Lock()
	for _, r := range results {
		components[r.Component] = r
		m.last[r.Component] = r
	}
	m.mu.Unlock()
	return aggregate(components, now)
}

func runCheck(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()
	start := time.Now()
	r := c.Check(ctx)
	r.Component = c.Name()
	r.Critical = c.IsCritical()
	r.Timestamp = start
	r.Duration = time.Since(start)
	return r
}

// aggregate derives the overall view. No checks means healthy since every
// dependency of the service is optional.
func aggregate(components map[string]CheckResult, at time.Time) DetailedHealth {
	s := HealthSummary{Total: len(components)}
	var criticalDown, optionalDown int
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
			if r.Critical {
				criticalDown++
			} else {
				optionalDown++
			}
		}
		if r.Critical {
			s.Critical++
		} else {
			s.NonCritical++
		}
	}

	o := OverallHealth{Status: StatusHealthy, Ready: true, Live: true}
	switch {
	case s.Total == 0:
		o.Message = "No health checks registered"
	case criticalDown > 0:
		o.Status = StatusUnhealthy
		o.Ready = false
		o.Message = fmt.Sprintf("%d critical component(s) failing", criticalDown)
	case s.Degraded > 0:
		o.Status = StatusDegraded
		o.Message = fmt.Sprintf("%d component(s) degraded", s.Degraded)
	case optionalDown > 0:
		o.Status = StatusDegraded
		o.Message = fmt.Sprintf("%d non-critical component(s) failing", optionalDown)
	default:
		o.Message = fmt.Sprintf("All %d components healthy", s.Total)
	}
	o.Degraded = o.Status == StatusDegraded || s.Degraded > 0

	return DetailedHealth{Overall: o, Components: components, Summary: s, Timestamp: at}
}

func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive never runs checks; a process that can answer is alive.
func (m *Manager) IsLive(context.Context) bool { return true }

// Start launches the background checker. Calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	go m.loop(ctx, m.interval)

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.interval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop == nil {
		return nil
	}
	m.stop()
	m.stop = nil
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			overall := m.GetDetailedHealth(checkCtx).Overall
			cancel()
			if overall.Status != StatusHealthy {
				m.logger.Warn("Background health check not healthy",
					zap.Stringer("status", overall.Status),
					zap.String("message", overall.Message),
				)
			}
		}
	}
}

// SetCheckInterval takes effect on the next Start.
func (m *Manager) SetCheckInterval(d time.Duration) {
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// GetLastResults returns the cached results without running checks.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}

// cachedDetail rebuilds the detailed view from the last results.
func (m *Manager) cachedDetail() DetailedHealth {
	return aggregate(m.GetLastResults(), time.Now())
}
