package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Config holds database configuration
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	Breaker         circuitbreaker.Settings
}

// Store persists runs, reports and progress events.
type Store struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	now    func() time.Time
}

// Open connects, pings and returns a Store. SQLite is limited to one
// connection so an in-memory database is shared by every query.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPostgres
	}
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	raw, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		raw.SetMaxOpenConns(1)
		raw.SetConnMaxLifetime(0)
	} else {
		raw.SetMaxOpenConns(cfg.MaxOpenConns)
		raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := NewStore(raw, cfg.Breaker, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.db.PingContext(pingCtx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database store initialized",
		zap.String("driver", cfg.Driver),
		zap.Int("max_connections", cfg.MaxOpenConns),
	)
	return store, nil
}

// NewStore wraps an existing connection.
func NewStore(db *sqlx.DB, breaker circuitbreaker.Settings, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     circuitbreaker.NewDatabaseWrapper(db, breaker, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Stats returns connection pool statistics.
func (s *Store) Stats() sql.DBStats { return s.db.Stats() }

// BreakerOpen reports whether the database circuit breaker is open.
func (s *Store) BreakerOpen() bool { return s.db.IsCircuitBreakerOpen() }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DriverName reports the dialect.
func (s *Store) DriverName() string { return s.db.DriverName() }

// CreateRun inserts a new run. CreatedAt and UpdatedAt default to now.
func (s *Store) CreateRun(ctx context.Context, r *RunRecord) error {
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO research_runs (
            id, topic, status, style, tone, mode, analysis, progress, message, report, error, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.Topic, r.Status, r.Style, r.Tone, r.Mode, r.Analysis, r.Progress, r.Message, r.Report, r.Error,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// UpdateProgress records the latest progress value and message.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64, message string) error {
	return s.update(ctx, id, `UPDATE research_runs SET progress = ?, message = ?, updated_at = ? WHERE id = ?`,
		progress, message, s.now(), id)
}

// UpdateStatus moves a run to status with an optional error message.
func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return s.update(ctx, id, `UPDATE research_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, s.now(), id)
}

// SetAnalysis stores the splitter analysis of a run.
func (s *Store) SetAnalysis(ctx context.Context, id, analysis string) error {
	return s.update(ctx, id, `UPDATE research_runs SET analysis = ?, updated_at = ? WHERE id = ?`,
		analysis, s.now(), id)
}

// SaveReport stores the final report and marks the run completed.
func (s *Store) SaveReport(ctx context.Context, id string, report models.Report) error {
	payload, err := MarshalJSONB(report)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", id, err)
	}
	return s.update(ctx, id, `UPDATE research_runs SET report = ?, status = ?, progress = 1, updated_at = ? WHERE id = ?`,
		payload, models.StatusCompleted, s.now(), id)
}

func (s *Store) update(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, topic, status, style, tone, mode, analysis, progress, message, report, error, created_at, updated_at`

// GetRun returns the run including its report.
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+runColumns+` FROM research_runs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// Report decodes the stored report of a completed run.
func (s *Store) Report(ctx context.Context, id string) (*models.Report, error) {
	r, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(r.Report) == 0 {
		return nil, ErrNotFound
	}
	var report models.Report
	if err := r.Report.Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", id, err)
	}
	return &report, nil
}

// ListRuns returns the newest runs first without their reports.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []RunRecord
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
        SELECT id, topic, status, style, tone, mode, analysis, progress, message, error, created_at, updated_at
        FROM research_runs ORDER BY created_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// AppendEvent stores one progress event; a duplicate (run_id, seq) is ignored.
func (s *Store) AppendEvent(ctx context.Context, e EventRecord) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO research_events (run_id, seq, type, progress, message, created_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (run_id, seq) DO NOTHING`),
		e.RunID, e.Seq, e.Type, e.Progress, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", e.RunID, e.Seq, err)
	}
	return nil
}

// ListEvents returns the run's events with seq > since in order.
func (s *Store) ListEvents(ctx context.Context, runID string, since int64) ([]EventRecord, error) {
	var out []EventRecord
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
        SELECT run_id, seq, type, progress, message, created_at
        FROM research_events WHERE run_id = ? AND seq > ? ORDER BY seq`), runID, since)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", runID, err)
	}
	return out, nil
}
