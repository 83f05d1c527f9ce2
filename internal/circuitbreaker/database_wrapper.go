package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const databaseService = "report-store"

// DatabaseWrapper wraps sqlx operations with a circuit breaker. sql.ErrNoRows
// is a normal outcome and does not count against the database.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, settings Settings, logger *zap.Logger) *DatabaseWrapper {
	name := db.DriverName()
	cfg := settings.Merge(DatabaseDefaults()).WithEnv("db").ToConfig()
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, sql.ErrNoRows)
	}
	cb := NewCircuitBreaker(name, cfg, logger)
	track(name, databaseService, cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

func (dw *DatabaseWrapper) run(ctx context.Context, fn func() error) error {
	err := dw.cb.Execute(ctx, fn)
	observe(dw.db.DriverName(), databaseService, dw.cb.State(),
		err == nil || errors.Is(err, sql.ErrNoRows))
	return err
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.run(ctx, func() error { return dw.db.PingContext(ctx) })
}

// ExecContext wraps database exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := dw.run(ctx, func() error {
		var execErr error
		result, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.run(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// Rebind converts '?' placeholders to the driver's bindvar style.
func (dw *DatabaseWrapper) Rebind(query string) string { return dw.db.Rebind(query) }

// DriverName returns the sqlx driver name (postgres or sqlite3).
func (dw *DatabaseWrapper) DriverName() string { return dw.db.DriverName() }

// Stats returns connection pool statistics.
func (dw *DatabaseWrapper) Stats() sql.DBStats { return dw.db.Stats() }

// Close closes the underlying database.
func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool { return dw.cb.State() == StateOpen }
