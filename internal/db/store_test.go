package db

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	s := NewStore(sqlx.NewDb(raw, DriverPostgres), circuitbreaker.Settings{}, zaptest.NewLogger(t))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestCreateRunPostgres(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO research_runs")).
		WithArgs("run-1", "storage", models.StatusQueued, "Technical", "Neutral", models.ModeParallel, "", 0.0, "", nil, "", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreateRun(context.Background(), &RunRecord{
		ID: "run-1", Topic: "storage", Status: models.StatusQueued,
		Style: "Technical", Tone: "Neutral", Mode: models.ModeParallel,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusUsesPostgresBindvars(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE research_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(models.StatusFailed, "boom", fixedNow, "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateStatus(context.Background(), "run-1", models.StatusFailed, "boom"))

	mock.ExpectExec("UPDATE research_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.UpdateStatus(context.Background(), "missing", models.StatusFailed, ""), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventIgnoresDuplicates(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (run_id, seq) DO NOTHING")).
		WithArgs("run-1", int64(3), "progress", 0.5, "half", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AppendEvent(context.Background(), EventRecord{RunID: "run-1", Seq: 3, Type: "progress", Progress: 0.5, Message: "half"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM research_runs WHERE id = \\$1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRunWrapsDriverErrors(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))
	_, err := s.GetRun(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestEnsureSchemaPostgres(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS research_runs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS research_events")).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRunLifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRun(ctx, &RunRecord{ID: "a", Topic: "first", Status: models.StatusQueued, CreatedAt: fixedNow}))
	require.NoError(t, s.CreateRun(ctx, &RunRecord{ID: "b", Topic: "second", Status: models.StatusQueued, CreatedAt: fixedNow.Add(time.Minute)}))

	require.NoError(t, s.SetAnalysis(ctx, "a", "broad topic"))
	require.NoError(t, s.UpdateProgress(ctx, "a", 0.4, "Completed research on: x"))

	_, err := s.Report(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	report := models.Report{Topic: "first", Subtopics: []string{"x"}, RevisionCount: 1}
	require.NoError(t, s.SaveReport(ctx, "a", report))

	run, err := s.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, "broad topic", run.Analysis)
	assert.Equal(t, 1.0, run.Progress)
	assert.True(t, run.CreatedAt.Equal(fixedNow))

	got, err := s.Report(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, got.Subtopics)
	assert.Equal(t, 1, got.RevisionCount)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Empty(t, runs[1].Report)

	_, err = s.GetRun(ctx, "zzz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteEvents(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	for i, msg := range []string{"split", "research", "done"} {
		require.NoError(t, s.AppendEvent(ctx, EventRecord{RunID: "r", Seq: int64(i + 1), Type: "progress", Progress: float64(i) / 2, Message: msg}))
	}
	require.NoError(t, s.AppendEvent(ctx, EventRecord{RunID: "r", Seq: 2, Type: "progress", Message: "duplicate"}))

	events, err := s.ListEvents(ctx, "r", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "research", events[0].Message)
	assert.Equal(t, int64(3), events[1].Seq)
}

func TestEventWriterFlushesOnClose(t *testing.T) {
	s := newSQLiteStore(t)
	w := NewEventWriter(s, 16, 1, zaptest.NewLogger(t))
	for i := 1; i <= 5; i++ {
		assert.True(t, w.Enqueue(EventRecord{RunID: "w", Seq: int64(i), Type: "progress"}))
	}
	w.Close()
	assert.False(t, w.Enqueue(EventRecord{RunID: "w", Seq: 6}))

	events, err := s.ListEvents(context.Background(), "w", 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestJSONBScan(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, `{"a":1}`, string(j))
	require.NoError(t, j.Scan(`{"b":2}`))
	assert.Equal(t, `{"b":2}`, string(j))
	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)
	assert.Error(t, j.Scan(42))

	v, err := JSONB(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
