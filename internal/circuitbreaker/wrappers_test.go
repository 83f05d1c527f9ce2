package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapperReturns5xxResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	settings := Settings{FailureThreshold: 2, Timeout: time.Minute}
	hw := NewHTTPWrapper(srv.Client(), "test-http", "test", settings, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := hw.Do(req)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestHTTPWrapper4xxDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "test-http-4xx", "test", Settings{FailureThreshold: 1}, zaptest.NewLogger(t))
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, hw.State())
}

func TestDatabaseWrapperOperations(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer raw.Close()

	db := sqlx.NewDb(raw, "postgres")
	wrapper := NewDatabaseWrapper(db, Settings{FailureThreshold: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, wrapper.PingContext(ctx))

	mock.ExpectExec("INSERT INTO research_runs").
		WithArgs("abc").
		WillReturnResult(sqlmock.NewResult(1, 1))
	res, err := wrapper.ExecContext(ctx, wrapper.Rebind("INSERT INTO research_runs (id) VALUES (?)"), "abc")
	require.NoError(t, err)
	affected, _ := res.RowsAffected()
	assert.Equal(t, int64(1), affected)

	mock.ExpectQuery("SELECT id FROM research_runs").WillReturnError(sql.ErrNoRows)
	var id string
	err = wrapper.GetContext(ctx, &id, "SELECT id FROM research_runs WHERE id = $1", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.False(t, wrapper.IsCircuitBreakerOpen(), "no rows must not trip the breaker")

	mock.ExpectQuery("SELECT id FROM research_runs").WillReturnError(errors.New("connection reset"))
	var ids []string
	err = wrapper.SelectContext(ctx, &ids, "SELECT id FROM research_runs")
	assert.Error(t, err)
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisWrapperOperations(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, Settings{FailureThreshold: 1}, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx))
	require.NoError(t, wrapper.Set(ctx, "k", "v", time.Minute))

	val, err := wrapper.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(val))

	_, err = wrapper.Get(ctx, "missing")
	assert.ErrorIs(t, err, redis.Nil)
	assert.False(t, wrapper.IsCircuitBreakerOpen())

	require.NoError(t, wrapper.Del(ctx, "k"))
	_, err = wrapper.Get(ctx, "k")
	assert.ErrorIs(t, err, redis.Nil)
}
