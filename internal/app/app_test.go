package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/research/internal/agents"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/health"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/research/internal/runs"
)

type splitTwo struct{}

func (splitTwo) Split(ctx context.Context, topic string) (*agents.SplitResult, error) {
	return &agents.SplitResult{
		Analysis:  "overview of " + topic,
		Subtopics: []models.SubtopicSpec{{Name: "Chemistry"}, {Name: "Supply chain"}},
	}, nil
}

type echoResearcher struct{}

func (echoResearcher) Research(ctx context.Context, index int, spec models.SubtopicSpec, mainTopic string) (models.SubtopicFindings, error) {
	return models.SubtopicFindings{Subtopic: spec.Name, Summary: spec.Name + " summary"}, nil
}

type joinSynth struct{}

func (joinSynth) Synthesize(ctx context.Context, topic string, findings []models.SubtopicFindings, style models.Style, tone models.Tone) (models.Report, error) {
	return models.Report{Topic: topic, ExecutiveSummary: "summary of " + topic, SubtopicFindings: findings}, nil
}

func (joinSynth) Revise(ctx context.Context, report models.Report, instructions string, style models.Style, tone models.Tone) (models.Report, error) {
	return report, nil
}

type approveAll struct{}

func (approveAll) Review(ctx context.Context, report models.Report) (models.CriticReview, error) {
	return models.DefaultReview(), nil
}

func stubAgents() orchestrator.Agents {
	return orchestrator.Agents{Splitter: splitTwo{}, Researcher: echoResearcher{}, Synthesizer: joinSynth{}, Critic: approveAll{}}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")
	cfg, err := config.Load("")
	require.NoError(t, err)
	llmStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(llmStub.Close)
	cfg.LLM.BaseURL = llmStub.URL
	cfg.Database.Driver = ""
	cfg.Redis.Addr = ""
	cfg.Runs.Executor = "local"
	return cfg
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Research.NumSubtopics = 9
	cfg.Research.MaxWorkers = 5
	cfg.Research.Style = "business"
	cfg.Research.Tone = "advisory"
	cfg.LLM.Model = "gpt-test"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 4, opts.NumSubtopics)
	assert.Equal(t, 5, opts.MaxWorkers)
	assert.Equal(t, 3*time.Minute, opts.ResearchTimeout)
	assert.True(t, opts.EnableCritic)
	assert.Equal(t, 2, opts.MaxRevisions)
	assert.Equal(t, models.StyleBusiness, opts.Style)
	assert.Equal(t, models.ToneAdvisory, opts.Tone)
	assert.Equal(t, "gpt-test", opts.Model)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger("", false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}

func TestNewRejectsUnknownSearchProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Provider = "altavista"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestBuildRejectsUnknownExecutor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runs.Executor = "carrier-pigeon"
	_, err := Build(context.Background(), cfg, stubAgents(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init executor")
}

func TestBuildRejectsBadPolicyMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Policy.Mode = "sometimes"
	_, err := Build(context.Background(), cfg, stubAgents(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init policy")
}

func TestBuildInMemoryServesRuns(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	a, err := Build(ctx, cfg, stubAgents(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.Store)
	assert.Nil(t, a.Cache)
	assert.Equal(t, "local", a.Executor.Name())
	checkers := a.Health.GetCheckers()
	assert.Contains(t, checkers, "policy")
	assert.Contains(t, checkers, "llm_service")
	assert.NotContains(t, checkers, "database")

	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/api/v1/research", "application/json", strings.NewReader(`{"topic":"sodium-ion batteries"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := a.Runs.Wait(waitCtx, accepted.RunID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status, final.Error)

	report, err := http.Get(srv.URL + "/api/v1/research/" + accepted.RunID + "/report.json")
	require.NoError(t, err)
	defer report.Body.Close()
	require.Equal(t, http.StatusOK, report.StatusCode)
	var got models.Report
	require.NoError(t, json.NewDecoder(report.Body).Decode(&got))
	assert.Equal(t, "sodium-ion batteries", got.Topic)
	assert.Len(t, got.SubtopicFindings, 2)
}

func TestBuildWithStoreAndRedis(t *testing.T) {
	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = ":memory:"
	cfg.Redis.Addr = mr.Addr()

	ctx := context.Background()
	a, err := Build(ctx, cfg, stubAgents(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Events)
	require.NotNil(t, a.Cache)
	checkers := a.Health.GetCheckers()
	assert.Contains(t, checkers, "database")
	assert.Contains(t, checkers, "redis")

	overall := a.Health.GetOverallHealth(ctx)
	assert.Equal(t, health.StatusHealthy, overall.Status)
	assert.True(t, overall.Ready)

	run, err := a.Runs.Submit(ctx, runs.SubmitRequest{Topic: "grid-scale storage", Sequential: true})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := a.Runs.Wait(waitCtx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)

	stored, err := a.Store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestApplyConfigUpdatesExecutorOptions(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, stubAgents(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	updated := *cfg
	updated.Research.MaxWorkers = 7
	updated.Research.EnableCritic = false
	require.NoError(t, a.ApplyConfig(cfg, &updated))

	exec, ok := a.Executor.(*runs.LocalExecutor)
	require.True(t, ok)
	assert.Equal(t, 7, exec.Options().MaxWorkers)
	assert.False(t, exec.Options().EnableCritic)
}

func TestAuthEnabledRequiresCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = ""
	cfg.Auth.APIKeyHashes = nil
	_, err := Build(context.Background(), cfg, stubAgents(), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init auth")
}
