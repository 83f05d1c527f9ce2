// Package app builds the service dependency graph from configuration. It is
// shared by the service binary and the research CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/cache"
	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/config"
	"github.com/Kocoro-lab/Shannon/go/research/internal/db"
	"github.com/Kocoro-lab/Shannon/go/research/internal/health"
	"github.com/Kocoro-lab/Shannon/go/research/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/orchestrator"
	"github.com/Kocoro-lab/Shannon/go/research/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/research/internal/runs"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/research/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/research/internal/workflows"
)

const (
	executorLocal    = "local"
	executorTemporal = "temporal"

	eventBuffer  = 1024
	eventWorkers = 2
)

// App owns every long-lived component of the service. Optional components
// (Store, Redis, Cache, Events, Temporal, JWT) are nil when not configured.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Agents   orchestrator.Agents
	Store    *db.Store
	Events   *db.EventWriter
	Redis    *circuitbreaker.RedisWrapper
	Cache    *cache.ReportCache
	Streams  *streaming.Manager
	Policy   *policy.OPAEngine
	Temporal client.Client
	Executor runs.Executor
	Runs     *runs.Manager
	Health   *health.Manager
	JWT      *auth.JWTManager
	APIKeys  *auth.APIKeyVerifier

	closers []func() error
}

// New builds agents from cfg and then the rest of the graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ag, err := BuildAgents(cfg, ratecontrol.NewRegistry(cfg.RateLimits), logger)
	if err != nil {
		return nil, err
	}
	return Build(ctx, cfg, ag, logger)
}

// Build wires the graph around already constructed agents. On error every
// component opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, ag orchestrator.Agents, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Agents: ag}
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"store", a.initStore},
		{"redis", a.initRedis},
		{"policy", a.initPolicy},
		{"executor", a.initExecutor},
		{"runs", a.initRuns},
		{"auth", a.initAuth},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			_ = a.closeAll()
			return nil, fmt.Errorf("init %s: %w", s.name, err)
		}
	}
	a.initHealth()
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	dc := a.Config.Database
	if dc.Driver == "" {
		a.Logger.Info("No database configured; runs are kept in memory only")
		return nil
	}
	store, err := db.Open(ctx, db.Config{
		Driver:          dc.Driver,
		DSN:             dc.DSN,
		MaxOpenConns:    dc.MaxOpenConns,
		ConnMaxLifetime: dc.ConnMaxLifetime,
		Breaker:         a.Config.CircuitBreaker.Database,
	}, a.Logger.Named("db"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, store.Close)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	a.Store = store
	a.Events = db.NewEventWriter(store, eventBuffer, eventWorkers, a.Logger.Named("events"))
	a.closers = append(a.closers, func() error { a.Events.Close(); return nil })
	return nil
}

func (a *App) initRedis(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		a.closers = append(a.closers, client.Close)
		a.Redis = circuitbreaker.NewRedisWrapper(client, a.Config.CircuitBreaker.Redis, a.Logger.Named("redis"))
		if err := a.Redis.Ping(ctx); err != nil {
			// the cache and stream mirror degrade to misses; health reports it
			a.Logger.Warn("Redis not reachable at startup", zap.String("addr", rc.Addr), zap.Error(err))
		}
		a.Cache = cache.NewReportCache(a.Redis, rc.ReportTTL, a.Logger.Named("cache"))
	}
	a.Streams = streaming.NewManager(a.Config.Streaming.Capacity, a.Redis, a.Logger.Named("streaming"))
	return nil
}

func (a *App) initPolicy(context.Context) error {
	pc := a.Config.Policy
	mode, err := policy.ParseMode(pc.Mode)
	if err != nil {
		return err
	}
	engine, err := policy.NewOPAEngine(policy.Config{
		Mode:           mode,
		Path:           pc.Path,
		FailClosed:     pc.FailClosed,
		BlockedTerms:   pc.BlockedTerms,
		MaxTopicLength: pc.MaxTopicLength,
	}, a.Logger.Named("policy"))
	if err != nil {
		return err
	}
	a.Policy = engine
	return nil
}

func (a *App) initExecutor(context.Context) error {
	opts := OptionsFromConfig(a.Config)
	switch a.Config.Runs.Executor {
	case executorTemporal:
		tc := TemporalConfig(a.Config)
		c, err := temporal.Dial(tc, a.Logger)
		if err != nil {
			return err
		}
		a.Temporal = c
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		a.Executor = runs.NewTemporalExecutor(c, tc.QueueName(), opts, a.Logger.Named("executor"))
	case executorLocal, "":
		exec, err := runs.NewLocalExecutor(a.Agents, opts, a.Logger.Named("executor"))
		if err != nil {
			return err
		}
		a.Executor = exec
	default:
		return fmt.Errorf("unknown executor %q", a.Config.Runs.Executor)
	}
	a.Logger.Info("Run executor selected", zap.String("executor", a.Executor.Name()))
	return nil
}

func (a *App) initRuns(context.Context) error {
	mgr, err := runs.NewManager(runs.Config{
		MaxConcurrent: a.Config.Runs.MaxConcurrent,
		DefaultStyle:  models.ParseStyle(a.Config.Research.Style),
		DefaultTone:   models.ParseTone(a.Config.Research.Tone),
	}, runs.Deps{
		Executor: a.Executor,
		Store:    a.Store,
		Events:   a.Events,
		Cache:    a.Cache,
		Streams:  a.Streams,
		Policy:   a.Policy,
		Logger:   a.Logger.Named("runs"),
	})
	if err != nil {
		return err
	}
	a.Runs = mgr
	return nil
}

func (a *App) initAuth(context.Context) error {
	ac := a.Config.Auth
	if ac.JWTSecret != "" {
		a.JWT = auth.NewJWTManager(ac.JWTSecret, ac.Issuer, ac.TokenTTL)
	}
	a.APIKeys = auth.NewAPIKeyVerifier(ac.APIKeyHashes)
	if ac.Enabled && a.JWT == nil && !a.APIKeys.Enabled() {
		return errors.New("auth enabled without jwt_secret or api_key_hashes")
	}
	return nil
}

func (a *App) initHealth() {
	a.Health = health.NewManager(a.Logger.Named("health"))
	if a.Store != nil {
		_ = a.Health.RegisterChecker(health.NewDatabaseHealthChecker(a.Store, a.Logger))
	}
	if a.Redis != nil {
		_ = a.Health.RegisterChecker(health.NewRedisHealthChecker(a.Redis, a.Logger))
	}
	if a.Temporal != nil {
		_ = a.Health.RegisterChecker(health.NewTemporalHealthChecker(a.Temporal, a.Logger))
	}
	if a.Config.LLM.BaseURL != "" {
		_ = a.Health.RegisterChecker(health.NewLLMServiceHealthChecker(a.Config.LLM.BaseURL, a.Logger))
	}
	_ = a.Health.RegisterChecker(health.NewCustomHealthChecker("policy", false, time.Second,
		func(ctx context.Context) health.CheckResult {
			d, err := a.Policy.Evaluate(ctx, policy.Input{Topic: "health check"})
			if err != nil || !d.Allow {
				return health.CheckResult{Status: health.StatusDegraded, Critical: false, Message: "admission policy rejects probe topic", Error: errString(err)}
			}
			return health.CheckResult{Status: health.StatusHealthy, Critical: false, Message: "mode " + string(a.Policy.Mode())}
		}))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Start launches background health checks and breaker gauge refreshes.
func (a *App) Start(ctx context.Context) error {
	circuitbreaker.StartMetricsCollection(ctx, 0)
	return a.Health.Start(ctx)
}

// Router returns the public HTTP handler.
func (a *App) Router() http.Handler {
	return httpapi.NewRouter(httpapi.RouterDeps{
		Runs:    a.Runs,
		Streams: a.Streams,
		Health:  a.Health,
		Auth:    auth.NewMiddleware(a.JWT, a.APIKeys, !a.Config.Auth.Enabled, a.Logger.Named("auth")),
		Tokens:  a.JWT,
		Logger:  a.Logger.Named("http"),
	})
}

// ApplyConfig is a config.ChangeHandler: research options take effect for
// runs submitted after the reload. Provider and storage settings need a restart.
func (a *App) ApplyConfig(old, updated *config.Config) error {
	opts := OptionsFromConfig(updated)
	a.Executor.SetOptions(opts)
	a.Logger.Info("Research options reloaded",
		zap.Int("max_workers", opts.MaxWorkers),
		zap.Int("num_subtopics", opts.NumSubtopics),
		zap.Bool("enable_critic", opts.EnableCritic),
		zap.Int("max_revisions", opts.MaxRevisions),
	)
	if old != nil && old.Database != updated.Database {
		a.Logger.Warn("Database settings changed; restart to apply")
	}
	return nil
}

// Watch registers reload handlers on mgr.
func (a *App) Watch(mgr *config.Manager) {
	mgr.RegisterHandler(a.ApplyConfig)
	if a.Config.Policy.Path != "" {
		mgr.RegisterPolicyHandler(a.Config.Policy.Path, a.Policy.LoadPolicies)
	}
}

// Close stops accepting runs, waits for running ones within ctx, then
// releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Health != nil {
		_ = a.Health.Stop()
	}
	if a.Runs != nil {
		if err := a.Runs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close runs: %w", err))
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// TemporalConfig maps the temporal section.
func TemporalConfig(cfg *config.Config) temporal.Config {
	return temporal.Config{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		TaskQueue: cfg.Temporal.TaskQueue,
	}
}

// NewWorker builds a Temporal worker hosting ResearchWorkflow and its
// activities. Activity concurrency follows research.max_workers per run
// times runs.max_concurrent.
func NewWorker(c client.Client, cfg *config.Config, ag orchestrator.Agents, logger *zap.Logger) worker.Worker {
	acts := workflows.NewActivities(ag, logger.Named("activities"))
	maxActs := cfg.Research.MaxWorkers * cfg.Runs.MaxConcurrent
	return temporal.NewWorker(c, TemporalConfig(cfg), maxActs, func(r worker.Registry) {
		workflows.Register(r, acts)
	})
}
