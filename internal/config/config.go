package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Kocoro-lab/Shannon/go/research/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/research/internal/models"
	"github.com/Kocoro-lab/Shannon/go/research/internal/ratecontrol"
)

// ErrMissingCredential is returned by Validate when a required API key is absent.
var ErrMissingCredential = errors.New("missing credential")

// EnvPrefix is prepended to every environment override, e.g. RESEARCH_LLM_MODEL.
const EnvPrefix = "RESEARCH"

type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	GRPCHealthPort  int           `mapstructure:"grpc_health_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

type LLMConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type SearchConfig struct {
	Provider     string        `mapstructure:"provider"`
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ResearchConfig holds the per-run pipeline knobs.
type ResearchConfig struct {
	NumSubtopics    int           `mapstructure:"num_subtopics"`
	MaxSources      int           `mapstructure:"max_sources"`
	MaxWorkers      int           `mapstructure:"max_workers"`
	ResearchTimeout time.Duration `mapstructure:"research_timeout"`
	MaxToolRounds   int           `mapstructure:"max_tool_rounds"`
	EnableCritic    bool          `mapstructure:"enable_critic"`
	MaxRevisions    int           `mapstructure:"max_revisions"`
	Strictness      string        `mapstructure:"strictness"`
	Style           string        `mapstructure:"style"`
	Tone            string        `mapstructure:"tone"`
}

type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

type RunsConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Executor      string `mapstructure:"executor"`
}

// DatabaseConfig selects the report store. An empty driver disables persistence.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the report cache and the event stream mirror when Addr is set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	ReportTTL time.Duration `mapstructure:"report_ttl"`
}

type StreamingConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type AuthConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	Issuer       string        `mapstructure:"issuer"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	APIKeyHashes []string      `mapstructure:"api_key_hashes"`
}

type PolicyConfig struct {
	Mode           string   `mapstructure:"mode"`
	Path           string   `mapstructure:"path"`
	FailClosed     bool     `mapstructure:"fail_closed"`
	BlockedTerms   []string `mapstructure:"blocked_terms"`
	MaxTopicLength int      `mapstructure:"max_topic_length"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type CircuitBreakerConfig struct {
	LLM      circuitbreaker.Settings `mapstructure:"llm"`
	Search   circuitbreaker.Settings `mapstructure:"search"`
	Database circuitbreaker.Settings `mapstructure:"database"`
	Redis    circuitbreaker.Settings `mapstructure:"redis"`
}

// Config is the full service configuration.
type Config struct {
	Service        ServiceConfig                    `mapstructure:"service"`
	LLM            LLMConfig                        `mapstructure:"llm"`
	Search         SearchConfig                     `mapstructure:"search"`
	Research       ResearchConfig                   `mapstructure:"research"`
	Prompts        PromptsConfig                    `mapstructure:"prompts"`
	Runs           RunsConfig                       `mapstructure:"runs"`
	Database       DatabaseConfig                   `mapstructure:"database"`
	Redis          RedisConfig                      `mapstructure:"redis"`
	Streaming      StreamingConfig                  `mapstructure:"streaming"`
	Auth           AuthConfig                       `mapstructure:"auth"`
	Policy         PolicyConfig                     `mapstructure:"policy"`
	Temporal       TemporalConfig                   `mapstructure:"temporal"`
	Tracing        TracingConfig                    `mapstructure:"tracing"`
	CircuitBreaker CircuitBreakerConfig             `mapstructure:"circuit_breaker"`
	RateLimits     map[string]ratecontrol.RateLimit `mapstructure:"rate_limits"`
}

// Load reads path (or CONFIG_PATH when path is empty) on top of the defaults and
// applies RESEARCH_* environment overrides. A missing path means defaults plus env.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CircuitBreaker.LLM = cfg.CircuitBreaker.LLM.WithEnv("llm")
	cfg.CircuitBreaker.Search = cfg.CircuitBreaker.Search.WithEnv("search")
	cfg.CircuitBreaker.Database = cfg.CircuitBreaker.Database.WithEnv("database")
	cfg.CircuitBreaker.Redis = cfg.CircuitBreaker.Redis.WithEnv("redis")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.port", 8081)
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.grpc_health_port", 50052)
	v.SetDefault("service.shutdown_timeout", 30*time.Second)
	v.SetDefault("service.log_level", "info")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_retries", 3)

	v.SetDefault("search.provider", "tavily")
	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("search.base_url", "")
	v.SetDefault("search.timeout", 30*time.Second)

	v.SetDefault("research.num_subtopics", 3)
	v.SetDefault("research.max_sources", 8)
	v.SetDefault("research.max_workers", 3)
	v.SetDefault("research.research_timeout", 3*time.Minute)
	v.SetDefault("research.max_tool_rounds", 5)
	v.SetDefault("research.enable_critic", true)
	v.SetDefault("research.max_revisions", 2)
	v.SetDefault("research.strictness", string(models.StrictnessBalanced))
	v.SetDefault("research.style", string(models.StyleTechnical))
	v.SetDefault("research.tone", string(models.ToneNeutral))

	v.SetDefault("prompts.path", "")

	v.SetDefault("runs.max_concurrent", 4)
	v.SetDefault("runs.executor", "local")

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.report_ttl", 24*time.Hour)

	v.SetDefault("streaming.capacity", 256)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "research-service")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.api_key_hashes", []string{})

	v.SetDefault("policy.mode", "enforce")
	v.SetDefault("policy.path", "")
	v.SetDefault("policy.fail_closed", false)
	v.SetDefault("policy.blocked_terms", []string{})
	v.SetDefault("policy.max_topic_length", 500)

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "research")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "research-service")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")

	setBreakerDefaults(v, "circuit_breaker.llm", circuitbreaker.HTTPDefaults())
	setBreakerDefaults(v, "circuit_breaker.search", circuitbreaker.HTTPDefaults())
	setBreakerDefaults(v, "circuit_breaker.database", circuitbreaker.DatabaseDefaults())
	setBreakerDefaults(v, "circuit_breaker.redis", circuitbreaker.RedisDefaults())
}

func setBreakerDefaults(v *viper.Viper, key string, s circuitbreaker.Settings) {
	v.SetDefault(key+".max_requests", s.MaxRequests)
	v.SetDefault(key+".interval", s.Interval)
	v.SetDefault(key+".timeout", s.Timeout)
	v.SetDefault(key+".failure_threshold", s.FailureThreshold)
	v.SetDefault(key+".success_threshold", s.SuccessThreshold)
}

// bindLegacyEnv keeps the unprefixed provider variables working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("search.tavily_api_key", EnvPrefix+"_SEARCH_TAVILY_API_KEY", "TAVILY_API_KEY")
	_ = v.BindEnv("search.brave_api_key", EnvPrefix+"_SEARCH_BRAVE_API_KEY", "BRAVE_API_KEY")
}

// Validate checks credentials and numeric bounds. Credential problems wrap ErrMissingCredential.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("%w: llm.api_key (OPENAI_API_KEY)", ErrMissingCredential)
	}
	switch strings.ToLower(c.Search.Provider) {
	case "tavily":
		if strings.TrimSpace(c.Search.TavilyAPIKey) == "" {
			return fmt.Errorf("%w: search.tavily_api_key (TAVILY_API_KEY)", ErrMissingCredential)
		}
	case "brave":
		if strings.TrimSpace(c.Search.BraveAPIKey) == "" {
			return fmt.Errorf("%w: search.brave_api_key (BRAVE_API_KEY)", ErrMissingCredential)
		}
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	if c.Research.MaxWorkers < 1 {
		return fmt.Errorf("research.max_workers must be at least 1, got %d", c.Research.MaxWorkers)
	}
	if c.Research.ResearchTimeout <= 0 {
		return fmt.Errorf("research.research_timeout must be positive")
	}
	if c.Research.MaxToolRounds < 1 {
		return fmt.Errorf("research.max_tool_rounds must be at least 1, got %d", c.Research.MaxToolRounds)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" && len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("%w: auth enabled without jwt_secret or api_key_hashes", ErrMissingCredential)
	}
	switch c.Runs.Executor {
	case "local", "temporal":
	default:
		return fmt.Errorf("unknown runs.executor %q", c.Runs.Executor)
	}
	return nil
}

// SearchAPIKey returns the key for the selected search provider.
func (c *Config) SearchAPIKey() string {
	if strings.EqualFold(c.Search.Provider, "brave") {
		return c.Search.BraveAPIKey
	}
	return c.Search.TavilyAPIKey
}
