package circuitbreaker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the file/env facing form of a breaker configuration.
type Settings struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	SuccessThreshold uint32        `mapstructure:"success_threshold"`
}

// HTTPDefaults are used for the LLM and search provider breakers.
func HTTPDefaults() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// DatabaseDefaults are used for the report store breaker.
func DatabaseDefaults() Settings {
	return Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// RedisDefaults are used for the report cache breaker.
func RedisDefaults() Settings {
	return Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}
}

// WithEnv overlays CB_<NAME>_* environment variables, e.g. CB_LLM_TIMEOUT=20s.
func (s Settings) WithEnv(name string) Settings {
	prefix := "CB_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
	s.MaxRequests = getEnvUint32(prefix+"MAX_REQUESTS", s.MaxRequests)
	s.Interval = getEnvDuration(prefix+"INTERVAL", s.Interval)
	s.Timeout = getEnvDuration(prefix+"TIMEOUT", s.Timeout)
	s.FailureThreshold = getEnvUint32(prefix+"FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = getEnvUint32(prefix+"SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

// Merge fills zero fields of s from defaults.
func (s Settings) Merge(defaults Settings) Settings {
	if s.MaxRequests == 0 {
		s.MaxRequests = defaults.MaxRequests
	}
	if s.Interval == 0 {
		s.Interval = defaults.Interval
	}
	if s.Timeout == 0 {
		s.Timeout = defaults.Timeout
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = defaults.FailureThreshold
	}
	if s.SuccessThreshold == 0 {
		s.SuccessThreshold = defaults.SuccessThreshold
	}
	return s
}

// ToConfig converts Settings to a breaker Config
func (s Settings) ToConfig() Config {
	return Config{
		MaxRequests:      s.MaxRequests,
		Interval:         s.Interval,
		Timeout:          s.Timeout,
		FailureThreshold: s.FailureThreshold,
		SuccessThreshold: s.SuccessThreshold,
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
