package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "research_circuit_breaker_state",
		Help: "Breaker state per dependency (0=closed, 1=half-open, 2=open)",
	}, []string{"name", "service"})

	breakerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_circuit_breaker_requests_total",
		Help: "Calls through a breaker by state and result",
	}, []string{"name", "service", "state", "result"})

	breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_circuit_breaker_state_changes_total",
		Help: "Breaker state transitions",
	}, []string{"name", "service", "from_state", "to_state"})

	breakerOpenSince = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "research_circuit_breaker_open_since_seconds",
		Help: "Unix time the breaker opened, 0 when not open",
	}, []string{"name", "service"})
)

type breakerKey struct{ name, service string }

var (
	trackedMu sync.RWMutex
	tracked   = map[breakerKey]*CircuitBreaker{}
)

// track exports cb under name/service and keeps its gauges current on
// transitions.
func track(name, service string, cb *CircuitBreaker) {
	trackedMu.Lock()
	tracked[breakerKey{name, service}] = cb
	trackedMu.Unlock()

	breakerState.WithLabelValues(name, service).Set(float64(StateClosed))
	cb.OnTransition(func(from, to State) {
		breakerTransitions.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	})
}

func observe(name, service string, state State, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerCalls.WithLabelValues(name, service, state.String(), result).Inc()
}

// Snapshot returns the current state of every tracked breaker keyed by
// "service:name".
func Snapshot() map[string]State {
	trackedMu.RLock()
	defer trackedMu.RUnlock()
	out := make(map[string]State, len(tracked))
	for k, cb := range tracked {
		out[k.service+":"+k.name] = cb.State()
	}
	return out
}

// StartMetricsCollection refreshes the state gauges every interval (10s by
// default) so time-driven transitions show up without traffic.
func StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshGauges()
			}
		}
	}()
}

func refreshGauges() {
	trackedMu.RLock()
	defer trackedMu.RUnlock()
	for k, cb := range tracked {
		breakerState.WithLabelValues(k.name, k.service).Set(float64(cb.State()))
	}
}
