package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position. The numeric value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests in half-open state")
)

// IsBreakerError reports whether err came from the breaker rather than the
// protected call.
func IsBreakerError(err error) bool {
	return errors.Is(err, ErrCircuitBreakerOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config tunes one breaker.
type Config struct {
	MaxRequests      uint32        // probes admitted while half-open
	Interval         time.Duration // closed-state counter window; 0 keeps counting forever
	Timeout          time.Duration // open duration before probing
	FailureThreshold uint32        // consecutive failures that open the breaker
	SuccessThreshold uint32        // consecutive half-open successes that close it
	OnStateChange    func(name string, from State, to State)
	// IsSuccessful classifies the protected call's error; nil means err == nil.
	IsSuccessful func(err error) bool
}

func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

// Counts covers the current epoch only; every transition starts a new one.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker guards calls to one external dependency: the LLM endpoint,
// a search provider, the report store or redis.
type CircuitBreaker struct {
	name   string
	cfg    Config
	logger *zap.Logger
	clock  func() time.Time

	mu       sync.Mutex
	state    State
	epoch    uint64
	counts   Counts
	deadline time.Time
	watchers []func(from, to State)
}

func NewCircuitBreaker(name string, cfg Config, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{name: name, cfg: cfg, logger: logger, clock: time.Now}
	cb.reset(cb.clock())
	return cb
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// OnTransition adds a hook called, with the lock held, on every state change.
func (cb *CircuitBreaker) OnTransition(fn func(from, to State)) {
	cb.mu.Lock()
	cb.watchers = append(cb.watchers, fn)
	cb.mu.Unlock()
}

// Execute runs fn unless the breaker refuses it. A context that is already
// done, or that fn gave up on, is not charged to the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	epoch, err := cb.admit()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			cb.settle(epoch, false)
		}
	}()
	err = fn()
	completed = true
	cb.settle(epoch, cb.classify(ctx, err))
	return err
}

func (cb *CircuitBreaker) classify(ctx context.Context, err error) bool {
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return true
	}
	if cb.cfg.IsSuccessful != nil {
		return cb.cfg.IsSuccessful(err)
	}
	return err == nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(cb.clock())
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(cb.clock())
	if cb.state == StateOpen {
		return cb.epoch, ErrCircuitBreakerOpen
	}
	if cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests {
		return cb.epoch, ErrTooManyRequests
	}
	cb.counts.Requests++
	return cb.epoch, nil
}

// settle records an outcome; results from an earlier epoch are dropped.
func (cb *CircuitBreaker) settle(epoch uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clock()
	cb.refresh(now)
	if epoch != cb.epoch {
		return
	}
	c := &cb.counts
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			c.ConsecutiveSuccesses++
			if c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed, now)
			}
		}
		return
	}
	switch cb.state {
	case StateClosed:
		c.TotalFailures++
		c.ConsecutiveFailures++
		c.ConsecutiveSuccesses = 0
		if c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transition(StateOpen, now)
	}
}

// refresh applies time-driven changes: the closed window rolls over and an
// expired open period turns into half-open.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.deadline.IsZero() || !cb.deadline.Before(now) {
		return
	}
	switch cb.state {
	case StateClosed:
		cb.reset(now)
	case StateOpen:
		cb.transition(StateHalfOpen, now)
	}
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.reset(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	for _, fn := range cb.watchers {
		fn(from, to)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

func (cb *CircuitBreaker) reset(now time.Time) {
	cb.epoch++
	cb.counts = Counts{}
	cb.deadline = time.Time{}
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			cb.deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		cb.deadline = now.Add(cb.cfg.Timeout)
	}
}
