package invoker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow while the breaker rejects calls.
var ErrCircuitOpen = errors.New("invoker: circuit breaker is open")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all calls through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls immediately.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through until the success threshold
	// is reached or one of them fails.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// minErrorRateSamples is the number of calls a window needs before its error
// rate can trip the breaker.
const minErrorRateSamples = 10

// BreakerConfig holds circuit breaker thresholds. Zero values fall back to
// the defaults applied by NewCircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// ErrorRateThreshold (0..1) opens the breaker when the failure ratio in
	// the current window reaches it. Zero disables rate-based tripping.
	ErrorRateThreshold float64
	// ErrorRateWindow is the tumbling window length for the error rate.
	ErrorRateWindow time.Duration
}

// CircuitBreaker guards the AI upstream. It trips on consecutive failures or
// on the error rate in a tumbling window, and is safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	now      func() time.Time
	onChange func(BreakerState)

	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int
}

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock overrides the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// OnStateChange registers a callback invoked, with the lock held, whenever
// the breaker changes state. The callback must not call back into the breaker.
func OnStateChange(fn func(BreakerState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{cfg: cfg, now: time.Now, state: BreakerClosed}
	for _, o := range opts {
		o(cb)
	}
	cb.windowStart = cb.now()
	return cb
}

// Allow returns nil when a call may proceed and ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	if cb.state == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.failures = 0
			cb.successes = 0
			cb.resetWindow()
			cb.transition(BreakerClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.errorRateExceeded() {
			cb.open()
		}
	case BreakerHalfOpen:
		cb.open()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Counts returns the consecutive failure and half-open success counters.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

// ErrorRate returns the failure ratio and call count of the current window.
func (cb *CircuitBreaker) ErrorRate() (rate float64, total int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeResetWindow()
	if cb.windowTotal == 0 {
		return 0, 0
	}
	return float64(cb.windowFailures) / float64(cb.windowTotal), cb.windowTotal
}

// The helpers below must be called with the lock held.

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.successes = 0
	cb.resetWindow()
	cb.transition(BreakerOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.successes = 0
		cb.transition(BreakerHalfOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	if cb.state == to {
		return
	}
	cb.state = to
	if cb.onChange != nil {
		cb.onChange(to)
	}
}

func (cb *CircuitBreaker) recordWindowCall(failed bool) {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	cb.maybeResetWindow()
	cb.windowTotal++
	if failed {
		cb.windowFailures++
	}
}

func (cb *CircuitBreaker) maybeResetWindow() {
	if cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.cfg.ErrorRateWindow {
		cb.resetWindow()
	}
}

func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.ErrorRateWindow <= 0 {
		return false
	}
	if cb.windowTotal < minErrorRateSamples {
		return false
	}
	return float64(cb.windowFailures)/float64(cb.windowTotal) >= cb.cfg.ErrorRateThreshold
}
