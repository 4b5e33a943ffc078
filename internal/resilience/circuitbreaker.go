// Package resilience guards the scheduler's per-account IMAP connect/fetch
// attempts with a circuit breaker: after a run of transient failures for one
// account, it rejects that account's runs outright until a cooldown
// elapses, rather than repeatedly spending a full connection attempt on a
// mailbox that's currently down.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrCircuitTimeout is returned when execution times out.
var ErrCircuitTimeout = errors.New("circuit breaker execution timeout")

// State represents the circuit breaker state.
type State int32

const (
	// StateClosed is the normal operating state - requests flow through.
	StateClosed State = iota
	// StateOpen is the failing state - requests are rejected immediately.
	StateOpen
	// StateHalfOpen is the recovery testing state - limited requests allowed.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures one account's circuit breaker.
type Config struct {
	// Name identifies this circuit breaker for logging, e.g.
	// "imap-connect:<accountID>".
	Name string

	// FailureThreshold is the number of failures before opening the circuit.
	FailureThreshold int64

	// SuccessThreshold is the number of successes in half-open state to close.
	SuccessThreshold int64

	// Timeout is how long to wait before transitioning from open to half-open.
	Timeout time.Duration

	// HalfOpenMaxCalls limits concurrent calls in half-open state.
	HalfOpenMaxCalls int64

	// ExecutionTimeout is the max time for a single execution (0 = no timeout).
	ExecutionTimeout time.Duration

	// OnStateChange, if set, is called when the breaker transitions state.
	// The scheduler uses this to log account-scoped breaker trips.
	OnStateChange func(name string, from, to State)

	// IsFailure determines if an error should count as a failure. The
	// scheduler only counts apperr.KindTransient as a breaker failure, since
	// auth/protocol errors need operator intervention, not a cooldown.
	IsFailure func(err error) bool
}

// DefaultConfig returns the breaker defaults the scheduler applies to every
// account unless overridden.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
		ExecutionTimeout: 10 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern around one
// account's processing runs.
type CircuitBreaker struct {
	config Config

	state           int32 // atomic State
	failureCount    int64 // atomic
	successCount    int64 // atomic
	halfOpenCalls   int64 // atomic
	lastFailureTime int64 // atomic (unix nano)
	lastStateChange int64 // atomic (unix nano)

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 3
	}

	return &CircuitBreaker{
		config:          cfg,
		state:           int32(StateClosed),
		lastStateChange: time.Now().UnixNano(),
	}
}

// Execute runs fn through the breaker: rejected outright while open, and
// recorded as a success or failure (per Config.IsFailure) otherwise.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is nil")
	}
	if fn == nil {
		return errors.New("function is nil")
	}

	if err := cb.beforeRequest(); err != nil {
		return err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if cb.config.ExecutionTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cb.config.ExecutionTimeout)
		defer cancel()
	}

	errCh := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer func() {
			close(done)
			if r := recover(); r != nil {
				select {
				case errCh <- fmt.Errorf("panic in circuit breaker: %v", r):
				default:
				}
			}
		}()

		err := fn(execCtx)
		select {
		case errCh <- err:
		case <-execCtx.Done():
		}
	}()

	var err error
	select {
	case err = <-errCh:
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			err = ErrCircuitTimeout
		} else {
			err = execCtx.Err()
		}
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
			// The goroutine is still finishing up; it will clean up on its
			// own, we just can't wait for it forever.
		}
	}

	cb.afterRequest(err)
	return err
}

// beforeRequest checks if the request should be allowed.
func (cb *CircuitBreaker) beforeRequest() error {
	state := State(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		return nil

	case StateOpen:
		lastFailure := time.Unix(0, atomic.LoadInt64(&cb.lastFailureTime))
		if time.Since(lastFailure) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		calls := atomic.AddInt64(&cb.halfOpenCalls, 1)
		if calls > cb.config.HalfOpenMaxCalls {
			atomic.AddInt64(&cb.halfOpenCalls, -1)
			return ErrCircuitOpen
		}
		return nil

	default:
		return nil
	}
}

// afterRequest records the result of the request.
func (cb *CircuitBreaker) afterRequest(err error) {
	isFailure := err != nil
	if cb.config.IsFailure != nil && err != nil {
		isFailure = cb.config.IsFailure(err)
	}

	state := State(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		if isFailure {
			failures := atomic.AddInt64(&cb.failureCount, 1)
			atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
			if failures >= cb.config.FailureThreshold {
				cb.transitionTo(StateOpen)
			}
		} else {
			atomic.StoreInt64(&cb.failureCount, 0)
		}

	case StateHalfOpen:
		atomic.AddInt64(&cb.halfOpenCalls, -1)
		if isFailure {
			atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
			cb.transitionTo(StateOpen)
		} else {
			successes := atomic.AddInt64(&cb.successCount, 1)
			if successes >= cb.config.SuccessThreshold {
				cb.transitionTo(StateClosed)
			}
		}

	case StateOpen:
		if isFailure {
			atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
		}
	}
}

// transitionTo changes the circuit breaker state and fires OnStateChange.
func (cb *CircuitBreaker) transitionTo(newState State) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := State(atomic.LoadInt32(&cb.state))
	if oldState == newState {
		return
	}

	atomic.StoreInt64(&cb.failureCount, 0)
	atomic.StoreInt64(&cb.successCount, 0)
	atomic.StoreInt64(&cb.halfOpenCalls, 0)
	atomic.StoreInt64(&cb.lastStateChange, time.Now().UnixNano())
	atomic.StoreInt32(&cb.state, int32(newState))

	if cb.config.OnStateChange != nil {
		callback := cb.config.OnStateChange
		name := cb.config.Name
		go func() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				callback(name, oldState, newState)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
			}
		}()
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	return State(atomic.LoadInt32(&cb.state))
}

// BreakerRegistry manages one circuit breaker per account, created lazily
// on first use from a config factory keyed by account ID.
type BreakerRegistry struct {
	breakers sync.Map
	config   func(key string) Config
	mu       sync.Mutex
}

// NewBreakerRegistry creates a new registry with a config factory function.
func NewBreakerRegistry(configFactory func(key string) Config) *BreakerRegistry {
	if configFactory == nil {
		panic("config factory cannot be nil")
	}
	return &BreakerRegistry{
		config: configFactory,
	}
}

// Get returns the circuit breaker for the given account ID, creating it if
// necessary. Safe for concurrent use.
func (r *BreakerRegistry) Get(key string) *CircuitBreaker {
	if key == "" {
		return nil
	}

	if cb, ok := r.breakers.Load(key); ok {
		return cb.(*CircuitBreaker)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers.Load(key); ok {
		return cb.(*CircuitBreaker)
	}

	newCB := NewCircuitBreaker(r.config(key))
	r.breakers.Store(key, newCB)
	return newCB
}
