// Package resilience guards storage calls with a per-call deadline, a
// circuit breaker and a single retry of transient failures.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/storage"
)

var (
	// ErrTimeout is returned when a guarded call exhausted its retry or the
	// breaker refused it. Callers may retry later.
	ErrTimeout = errors.New("storage call timed out")

	// ErrCircuitOpen is wrapped into ErrTimeout when the circuit breaker is
	// open and rejects requests to prevent cascading failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config holds the guard configuration.
type Config struct {
	// Timeout bounds each individual attempt.
	// Default: 5 seconds
	Timeout time.Duration

	// MaxFailures is the number of consecutive transient failures required
	// to trip the circuit.
	// Default: 5
	MaxFailures uint32

	// Cooldown is how long the circuit stays open before going half-open.
	// Default: 30 seconds
	Cooldown time.Duration

	// HalfOpenMaxRequests is the number of trial requests allowed while
	// half-open.
	// Default: 1
	HalfOpenMaxRequests uint32
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = 1
	}
}

// Metrics holds counters about guarded calls.
type Metrics struct {
	TotalCalls          uint64
	TotalRetries        uint64
	TotalTimeouts       uint64
	ConsecutiveFailures uint32
}

// Guard runs storage calls through a gobreaker circuit breaker. Only
// transient failures (deadline exceeded, storage.ErrUnavailable) count
// against the breaker; domain errors such as not-found or conflict pass
// through untouched.
type Guard struct {
	breaker *gobreaker.CircuitBreaker
	config  Config
	logger  *zap.Logger
	onRetry func(op string)

	mu      sync.Mutex
	metrics Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger logs breaker state changes and retries.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRetryHook registers fn to be called each time an operation is retried.
func WithRetryHook(fn func(op string)) Option {
	return func(g *Guard) { g.onRetry = fn }
}

// NewGuard creates a Guard. Zero config fields take their defaults.
func NewGuard(config Config, opts ...Option) *Guard {
	config.applyDefaults()
	g := &Guard{config: config, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage",
		MaxRequests: config.HalfOpenMaxRequests,
		Timeout:     config.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			var t *transientError
			return !errors.As(err, &t)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return g
}

// transientError marks an attempt failure that is safe to retry.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Do runs fn under g. Each attempt gets its own deadline derived from ctx.
// A transient failure is retried once; fn receives the attempt number
// (1 or 2) so it can recognise its own earlier effects. A second transient
// failure, or an open breaker, yields an error wrapping ErrTimeout. A nil
// Guard runs fn once with ctx.
func Do[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if g == nil {
		return fn(ctx, 1)
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if attempt > 1 {
			g.recordRetry(op, lastErr)
		}

		result, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
			defer cancel()

			v, err := fn(callCtx, attempt)
			if err != nil && isTransient(ctx, err) {
				return nil, &transientError{err: err}
			}
			return v, err
		})
		g.recordCall()

		if err == nil {
			v, _ := result.(T)
			return v, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.recordTimeout()
			return zero, fmt.Errorf("%w: %s: %w", ErrTimeout, op, ErrCircuitOpen)
		}

		var t *transientError
		if !errors.As(err, &t) {
			return zero, err
		}
		lastErr = t.err
	}

	g.recordTimeout()
	return zero, fmt.Errorf("%w: %s: %v", ErrTimeout, op, lastErr)
}

// isTransient reports whether err is worth one retry: the attempt's own
// deadline fired while the caller's context is still live, or the backend
// reported itself unavailable.
func isTransient(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, storage.ErrUnavailable)
}

// State returns the current state of the circuit breaker.
// Possible values: "closed", "open", "half-open"
func (g *Guard) State() string {
	switch g.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns a copy of the guard's counters.
func (g *Guard) Metrics() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.metrics
	m.ConsecutiveFailures = g.breaker.Counts().ConsecutiveFailures
	return m
}

func (g *Guard) recordCall() {
	g.mu.Lock()
	g.metrics.TotalCalls++
	g.mu.Unlock()
}

func (g *Guard) recordRetry(op string, cause error) {
	g.mu.Lock()
	g.metrics.TotalRetries++
	g.mu.Unlock()

	g.logger.Debug("retrying storage call", zap.String("operation", op), zap.Error(cause))
	if g.onRetry != nil {
		g.onRetry(op)
	}
}

func (g *Guard) recordTimeout() {
	g.mu.Lock()
	g.metrics.TotalTimeouts++
	g.mu.Unlock()
}
