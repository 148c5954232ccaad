// Package resilience wraps the solver client with a circuit breaker, bounded
// retry and an unavailability fallback. Breaker and retry state belong to the
// backend endpoint, not to individual calculations: one failing solver trips
// the circuit for every job.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/wellsolve/calcgateway/internal/backend"
	"github.com/wellsolve/calcgateway/internal/model"
)

// ErrBackendUnavailable is returned when the circuit is open or all retries
// are exhausted. The terminal SERVICE_UNAVAILABLE event has already been
// delivered to onEvent by the time Calculate returns it.
var ErrBackendUnavailable = errors.New("solver backend unavailable")

const breakerName = "solver"

// Config tunes the breaker and the retry policy.
type Config struct {
	// FailureRatio trips the circuit once at least MinRequests calls were
	// observed in the current Interval and this fraction of them failed.
	FailureRatio float64
	MinRequests  int
	Interval     time.Duration
	// Cooldown is how long the circuit stays open before allowing
	// HalfOpenMax probe calls through.
	Cooldown    time.Duration
	HalfOpenMax int

	// MaxAttempts bounds calls per calculation; attempts after the first wait
	// according to the exponential backoff below.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Proxy is a backend.Client decorator adding resilience around the solver.
type Proxy struct {
	client backend.Client
	cb     *gobreaker.CircuitBreaker
	cfg    Config
	logger *slog.Logger
}

// NewProxy creates a resilience proxy around client.
func NewProxy(client backend.Client, cfg Config, logger *slog.Logger) *Proxy {
	p := &Proxy{client: client, cfg: cfg, logger: logger}

	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: uint32(cfg.HalfOpenMax),
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// Cancellation and timeout say nothing about solver health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			setBreakerState(to)
		},
	})

	return p
}

// State returns the breaker's current state.
func (p *Proxy) State() gobreaker.State {
	return p.cb.State()
}

// Calculate invokes the solver, streaming every received event through to
// onEvent. Transport failures before any event arrived are retried with
// backoff; a failure after streaming began is surfaced as-is, since retrying
// would duplicate partial progress. When the circuit is open or retries run
// out, a terminal SERVICE_UNAVAILABLE event is synthesized and
// ErrBackendUnavailable returned.
func (p *Proxy) Calculate(ctx context.Context, calculationID string, req model.CalculationRequest, onEvent func(model.ProgressEvent)) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxInterval = p.cfg.MaxInterval
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		started := false
		_, err := p.cb.Execute(func() (any, error) {
			return nil, p.client.Calculate(ctx, calculationID, req, func(ev model.ProgressEvent) {
				started = true
				onEvent(ev)
			})
		})
		if err == nil {
			return nil
		}

		// The caller's timeout or cancellation ends the invocation; the
		// worker classifies it, no fallback here.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			p.logger.Warn("circuit open, failing fast without solver contact",
				"calculation_id", calculationID)
			p.fallback(calculationID, onEvent)
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		if started {
			p.logger.Error("solver stream failed mid-calculation",
				"calculation_id", calculationID, "error", err)
			return err
		}

		lastErr = err
		p.logger.Warn("solver call failed before streaming",
			"calculation_id", calculationID, "attempt", attempt, "error", err)
	}

	p.fallback(calculationID, onEvent)
	return fmt.Errorf("%w after %d attempts: %v", ErrBackendUnavailable, p.cfg.MaxAttempts, lastErr)
}

// fallback synthesizes the terminal event streaming clients see when the
// backend cannot be reached.
func (p *Proxy) fallback(calculationID string, onEvent func(model.ProgressEvent)) {
	fallbacksTotal.Inc()
	onEvent(model.NewError(
		calculationID,
		model.CodeServiceUnavailable,
		"Calculation service is temporarily unavailable",
		"The service is experiencing issues. Please try again in a few moments.",
	))
}
