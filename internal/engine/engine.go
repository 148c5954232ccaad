package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wellsolve/calcgateway/internal/backend"
	"github.com/wellsolve/calcgateway/internal/hub"
	"github.com/wellsolve/calcgateway/internal/model"
	"github.com/wellsolve/calcgateway/internal/registry"
)

// Options bound each calculation and the retention of finished ones.
type Options struct {
	// CalcTimeout bounds a calculation end to end; exceeding it finalizes the
	// job as FAILED with a CALCULATION_TIMEOUT event.
	CalcTimeout time.Duration
	// IdleTimeout terminates a progress subscription that has not received an
	// event for this long.
	IdleTimeout time.Duration
	// CompletedTTL is how long terminal records stay queryable before the
	// sweeper evicts them; SweepInterval is how often the sweeper runs.
	CompletedTTL  time.Duration
	SweepInterval time.Duration
}

// Engine orchestrates the lifecycle of every calculation: admission, one
// worker goroutine per job, progress fan-out, cancellation and timeout.
type Engine struct {
	registry *registry.Registry
	hub      *hub.Hub
	client   backend.Client
	opts     Options
	logger   *slog.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	stopOnce sync.Once
	stop     chan struct{}
}

// NewEngine creates the orchestrator. Call StartSweeper to enable eviction of
// expired terminal records and Shutdown to drain workers on exit.
func NewEngine(reg *registry.Registry, h *hub.Hub, client backend.Client, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		registry: reg,
		hub:      h,
		client:   client,
		opts:     opts,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
		stop:     make(chan struct{}),
	}
}

// CreateJob admits a calculation and launches its worker goroutine. It
// returns as soon as the registry record and hub channel exist, before any
// backend interaction. A *registry.LimitError is returned when the admission
// ceiling is reached.
func (e *Engine) CreateJob(req model.CalculationRequest) (string, error) {
	id, err := e.registry.AdmitAndCreate()
	if err != nil {
		return "", err
	}

	e.hub.Open(id)
	jobsActive.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.CalcTimeout)
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(ctx, id, req)
	}()

	e.logger.Info("calculation started", "calculation_id", id, "equations", len(req.Equations))
	return id, nil
}

// run drives one calculation through the resilience proxy and finalizes it
// exactly once on every exit path.
func (e *Engine) run(ctx context.Context, id string, req model.CalculationRequest) {
	defer func() {
		e.mu.Lock()
		if cancel, ok := e.cancels[id]; ok {
			cancel()
			delete(e.cancels, id)
		}
		e.mu.Unlock()
		jobsActive.Dec()
	}()

	// The terminal Result/Error event is withheld from the hub until the
	// registry transition is applied, so a racing cancellation cannot leave
	// subscribers with two terminal events.
	var terminal model.ProgressEvent

	err := e.client.Calculate(ctx, id, req, func(ev model.ProgressEvent) {
		switch ev := ev.(type) {
		case model.Progress:
			pct := ev.Percentage
			e.hub.Publish(id, ev)
			if _, err := e.registry.Transition(id, model.StateCalculating, &pct, ev.Phase); err != nil {
				e.logger.Error("progress transition failed", "calculation_id", id, "error", err)
			}
		case model.Result, model.Error:
			terminal = ev
		}
	})

	e.finalize(id, terminal, err)
}

// finalize applies the terminal state and emits the terminal event exactly
// once. If another path (cancellation) already terminated the job, the
// worker's outcome is discarded.
func (e *Engine) finalize(id string, terminal model.ProgressEvent, callErr error) {
	switch ev := terminal.(type) {
	case model.Result:
		pct := 100
		applied, err := e.registry.Transition(id, model.StateCompleted, &pct, "COMPLETED")
		if err != nil {
			e.logger.Error("completion transition failed", "calculation_id", id, "error", err)
			return
		}
		if !applied {
			return
		}
		e.hub.Publish(id, ev)
		e.hub.CompleteNormally(id)
		jobsTotal.WithLabelValues(outcomeCompleted).Inc()
		e.logger.Info("calculation completed", "calculation_id", id)
		return

	case model.Error:
		e.failWith(id, ev, callErr)
		return
	}

	// No terminal event was streamed; classify the call error.
	switch {
	case callErr == nil:
		// Stream ended without a terminal frame. Protocol violation on the
		// solver side; never leak internals to clients.
		e.logger.Error("solver stream ended without terminal event", "calculation_id", id)
		e.failWith(id, model.NewError(id, model.CodeCalculationFailed,
			"Calculation failed unexpectedly",
			"Check input parameters and try again"), nil)

	case errors.Is(callErr, context.Canceled):
		// Cancel already finalized the job; nothing left to do.
		e.logger.Debug("worker stopped by cancellation", "calculation_id", id)

	case errors.Is(callErr, context.DeadlineExceeded):
		e.failWith(id, model.NewError(id, model.CodeCalculationTimeout,
			fmt.Sprintf("Calculation exceeded the %s limit", e.opts.CalcTimeout),
			"Reduce the problem size or raise the calculation timeout"), callErr)

	default:
		e.logger.Error("calculation failed", "calculation_id", id, "error", callErr)
		e.failWith(id, model.NewError(id, model.CodeCalculationFailed,
			"Calculation failed unexpectedly",
			"Check input parameters and try again"), callErr)
	}
}

// failWith marks the job FAILED and emits ev as its terminal event, if no
// other terminal transition won first.
func (e *Engine) failWith(id string, ev model.Error, cause error) {
	applied, err := e.registry.Transition(id, model.StateFailed, nil, "FAILED")
	if err != nil {
		e.logger.Error("failure transition failed", "calculation_id", id, "error", err)
		return
	}
	if !applied {
		return
	}
	if cause == nil {
		cause = errors.New(ev.ErrorCode)
	}
	e.hub.Publish(id, ev)
	e.hub.CompleteWithError(id, cause)
	jobsTotal.WithLabelValues(outcomeFailed).Inc()
	e.logger.Info("calculation failed", "calculation_id", id, "error_code", ev.ErrorCode)
}

// GetStatus returns a snapshot of the calculation's registry record.
func (e *Engine) GetStatus(id string) (model.Calculation, error) {
	return e.registry.Get(id)
}

// ActiveCount returns the number of currently active calculations.
func (e *Engine) ActiveCount() int {
	return e.registry.ActiveCount()
}

// Cancel transitions a calculation to CANCELLED. Cancelling an unknown id is
// an error; cancelling a terminal calculation is an idempotent no-op. The
// worker's context is cancelled, which closes the solver connection; the
// solver may keep computing server-side, and any late events are discarded.
func (e *Engine) Cancel(id string) error {
	rec, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if model.Terminal(rec.State) {
		e.logger.Debug("cancel ignored, calculation already terminal",
			"calculation_id", id, "state", rec.State)
		return nil
	}

	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	applied, err := e.registry.Transition(id, model.StateCancelled, nil, "CANCELLED")
	if err != nil {
		return err
	}
	if !applied {
		// The worker finalized between our check and the transition.
		return nil
	}

	e.hub.Publish(id, model.NewError(id, model.CodeCalculationCancelled,
		"Calculation was cancelled by user", ""))
	e.hub.CompleteNormally(id)
	jobsTotal.WithLabelValues(outcomeCancelled).Inc()
	e.logger.Info("calculation cancelled", "calculation_id", id)
	return nil
}

// StartSweeper launches the background eviction of expired terminal records
// and their hub markers. Stopped by Shutdown.
func (e *Engine) StartSweeper() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-e.opts.CompletedTTL)
				records := e.registry.SweepTerminal(cutoff)
				markers := e.hub.Sweep(cutoff)
				if records > 0 || markers > 0 {
					e.logger.Debug("swept expired calculations",
						"records", records, "hub_markers", markers)
				}
			}
		}
	}()
}

// Shutdown stops the sweeper and blocks until all in-flight workers complete.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}
