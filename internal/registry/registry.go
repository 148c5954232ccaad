// Package registry tracks the lifecycle state of every calculation known to
// the gateway and enforces the concurrent-calculation admission ceiling.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wellsolve/calcgateway/internal/model"
)

// ErrNotFound is returned when a calculation id is unknown to the registry.
var ErrNotFound = errors.New("calculation not found")

// LimitError is returned by AdmitAndCreate when the admission ceiling is
// reached. It carries the counts the client-facing 429 response reports.
type LimitError struct {
	Current int
	Max     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("concurrent calculation limit exceeded: %d of %d active", e.Current, e.Max)
}

// Registry is an in-memory map from calculation id to its current state.
// A single mutex guards the map; it is held only for the duration of one
// read-modify-write, so operations on different ids never wait on each
// other's backend work.
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*model.Calculation
	active int
	max    int
	logger *slog.Logger
}

// New creates a registry with the given admission ceiling.
func New(maxConcurrent int, logger *slog.Logger) *Registry {
	return &Registry{
		jobs:   make(map[string]*model.Calculation),
		max:    maxConcurrent,
		logger: logger,
	}
}

// AdmitAndCreate atomically checks the admission ceiling and inserts a new
// STARTED record. Two concurrent calls cannot both succeed for the last free
// slot: the count check and the insert happen under one lock.
func (r *Registry) AdmitAndCreate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active >= r.max {
		return "", &LimitError{Current: r.active, Max: r.max}
	}

	id := model.NewID()
	r.jobs[id] = &model.Calculation{
		ID:        id,
		State:     model.StateStarted,
		CreatedAt: time.Now().UTC(),
	}
	r.active++

	return id, nil
}

// Get returns a snapshot of the calculation's current record. The returned
// value is a copy; callers never observe a partially-updated record.
func (r *Registry) Get(id string) (model.Calculation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.jobs[id]
	if !ok {
		return model.Calculation{}, ErrNotFound
	}
	return *c, nil
}

// Exists reports whether the id is known to the registry.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// Transition applies a state change and reports whether it was applied.
// Progress and phase are only updated when non-nil/non-empty, so a
// cancellation racing a progress update cannot blank out the last reported
// values. The first terminal transition wins: writes after a terminal state
// are discarded with a debug log, returning applied=false without error.
func (r *Registry) Transition(id, state string, progress *int, phase string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.jobs[id]
	if !ok {
		return false, ErrNotFound
	}

	if model.Terminal(c.State) {
		r.logger.Debug("transition after terminal state discarded",
			"calculation_id", id, "state", c.State, "requested", state)
		return false, nil
	}

	if !model.ValidTransition(c.State, state) {
		return false, fmt.Errorf("invalid transition %s -> %s for %s", c.State, state, id)
	}

	c.State = state
	if progress != nil {
		c.Progress = progress
	}
	if phase != "" {
		c.Phase = phase
	}
	if model.Terminal(state) {
		now := time.Now().UTC()
		c.CompletedAt = &now
		r.active--
	}

	return true, nil
}

// ActiveCount returns the number of non-terminal calculations.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Len returns the total number of records, terminal included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// SweepTerminal removes terminal records whose completion time is older than
// the cutoff and returns how many were evicted. Active records are never
// touched.
func (r *Registry) SweepTerminal(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, c := range r.jobs {
		if model.Terminal(c.State) && c.CompletedAt != nil && c.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted
}
