// Package hub fans one calculation's progress events out to all of its live
// subscribers (SSE streams and WebSocket pushes).
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wellsolve/calcgateway/internal/model"
)

// subscriberBufferSize is the channel buffer for each subscriber. Events are
// dropped for a subscriber that falls this far behind; the publishing worker
// never blocks on a slow reader.
const subscriberBufferSize = 64

// ErrNotFound is returned by Subscribe for an id whose channel was never opened.
var ErrNotFound = errors.New("no progress channel for calculation")

// Hub manages per-calculation multicast of progress events. It is safe for
// concurrent use.
//
// Completed topics are retained as closed markers so that late subscribers
// (those arriving after the terminal event) receive an immediately-closed
// channel instead of an error or a hang. Markers carry their close time and
// are evicted by Sweep alongside the registry's terminal records.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	logger *slog.Logger
}

type topic struct {
	subs     map[int]chan model.ProgressEvent
	nextID   int
	closed   bool
	closedAt time.Time
	cause    error
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]*topic),
		logger: logger,
	}
}

// Open creates the multicast channel for a calculation. Called once by the
// orchestrator at admission, before the worker starts.
func (h *Hub) Open(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[id]; ok {
		return
	}
	h.topics[id] = &topic{subs: make(map[int]chan model.ProgressEvent)}
}

// Subscribe returns a channel delivering the calculation's events from this
// point onward, plus an unsubscribe function. A completed calculation yields
// an immediately-closed channel (an empty stream). An id that was never
// opened yields ErrNotFound.
func (h *Hub) Subscribe(id string) (<-chan model.ProgressEvent, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok {
		return nil, nil, ErrNotFound
	}

	ch := make(chan model.ProgressEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}, nil
	}

	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(t.subs, subID)
	}, nil
}

// Publish delivers an event to every current subscriber of the calculation.
// Publishing to an unknown or completed calculation is a silent no-op, so a
// worker racing a cancellation cannot reopen a retired channel. Events are
// dropped for subscribers whose buffers are full.
func (h *Hub) Publish(id string, ev model.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			droppedEvents.Inc()
			h.logger.Warn("dropped progress event for slow subscriber",
				"calculation_id", id, "event_type", ev.EventType())
		}
	}
}

// CompleteNormally closes the calculation's channel after a successful or
// cancelled run. Exactly-once: later completions are no-ops.
func (h *Hub) CompleteNormally(id string) {
	h.complete(id, nil)
}

// CompleteWithError closes the calculation's channel recording the failure
// cause, retrievable via Err until the marker is swept.
func (h *Hub) CompleteWithError(id string, cause error) {
	h.complete(id, cause)
}

func (h *Hub) complete(id string, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok {
		// Closed marker so late subscribers see an empty stream.
		h.topics[id] = &topic{
			subs:     make(map[int]chan model.ProgressEvent),
			closed:   true,
			closedAt: time.Now().UTC(),
			cause:    cause,
		}
		return
	}
	if t.closed {
		return
	}

	t.closed = true
	t.closedAt = time.Now().UTC()
	t.cause = cause
	for subID, ch := range t.subs {
		close(ch)
		delete(t.subs, subID)
	}
}

// Err returns the failure cause recorded at completion, or nil for a normal
// completion or a still-open channel.
func (h *Hub) Err(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok {
		return nil
	}
	return t.cause
}

// Sweep removes closed markers older than the cutoff and returns how many
// were evicted. Open topics are never touched.
func (h *Hub) Sweep(cutoff time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted := 0
	for id, t := range h.topics {
		if t.closed && t.closedAt.Before(cutoff) {
			delete(h.topics, id)
			evicted++
		}
	}
	return evicted
}
