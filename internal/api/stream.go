package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wellsolve/calcgateway/internal/engine"
	"github.com/wellsolve/calcgateway/internal/model"
	"github.com/wellsolve/calcgateway/internal/registry"
)

func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.engine.GetStatus(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeNotFound(w, id)
		return
	}
	if err != nil {
		s.logger.Error("get calculation for progress stream", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to get calculation", "")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// If already in a terminal state, return empty stream immediately.
	if model.Terminal(c.State) {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Safe even if the calculation terminated between the status check above
	// and this call: subscribing to a terminal calculation yields an
	// already-closed stream, so the loop below exits immediately.
	sub, err := s.engine.StreamProgress(id)
	if err != nil {
		s.writeNotFound(w, id)
		return
	}
	defer sub.Cancel()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				s.finishSSE(w, sub)
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEEvent(w, ev.EventType(), ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// finishSSE emits the closing event for a completed stream: "timeout" when the
// idle window elapsed, "done" otherwise.
func (s *Server) finishSSE(w http.ResponseWriter, sub *engine.Subscription) {
	if errors.Is(sub.Err(), engine.ErrIdleTimeout) {
		_ = writeSSERaw(w, "timeout", "no progress received within the idle window")
		return
	}
	_ = writeSSERaw(w, "done", "stream complete")
}

// writeSSEEvent writes a named SSE event with a JSON payload.
func writeSSEEvent(w http.ResponseWriter, eventType string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeSSERaw(w, eventType, string(data))
}

// writeSSERaw writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSERaw(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
