package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wellsolve/calcgateway/internal/engine"
	"github.com/wellsolve/calcgateway/internal/model"
	"github.com/wellsolve/calcgateway/internal/registry"
)

const wsWriteWait = 10 * time.Second

// The gateway already applies CORS at the router; the upgrader mirrors that
// open policy rather than re-checking origins.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamEndMessage is the final frame pushed before the WebSocket closes.
type streamEndMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Resolve the subscription before upgrading so unknown ids still get a
	// proper 404 JSON body instead of a failed handshake.
	sub, err := s.engine.StreamProgress(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeNotFound(w, id)
		return
	}
	if err != nil {
		s.logger.Error("subscribe for websocket", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to subscribe", "")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		sub.Cancel()
		s.logger.Debug("websocket upgrade failed", "calculation_id", id, "error", err)
		return
	}
	defer conn.Close()
	defer sub.Cancel()

	// Read pump: clients send nothing meaningful, but reading is required to
	// process close frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				s.finishWS(conn, sub)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return // Client closed the connection.
		case <-r.Context().Done():
			return
		}
	}
}

// finishWS pushes the terminating frame and a normal close message.
func (s *Server) finishWS(conn *websocket.Conn, sub *engine.Subscription) {
	end := streamEndMessage{Type: "done"}
	if errors.Is(sub.Err(), engine.ErrIdleTimeout) {
		end = streamEndMessage{Type: "timeout", Reason: "no progress received within the idle window"}
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteJSON(end)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
