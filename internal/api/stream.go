package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iacondiego/demo-agente-n8n/internal/correlation"
)

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream is the push-capable alternative to GET polling: the connection
// stays open until the session's result is deposited, then receives it over
// the websocket and closes. Delivery semantics are identical to the polling
// read, including withdraw-on-delivery, so a later poll for the same session
// reports hasResponse=false.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId query parameter is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.activeStreams.Add(1)
	defer s.activeStreams.Add(-1)

	// Bound the wait by the result TTL: past it, a deposit that never came
	// can never be delivered anyway.
	ctx, cancel := context.WithTimeout(r.Context(), correlation.ResultTTL)
	defer cancel()

	// The read pump exists only to notice the peer going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	res, err := s.correlation.Await(ctx, sessionID)
	if err != nil {
		s.logger.Info("stream closed without delivery", "session_id", sessionID, "reason", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "no result"), closeDeadline())
		return
	}
	pendingResults.Set(float64(s.correlation.Pending()))

	if err := conn.WriteJSON(pollDeliveredResponse{
		HasResponse: true,
		Response:    res.Response,
		Success:     res.Success,
		Error:       res.Error,
		Data:        res.Data,
	}); err != nil {
		s.logger.Error("stream write", "session_id", sessionID, "error", err)
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "delivered"), closeDeadline())
}
