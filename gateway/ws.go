package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"stakestream/core/events"
	"stakestream/core/types"
)

const wsWriteTimeout = 10 * time.Second

type eventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type eventCarrier interface {
	Event() *types.Event
}

// handleEvents upgrades the connection and streams pool, vesting and token
// events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	payload := eventPayload{Type: evt.EventType()}
	if carrier, ok := evt.(eventCarrier); ok {
		if inner := carrier.Event(); inner != nil {
			payload.Attributes = inner.Attributes
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
