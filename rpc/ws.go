package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"lendora/core/events"
	"lendora/core/types"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS upgrades the connection and streams pool events: the ring's
// retained backlog first, then live events until the client disconnects.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.ring == nil {
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
	updates, cancel, backlog := s.ring.Subscribe()
	defer cancel()

	for _, evt := range backlog {
		if err := writePoolEvent(ctx, conn, evt); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writePoolEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writePoolEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return nil
	}
	data, err := json.Marshal(carrier.Event())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
