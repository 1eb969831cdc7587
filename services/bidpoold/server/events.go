package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"coharvest/core/events"
)

const wsWriteTimeout = 10 * time.Second

type eventMessage struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// handleEvents streams committed engine events. The optional types query
// parameter is a comma separated list of event types to forward.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeProblem(w, http.StatusServiceUnavailable, "unavailable", "event stream not configured")
		return
	}
	filter := map[string]struct{}{}
	for _, t := range strings.Split(r.URL.Query().Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Reading is only needed to observe the client closing the socket.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter map[string]struct{}) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if len(filter) > 0 {
				if _, want := filter[evt.EventType()]; !want {
					continue
				}
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	rendered := events.Render(evt)
	data, err := json.Marshal(eventMessage{Type: rendered.Type, Attributes: rendered.Attributes})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
