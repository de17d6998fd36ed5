package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"creditnet/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
)

// handleEventStream upgrades the connection and streams journal envelopes:
// the persisted backlog from the requested sequence first, then live appends
// until either side closes.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.journal == nil {
		http.Error(w, "event journal unavailable", http.StatusServiceUnavailable)
		return
	}
	from := uint64(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from parameter", http.StatusBadRequest)
			return
		}
		from = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, from); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, from uint64) error {
	envelopes := s.journal.Subscribe(ctx, from)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-envelopes:
			if !ok {
				return nil
			}
			if err := writeEnvelope(ctx, conn, envelope); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env journal.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
