package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nostr-signer/go-backend/internal/app"
)

// Bumped when the notification params shape changes.
const notificationVersion = 1

type notificationParams struct {
	Version   int       `json:"version"`
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

type notificationFrame struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) event(evt app.NotificationEvent) error {
	data, err := json.Marshal(notificationFrame{
		JSONRPC: "2.0",
		Method:  evt.Method,
		Params: notificationParams{
			Version:   notificationVersion,
			Seq:       evt.Seq,
			Timestamp: evt.Timestamp,
			Payload:   evt.Payload,
		},
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "id: %d\ndata: %s\n\n", evt.Seq, data)
	return err
}

func (s sseWriter) comment(text string) error {
	_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
	return err
}

// handleRPCStream replays the hub backlog after the client's cursor and then
// follows live notifications until the client leaves.
func (s *Server) handleRPCStream(w http.ResponseWriter, r *http.Request) {
	if !s.preflight(w, r) || !s.authorizeRPC(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.notifications == nil {
		http.Error(w, "notifications are not available", http.StatusServiceUnavailable)
		return
	}
	release, ok := s.streams.acquire(rpcClientKey(r, s.extractRPCToken(r)))
	if !ok {
		http.Error(w, "too many stream subscriptions", http.StatusTooManyRequests)
		return
	}
	defer release()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)
		return
	}
	cursor, err := streamCursor(r)
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	out := sseWriter{w: w, flusher: flusher}

	backlog, live, cancel := s.notifications.Subscribe(cursor)
	defer cancel()
	for _, evt := range backlog {
		if out.event(evt) != nil {
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-live:
			// A closed channel means the hub dropped us for falling behind;
			// the client resumes from Last-Event-ID.
			if !open || out.event(evt) != nil {
				return
			}
		case <-heartbeat.C:
			if out.comment("keepalive") != nil {
				return
			}
		}
		flusher.Flush()
	}
}

// streamCursor reads ?cursor= or the SSE Last-Event-ID header.
func streamCursor(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if raw == "" {
		raw = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errInvalidParams
	}
	return seq, nil
}
