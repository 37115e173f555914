package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/agentbeats/gaiaboard/internal/events"
)

// Interval between SSE comment lines that keep idle connections open
// through proxies.
const sseKeepAliveInterval = 15 * time.Second

// handleEvents streams the submission lifecycle over GET /api/v1/events as
// server-sent events. Watch TUIs and dashboards hang off this endpoint.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// A reconnecting client sends Last-Event-ID; replay what it missed
	// from the hub's ring buffer before switching to live events.
	cursor := resumeCursor(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.hub.SnapshotSince(cursor) {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resumeCursor parses a Last-Event-ID header; anything unparseable means
// replay from the start of the buffer.
func resumeCursor(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeEvent frames one hub event as an SSE message. The id line carries
// the hub sequence number so clients can resume.
func writeEvent(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON, so one data line suffices.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
