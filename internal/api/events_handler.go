package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const keepAliveInterval = 15 * time.Second

// handleEvents streams control events as server-sent events. ?type= limits
// the stream to one event type; Last-Event-ID resumes after a reconnect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	after := parseLastEventID(r.Header.Get("Last-Event-ID"))
	replay, live, cancel := s.events.Subscribe(r.URL.Query().Get("type"), after)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range replay {
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			err = writeSSE(w, ev)
		case <-ticker.C:
			_, err = io.WriteString(w, ": keep-alive\n\n")
		}
		if err != nil {
			s.logger.Debug("event stream closed", "error", err)
			return
		}
		flusher.Flush()
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one event frame. Data is single-line JSON.
func writeSSE(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
