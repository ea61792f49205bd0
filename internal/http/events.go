package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"registro/internal/log"
	"registro/internal/pipeline"
)

const keepAliveInterval = 25 * time.Second

// eventPayload is what a stream client receives per update. A failed
// recomputation carries the previous snapshot and an error message.
type eventPayload struct {
	pipeline.Update
	Error string `json:"error,omitempty"`
}

// handleEvents streams pipeline updates as server-sent events. A new
// subscriber gets the latest update immediately; a slow one skips straight
// to the newest.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError("streaming unsupported").Write(w)
		return
	}

	updates, cancel := s.pipeline.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := log.FromContext(r.Context())
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u := <-updates:
			if err := writeEvent(w, u); err != nil {
				logger.DebugContext(r.Context(), "Event stream closed", log.FieldError, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, u pipeline.Update) error {
	payload := eventPayload{Update: u}
	event := "snapshot"
	if u.Err != nil {
		payload.Error = u.Err.Error()
		event = "error"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", u.Generation, event, data)
	return err
}
