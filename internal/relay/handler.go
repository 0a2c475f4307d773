package relay

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("relay: streaming not supported")

const keepAliveInterval = 15 * time.Second

// StartSSE writes the event-stream headers and returns the flusher to use.
func StartSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, nil
}

// WriteEvent writes one SSE frame.
func WriteEvent(w http.ResponseWriter, f http.Flusher, evt Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, evt.Payload); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// Pump copies events from ch to the client until the request ends or ch is
// closed. Comment lines keep idle connections open through proxies.
func Pump(w http.ResponseWriter, r *http.Request, f http.Flusher, ch <-chan Event) error {
	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if err := WriteEvent(w, f, evt); err != nil {
				return err
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			f.Flush()
		}
	}
}
