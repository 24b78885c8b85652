package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/exyconn/platform/internal/logger"
)

// heartbeatInterval is how often the SSE stream emits a keep-alive comment
// so intermediaries do not drop the idle connection.
const heartbeatInterval = 30 * time.Second

// handleJobEvents processes GET /api/v1/jobs/events: a Server-Sent Events
// stream of the tenant's job lifecycle events.
//
// Framing: each event is written as "event: <name>\ndata: <json>\n\n"; a
// ": heartbeat" comment line goes out every 30 seconds. Delivery is
// fire-and-forget: a client that connects after an event fired missed it.
func (a *API) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	orgID := orgFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Tell the client we are live before the first event.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	eventCh, cancel := a.broker.Subscribe(orgID)
	defer cancel()

	log.Info("event stream opened", slog.String("org_id", orgID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("event stream closed", slog.String("org_id", orgID))
			return

		case evt, open := <-eventCh:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, evt.Payload)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
