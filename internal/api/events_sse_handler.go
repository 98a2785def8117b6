package api

import (
	"net/http"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/watcher"
)

// EventsSSEHandler streams file change notifications as server-sent events:
// "fileUpdated" carries the changed path relative to Base, "watcher_error"
// carries a diagnostic.
type EventsSSEHandler struct {
	Bus               *event.Bus[watcher.ChangeEvent]
	Base              string
	Logger            *logging.Logger
	HeartbeatInterval time.Duration
}

func (h *EventsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusServiceUnavailable,
			Message: "event stream unavailable",
		})
		return
	}

	writer, err := startSSEWriter(w)
	if err != nil {
		writeSSEHTTPError(w, r, h.Logger, sseError{
			Status:  http.StatusInternalServerError,
			Message: "event stream unavailable",
			Err:     err,
		})
		return
	}

	sub := h.Bus.Subscribe()
	defer sub.Cancel()

	runSSEStream(r, writer, sseStreamConfig[watcher.ChangeEvent]{
		Output: sub.C,
		Missed: sub.Missed,
		BuildPayload: func(change watcher.ChangeEvent) (notification, bool) {
			return notificationFor(h.Base, change)
		},
		HeartbeatInterval: h.HeartbeatInterval,
	})
}
