package api

import (
	"net/http"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/watcher"

	"github.com/gorilla/websocket"
)

// EventsWSHandler streams the same notifications as EventsSSEHandler over a
// websocket, one JSON object per message. Keep-alive uses ping frames.
type EventsWSHandler struct {
	Bus            *event.Bus[watcher.ChangeEvent]
	Base           string
	Logger         *logging.Logger
	AllowedOrigins []string
	PingInterval   time.Duration
}

func (h *EventsWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		logWSError(h.Logger, r, wsError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		writeJSONError(w, &apiError{Status: http.StatusServiceUnavailable, Message: "event stream unavailable"})
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	sub := h.Bus.Subscribe()
	defer sub.Cancel()

	// The client never sends data; reading surfaces its close frame.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultSSEHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	write := func(payload notification) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return false
		}
		return conn.WriteJSON(payload) == nil
	}
	reportMissed := func() bool {
		if missed := sub.Missed(); missed > 0 {
			return write(missedNotification(missed))
		}
		return true
	}

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !reportMissed() {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case change, ok := <-sub.C:
			if !ok {
				closeWebSocket(conn, websocket.CloseGoingAway, "server shutting down")
				return
			}
			if !reportMissed() {
				return
			}
			payload, ok := notificationFor(h.Base, change)
			if !ok {
				continue
			}
			if !write(payload) {
				return
			}
		}
	}
}
