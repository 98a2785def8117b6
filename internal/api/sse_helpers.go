package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"audiobrowser/internal/logging"
)

const (
	defaultSSEHeartbeatInterval = 15 * time.Second
	defaultSSERetryInterval     = 5 * time.Second
)

var errSSENoFlusher = errors.New("sse response writer does not support flushing")

type sseStreamConfig[T any] struct {
	Output <-chan T
	// Missed reports events dropped for this client since the last call.
	Missed            func() uint64
	BuildPayload      func(T) (notification, bool)
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration
}

type sseError struct {
	Status  int
	Message string
	Err     error
}

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// runSSEStream writes notifications until the client goes away or Output is
// closed. A heartbeat comment goes out whenever the interval passes.
func runSSEStream[T any](r *http.Request, writer *sseWriter, config sseStreamConfig[T]) {
	if writer == nil || config.Output == nil || config.BuildPayload == nil {
		return
	}

	retryInterval := config.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultSSERetryInterval
	}
	if err := writer.WriteRetry(retryInterval); err != nil {
		return
	}

	heartbeatInterval := config.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultSSEHeartbeatInterval
	}
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	reportMissed := func() error {
		if config.Missed == nil {
			return nil
		}
		missed := config.Missed()
		if missed == 0 {
			return nil
		}
		lagged := missedNotification(missed)
		return writer.WriteEvent(lagged.Type, lagged.data())
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeatTicker.C:
			if err := reportMissed(); err != nil {
				return
			}
			if err := writer.WriteComment("ping"); err != nil {
				return
			}
		case value, ok := <-config.Output:
			if !ok {
				return
			}
			if err := reportMissed(); err != nil {
				return
			}
			payload, ok := config.BuildPayload(value)
			if !ok {
				continue
			}
			if err := writer.WriteEvent(payload.Type, payload.data()); err != nil {
				return
			}
		}
	}
}

func startSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errSSENoFlusher
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", cacheControlNoCache)
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{writer: w, flusher: flusher}, nil
}

func (writer *sseWriter) WriteRetry(retry time.Duration) error {
	if retry <= 0 {
		return nil
	}
	line := "retry: " + strconv.FormatInt(retry.Milliseconds(), 10) + "\n\n"
	if _, err := io.WriteString(writer.writer, line); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

func (writer *sseWriter) WriteComment(comment string) error {
	if _, err := io.WriteString(writer.writer, ": "+strings.TrimSpace(comment)+"\n\n"); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

// WriteEvent writes one named event. Multi-line data is split across data
// fields so the client reassembles it unchanged.
func (writer *sseWriter) WriteEvent(eventName, data string) error {
	var builder strings.Builder
	if eventName != "" {
		builder.WriteString("event: ")
		builder.WriteString(eventName)
		builder.WriteString("\n")
	}
	for _, line := range strings.Split(data, "\n") {
		builder.WriteString("data: ")
		builder.WriteString(strings.TrimSuffix(line, "\r"))
		builder.WriteString("\n")
	}
	builder.WriteString("\n")

	if _, err := io.WriteString(writer.writer, builder.String()); err != nil {
		return err
	}
	writer.flusher.Flush()
	return nil
}

func writeSSEHTTPError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, sseErr sseError) {
	status := sseErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	reason := strings.TrimSpace(sseErr.Message)
	if reason == "" {
		reason = http.StatusText(status)
	}

	logSSEError(logger, r, sseError{
		Status:  status,
		Message: reason,
		Err:     sseErr.Err,
	})
	writeJSONError(w, &apiError{Status: status, Message: reason})
}

func logSSEError(logger *logging.Logger, r *http.Request, sseErr sseError) {
	if logger == nil || r == nil {
		return
	}

	fields := map[string]string{
		"path":    r.URL.Path,
		"status":  strconv.Itoa(sseErr.Status),
		"message": sseErr.Message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if userAgent := strings.TrimSpace(r.UserAgent()); userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if sseErr.Err != nil {
		fields["error"] = sseErr.Err.Error()
	}

	if sseErr.Status >= http.StatusInternalServerError {
		logger.Error("sse error", fields)
	} else {
		logger.Warn("sse error", fields)
	}
}
