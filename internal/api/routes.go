package api

import (
	"net/http"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/library"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
	"audiobrowser/internal/version"
	"audiobrowser/internal/watcher"

	"github.com/julienschmidt/httprouter"
)

type Options struct {
	Library  *library.Library
	Bus      *event.Bus[watcher.ChangeEvent]
	Logger   *logging.Logger
	Registry *metrics.Registry
	// Watcher, when set, has its counters reported by /healthz.
	Watcher *watcher.Watcher
	// Heartbeat is the keep-alive interval for live-update streams.
	Heartbeat      time.Duration
	AllowedOrigins []string
}

// NewHandler builds the HTTP surface of the server.
func NewHandler(options Options) http.Handler {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With(map[string]string{"audiobrowser.category": "api"})
	registry := options.Registry
	if registry == nil {
		registry = metrics.Default
	}
	base := ""
	if options.Library != nil {
		base = options.Library.Base()
	}

	rest := &RestHandler{
		Library: options.Library,
		Logger:  logger,
	}
	sse := &EventsSSEHandler{
		Bus:               options.Bus,
		Base:              base,
		Logger:            logger,
		HeartbeatInterval: options.Heartbeat,
	}
	ws := &EventsWSHandler{
		Bus:            options.Bus,
		Base:           base,
		Logger:         logger,
		AllowedOrigins: options.AllowedOrigins,
		PingInterval:   options.Heartbeat,
	}

	router := httprouter.New()
	handle := func(method, route string, handler http.Handler) {
		router.Handler(method, route, loggingMiddleware(logger, registry, route, handler))
	}

	handle(http.MethodGet, "/list", restHandler(logger, rest.handleList))
	handle(http.MethodPut, "/toggle-status", restHandler(logger, rest.handleToggle))
	handle(http.MethodGet, "/events", sse)
	handle(http.MethodGet, "/ws/events", ws)
	handle(http.MethodGet, "/api/logs", restHandler(logger, rest.handleLogs))
	health := &healthHandler{Watcher: options.Watcher}
	handle(http.MethodGet, "/healthz", restHandler(logger, health.handle))
	router.Handler(http.MethodGet, "/metrics", registry.Handler())

	router.NotFound = restHandler(logger, func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	})
	router.MethodNotAllowed = restHandler(logger, func(w http.ResponseWriter, r *http.Request) *apiError {
		return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
	})
	return router
}

type healthResponse struct {
	Status  string           `json:"status"`
	Version string           `json:"version"`
	Watcher *watcher.Metrics `json:"watcher,omitempty"`
}

type healthHandler struct {
	Watcher *watcher.Watcher
}

func (h *healthHandler) handle(w http.ResponseWriter, r *http.Request) *apiError {
	response := healthResponse{
		Status:  "ok",
		Version: version.Get().Version,
	}
	if h.Watcher != nil {
		stats := h.Watcher.Metrics()
		response.Watcher = &stats
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}
