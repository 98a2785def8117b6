package api

import (
	"net/http"
	"strconv"
	"strings"

	"audiobrowser/internal/logging"
)

const defaultLogLimit = 100

type logQuery struct {
	Limit int
	Level logging.Level
}

// handleLogs serves GET /api/logs?limit=&level= from the in-memory log
// buffer, oldest entry first.
func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	buffer := h.Logger.Buffer()
	if buffer == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}
	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, buffer.Recent(query.Limit, query.Level))
	return nil
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: defaultLogLimit,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}
