package api

import (
	"net/http"
	"strconv"
	"strings"

	"audiobrowser/internal/library"
	"audiobrowser/internal/logging"
)

type RestHandler struct {
	Library *library.Library
	Logger  *logging.Logger
}

// handleList serves GET /list?path=&push_history=. With push_history set the
// response carries an HX-Push-Url header so the browser history follows the
// listing that was actually served.
func (h *RestHandler) handleList(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Library == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "library unavailable"}
	}
	query := r.URL.Query()

	pushHistory := false
	if raw := strings.TrimSpace(query.Get("push_history")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid push_history value"}
		}
		pushHistory = parsed
	}

	listing, err := h.Library.List(r.Context(), query.Get("path"))
	if err != nil {
		return libraryError(err)
	}

	if pushHistory {
		w.Header().Set("HX-Push-Url", pushURL(listing.RelativePath))
	}
	writeJSON(w, http.StatusOK, listing)
	return nil
}

// handleToggle serves PUT /toggle-status with form fields path and heard.
// Without heard the stored flag is flipped.
func (h *RestHandler) handleToggle(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Library == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "library unavailable"}
	}
	if err := r.ParseForm(); err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid form body"}
	}
	if !r.PostForm.Has("path") {
		return &apiError{Status: http.StatusBadRequest, Message: "missing path"}
	}
	path := r.PostForm.Get("path")

	var heard *bool
	if raw := strings.TrimSpace(r.PostForm.Get("heard")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid heard value"}
		}
		heard = &parsed
	}

	entry, err := h.Library.SetHeard(r.Context(), path, heard)
	if err != nil {
		return libraryError(err)
	}
	writeJSON(w, http.StatusOK, entry)
	return nil
}

// pushURL is the history URL for a listing. The base directory maps to an
// empty path so the address bar stays clean at the root.
func pushURL(relative string) string {
	if relative == "." {
		relative = ""
	}
	return "?path=" + relative
}
