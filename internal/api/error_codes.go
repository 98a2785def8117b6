package api

import (
	"context"
	"errors"
	"net/http"

	"audiobrowser/internal/attr"
	"audiobrowser/internal/library"
	"audiobrowser/internal/sandbox"
)

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}

// libraryError maps library and sandbox failures to the response the client
// sees. Messages are shown to users as-is.
func libraryError(err error) *apiError {
	switch {
	case errors.Is(err, library.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "Path does not exist", Code: "not_found"}
	case errors.Is(err, library.ErrNotADirectory):
		return &apiError{Status: http.StatusBadRequest, Message: "Provided path is not a directory", Code: "not_a_directory"}
	case errors.Is(err, sandbox.ErrInvalidPath):
		return &apiError{Status: http.StatusBadRequest, Message: "Invalid path", Code: "invalid_path"}
	case errors.Is(err, library.ErrNotAFile):
		return &apiError{Status: http.StatusBadRequest, Message: "Provided path is not a file", Code: "not_a_file"}
	case errors.Is(err, attr.ErrStore):
		return &apiError{Status: http.StatusInternalServerError, Message: "Unable to store heard flag", Code: "attribute_store"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &apiError{Status: http.StatusServiceUnavailable, Message: "request cancelled"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
