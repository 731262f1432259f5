package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ziplift/ziplift/internal/logger"
	"github.com/ziplift/ziplift/pkg/upload/models"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// writeUploadError maps the upload domain errors onto problem responses.
func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrChunkNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrSessionNotAccepting),
		errors.Is(err, models.ErrTerminalStatus):
		Conflict(w, err.Error())
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrChunkOutOfRange),
		errors.Is(err, models.ErrChunkSizeMismatch),
		errors.Is(err, models.ErrNotCompleted),
		errors.Is(err, models.ErrIntegrity):
		BadRequest(w, err.Error())
	default:
		logger.Error("request failed", logger.Err(err))
		InternalServerError(w, "internal error")
	}
}
