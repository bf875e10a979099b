// Package handler provides the HTTP handlers for the upload API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/api"
	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/service"
)

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a service error to an HTTP status and JSON body.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	var incomplete *domain.IncompleteUploadError
	if errors.As(err, &incomplete) {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Error:    incomplete.Error(),
			Uploaded: incomplete.Uploaded,
			Total:    incomplete.Total,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		// Don't leak internals on 500s.
		writeJSON(w, status, api.ErrorResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidPartNumber),
		errors.Is(err, domain.ErrBatchTooLarge),
		errors.Is(err, domain.ErrNoPartsProvided),
		errors.Is(err, domain.ErrMissingETag):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionCompleted),
		errors.Is(err, domain.ErrSessionFailed),
		errors.Is(err, service.ErrLockUnavailable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
