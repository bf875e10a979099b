// Package domain contains the core business entities for Meridian Upload.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Validation Errors
	// ===========================================

	// ErrValidation indicates the client supplied invalid input.
	// The specific validation errors below all unwrap to it.
	ErrValidation = errors.New("validation failed")

	// ErrFilenameEmpty indicates no filename was supplied.
	ErrFilenameEmpty = fmt.Errorf("%w: filename must not be empty", ErrValidation)

	// ErrContentTypeEmpty indicates no content type was supplied.
	ErrContentTypeEmpty = fmt.Errorf("%w: content type must not be empty", ErrValidation)

	// ErrFileSizeInvalid indicates the file size is zero or negative.
	ErrFileSizeInvalid = fmt.Errorf("%w: file size must be greater than zero", ErrValidation)

	// ErrFileTooLarge indicates the file size exceeds the configured maximum.
	ErrFileTooLarge = fmt.Errorf("%w: file size exceeds maximum", ErrValidation)

	// ErrInvalidMode indicates the upload mode is not "direct" or "server".
	ErrInvalidMode = fmt.Errorf("%w: upload mode must be 'direct' or 'server'", ErrValidation)

	// ===========================================
	// Session Errors
	// ===========================================

	// ErrSessionNotFound indicates the upload session does not exist or expired.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionAlreadyExists indicates a session with the same ID exists.
	ErrSessionAlreadyExists = errors.New("upload session already exists")

	// ErrSessionCompleted indicates the session has already been finalized.
	ErrSessionCompleted = errors.New("upload session is already completed")

	// ErrSessionFailed indicates the session has been marked failed.
	ErrSessionFailed = errors.New("upload session has failed")

	// ErrInvalidTransition indicates a status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ===========================================
	// Part Errors
	// ===========================================

	// ErrInvalidPartNumber indicates the part number is outside [1, totalParts].
	ErrInvalidPartNumber = errors.New("part number out of range")

	// ErrBatchTooLarge indicates a presign batch exceeds the allowed size.
	ErrBatchTooLarge = errors.New("presign batch too large")

	// ErrNoPartsProvided indicates no parts were supplied.
	ErrNoPartsProvided = errors.New("no parts provided")

	// ErrIncompleteUpload indicates not all parts have been recorded yet.
	// Recoverable: the client may upload the missing parts and complete again.
	ErrIncompleteUpload = errors.New("upload is incomplete")

	// ErrMissingETag indicates a reported part carries no ETag.
	ErrMissingETag = errors.New("part is missing an ETag")

	// ===========================================
	// Backend Errors
	// ===========================================

	// ErrBackendUnavailable indicates the object store could not be reached.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrPermissionDenied indicates the storage credentials or bucket are
	// misconfigured. Fatal, never retried.
	ErrPermissionDenied = errors.New("storage backend permission denied")
)

// IncompleteUploadError reports how many parts are still missing when a
// completion attempt is rejected. Unwraps to ErrIncompleteUpload.
type IncompleteUploadError struct {
	Uploaded int
	Total    int
}

// Error implements the error interface.
func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("upload is incomplete: %d of %d parts recorded", e.Uploaded, e.Total)
}

// Unwrap returns ErrIncompleteUpload for errors.Is.
func (e *IncompleteUploadError) Unwrap() error {
	return ErrIncompleteUpload
}
