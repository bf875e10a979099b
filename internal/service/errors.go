// Package service provides business logic services for Meridian Upload.
package service

import (
	"errors"
	"fmt"

	"github.com/prn-tf/meridian/internal/domain"
)

// Common service errors.
var (
	// ErrInternalError wraps unexpected repository or backend failures so
	// handlers map them to a 500 without leaking internals.
	ErrInternalError = errors.New("internal server error")

	// ErrLockUnavailable indicates the per-session lock could not be
	// acquired within the retry budget.
	ErrLockUnavailable = errors.New("session is busy, try again")
)

// backendError wraps a gateway failure as ErrBackendUnavailable. Sentinels
// the gateway already classified, like ErrPermissionDenied, pass through
// unchanged; the %v wrap would otherwise erase them.
func backendError(err error) error {
	if errors.Is(err, domain.ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
}
