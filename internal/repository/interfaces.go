// Package repository defines data access interfaces for Meridian Upload.
// These interfaces abstract session persistence, allowing different backends
// (Redis, SQLite, PostgreSQL, in-memory for testing) while keeping the
// service layer clean. Large uploads span minutes to hours and a follow-up
// request may hit a different instance, so production deployments must use a
// shared backend.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/meridian/internal/domain"
)

// SessionRepository defines the interface for upload session persistence.
//
// Callers serialize mutations of a single session through lock.Locker;
// implementations only need atomicity per call, not cross-call isolation.
type SessionRepository interface {
	// Create persists a new session.
	// Returns domain.ErrSessionAlreadyExists on upload ID collision.
	Create(ctx context.Context, sess *domain.UploadSession) error

	// GetByID retrieves a session by its upload ID.
	// Returns domain.ErrSessionNotFound if absent.
	GetByID(ctx context.Context, uploadID string) (*domain.UploadSession, error)

	// RecordParts merges successfully uploaded part records into the
	// session. A record for an existing part number overwrites it.
	RecordParts(ctx context.Context, uploadID string, parts []domain.PartRecord) error

	// UpdateStatus sets the session status.
	UpdateStatus(ctx context.Context, uploadID string, status domain.SessionStatus) error

	// MarkCompleted sets the session status to completed and stamps the
	// completion time.
	MarkCompleted(ctx context.Context, uploadID string, completedAt time.Time) error

	// Delete removes a session.
	Delete(ctx context.Context, uploadID string) error

	// ListStale returns up to limit sessions created before the cutoff
	// that never reached completed status. Used by the cleanup sweeper.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.UploadSession, error)
}
