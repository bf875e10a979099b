// Package memory provides an in-memory SessionRepository for tests and
// single-process development. State does not survive restarts and is not
// shared between instances.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/repository"
)

// SessionRepository implements repository.SessionRepository with a mutex-guarded map.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*domain.UploadSession
}

// NewSessionRepository creates an empty in-memory repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*domain.UploadSession),
	}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, sess *domain.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.UploadID]; exists {
		return domain.ErrSessionAlreadyExists
	}
	r.sessions[sess.UploadID] = cloneSession(sess)
	return nil
}

// GetByID retrieves a session by its upload ID.
func (r *SessionRepository) GetByID(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[uploadID]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

// RecordParts merges part records into the session.
func (r *SessionRepository) RecordParts(ctx context.Context, uploadID string, parts []domain.PartRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[uploadID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	for _, p := range parts {
		sess.Parts[p.PartNumber] = p
	}
	return nil
}

// UpdateStatus sets the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, uploadID string, status domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[uploadID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	sess.Status = status
	return nil
}

// MarkCompleted sets completed status and the completion timestamp.
func (r *SessionRepository) MarkCompleted(ctx context.Context, uploadID string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[uploadID]
	if !exists {
		return domain.ErrSessionNotFound
	}
	sess.Status = domain.SessionStatusCompleted
	sess.CompletedAt = &completedAt
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, uploadID)
	return nil
}

// ListStale returns sessions created before the cutoff that never completed.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*domain.UploadSession
	for _, sess := range r.sessions {
		if len(stale) >= limit {
			break
		}
		if sess.Status != domain.SessionStatusCompleted && sess.CreatedAt.Before(cutoff) {
			stale = append(stale, cloneSession(sess))
		}
	}
	return stale, nil
}

// cloneSession deep-copies a session so callers never alias stored state.
func cloneSession(sess *domain.UploadSession) *domain.UploadSession {
	out := *sess
	out.Parts = make(map[int]domain.PartRecord, len(sess.Parts))
	for n, p := range sess.Parts {
		out.Parts[n] = p
	}
	if sess.CompletedAt != nil {
		t := *sess.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Ensure SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)
