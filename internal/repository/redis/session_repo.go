// Package redis provides a Redis-backed SessionRepository. Sessions are
// stored as JSON values with a secondary index (sorted set scored by creation
// time) for stale-session sweeps. This is the backend for multi-instance
// deployments: every instance sees the same session state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/repository"
)

const (
	sessionKeyPrefix = "meridian:session:"
	createdIndexKey  = "meridian:sessions:by-created"
)

// SessionRepository implements repository.SessionRepository on Redis.
type SessionRepository struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewSessionRepository creates a Redis session repository on an existing client.
func NewSessionRepository(client *redis.Client, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		client: client,
		logger: logger.With().Str("repository", "session-redis").Logger(),
	}
}

func sessionKey(uploadID string) string {
	return sessionKeyPrefix + uploadID
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, sess *domain.UploadSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, sessionKey(sess.UploadID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	if !ok {
		return domain.ErrSessionAlreadyExists
	}

	err = r.client.ZAdd(ctx, createdIndexKey, redis.Z{
		Score:  float64(sess.CreatedAt.Unix()),
		Member: sess.UploadID,
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}

// GetByID retrieves a session by its upload ID.
func (r *SessionRepository) GetByID(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	data, err := r.client.Get(ctx, sessionKey(uploadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}

	var sess domain.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", uploadID, err)
	}
	return &sess, nil
}

// RecordParts merges part records into the stored session. The caller holds
// the per-session lock, so read-modify-write is race-free here.
func (r *SessionRepository) RecordParts(ctx context.Context, uploadID string, parts []domain.PartRecord) error {
	return r.mutate(ctx, uploadID, func(sess *domain.UploadSession) {
		for _, p := range parts {
			sess.Parts[p.PartNumber] = p
		}
	})
}

// UpdateStatus sets the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, uploadID string, status domain.SessionStatus) error {
	return r.mutate(ctx, uploadID, func(sess *domain.UploadSession) {
		sess.Status = status
	})
}

// MarkCompleted sets completed status and the completion timestamp, and drops
// the session from the stale-sweep index.
func (r *SessionRepository) MarkCompleted(ctx context.Context, uploadID string, completedAt time.Time) error {
	err := r.mutate(ctx, uploadID, func(sess *domain.UploadSession) {
		sess.Status = domain.SessionStatusCompleted
		sess.CompletedAt = &completedAt
	})
	if err != nil {
		return err
	}

	if err := r.client.ZRem(ctx, createdIndexKey, uploadID).Err(); err != nil {
		// The sweeper filters completed sessions anyway.
		r.logger.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to remove session from created index")
	}
	return nil
}

// Delete removes a session and its index entry.
func (r *SessionRepository) Delete(ctx context.Context, uploadID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(uploadID))
	pipe.ZRem(ctx, createdIndexKey, uploadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}

// ListStale returns sessions created before the cutoff that never completed.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.UploadSession, error) {
	ids, err := r.client.ZRangeByScore(ctx, createdIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", cutoff.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}

	stale := make([]*domain.UploadSession, 0, len(ids))
	for _, id := range ids {
		sess, err := r.GetByID(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			// Session deleted since indexing; drop the orphan index entry.
			_ = r.client.ZRem(ctx, createdIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Status == domain.SessionStatusCompleted {
			continue
		}
		stale = append(stale, sess)
	}
	return stale, nil
}

// mutate applies fn to the stored session and writes it back.
func (r *SessionRepository) mutate(ctx context.Context, uploadID string, fn func(*domain.UploadSession)) error {
	sess, err := r.GetByID(ctx, uploadID)
	if err != nil {
		return err
	}
	if sess.Parts == nil {
		sess.Parts = make(map[int]domain.PartRecord)
	}

	fn(sess)

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(uploadID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return nil
}

// Ensure SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)
