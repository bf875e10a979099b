package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/repository"
)

// SessionRepository implements repository.SessionRepository on PostgreSQL.
type SessionRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewSessionRepository creates a PostgreSQL session repository.
func NewSessionRepository(db *DB, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger.With().Str("repository", "session-postgres").Logger(),
	}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, sess *domain.UploadSession) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO upload_sessions (
			upload_id, storage_upload_id, object_key, filename, file_size,
			content_type, part_size, total_parts, mode, status, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sess.UploadID, sess.StorageUploadID, sess.ObjectKey, sess.Filename, sess.FileSize,
		sess.ContentType, sess.PartSize, sess.TotalParts, string(sess.Mode), string(sess.Status),
		sess.CreatedAt, sess.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrSessionAlreadyExists
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session with all its recorded parts.
func (r *SessionRepository) GetByID(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT upload_id, storage_upload_id, object_key, filename, file_size,
		       content_type, part_size, total_parts, mode, status, created_at, completed_at
		FROM upload_sessions WHERE upload_id = $1`, uploadID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT part_number, etag, size FROM upload_parts WHERE upload_id = $1`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.PartRecord
		if err := rows.Scan(&p.PartNumber, &p.ETag, &p.Size); err != nil {
			return nil, fmt.Errorf("failed to scan part: %w", err)
		}
		sess.Parts[p.PartNumber] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parts: %w", err)
	}
	return sess, nil
}

// RecordParts upserts part records for the session.
func (r *SessionRepository) RecordParts(ctx context.Context, uploadID string, parts []domain.PartRecord) error {
	if err := r.exists(ctx, uploadID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, p := range parts {
		batch.Queue(`
			INSERT INTO upload_parts (upload_id, part_number, etag, size)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (upload_id, part_number)
			DO UPDATE SET etag = EXCLUDED.etag, size = EXCLUDED.size`,
			uploadID, p.PartNumber, p.ETag, p.Size,
		)
	}

	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for range parts {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert part: %w", err)
		}
	}
	return nil
}

// UpdateStatus sets the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, uploadID string, status domain.SessionStatus) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE upload_sessions SET status = $1 WHERE upload_id = $2`,
		string(status), uploadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// MarkCompleted sets completed status and the completion timestamp.
func (r *SessionRepository) MarkCompleted(ctx context.Context, uploadID string, completedAt time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE upload_sessions SET status = $1, completed_at = $2 WHERE upload_id = $3`,
		string(domain.SessionStatusCompleted), completedAt, uploadID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session; parts cascade.
func (r *SessionRepository) Delete(ctx context.Context, uploadID string) error {
	if _, err := r.db.Pool.Exec(ctx, `
		DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListStale returns sessions created before the cutoff that never completed.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.UploadSession, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT upload_id, storage_upload_id, object_key, filename, file_size,
		       content_type, part_size, total_parts, mode, status, created_at, completed_at
		FROM upload_sessions
		WHERE status != $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`,
		string(domain.SessionStatusCompleted), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	defer rows.Close()

	var stale []*domain.UploadSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		stale = append(stale, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return stale, nil
}

// exists checks that the session row is present.
func (r *SessionRepository) exists(ctx context.Context, uploadID string) error {
	var one int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT 1 FROM upload_sessions WHERE upload_id = $1`, uploadID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*domain.UploadSession, error) {
	var (
		sess        domain.UploadSession
		mode        string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&sess.UploadID, &sess.StorageUploadID, &sess.ObjectKey, &sess.Filename, &sess.FileSize,
		&sess.ContentType, &sess.PartSize, &sess.TotalParts, &mode, &status, &sess.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Mode = domain.UploadMode(mode)
	sess.Status = domain.SessionStatus(status)
	sess.CompletedAt = completedAt
	sess.Parts = make(map[int]domain.PartRecord)
	return &sess, nil
}

// Ensure SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)
