package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/repository"
)

// SessionRepository implements repository.SessionRepository on SQLite.
// Sessions live in upload_sessions; recorded parts live in upload_parts with
// a composite primary key, so re-reporting a part is a plain UPSERT.
type SessionRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewSessionRepository creates a SQLite session repository.
func NewSessionRepository(db *DB, logger zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		logger: logger.With().Str("repository", "session-sqlite").Logger(),
	}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, sess *domain.UploadSession) error {
	var completedAt sql.NullInt64
	if sess.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: sess.CompletedAt.Unix(), Valid: true}
	}

	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO upload_sessions (
			upload_id, storage_upload_id, object_key, filename, file_size,
			content_type, part_size, total_parts, mode, status, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.UploadID, sess.StorageUploadID, sess.ObjectKey, sess.Filename, sess.FileSize,
		sess.ContentType, sess.PartSize, sess.TotalParts, string(sess.Mode), string(sess.Status),
		sess.CreatedAt.Unix(), completedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrSessionAlreadyExists
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session with all its recorded parts.
func (r *SessionRepository) GetByID(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	row := r.db.db.QueryRowContext(ctx, `
		SELECT upload_id, storage_upload_id, object_key, filename, file_size,
		       content_type, part_size, total_parts, mode, status, created_at, completed_at
		FROM upload_sessions WHERE upload_id = ?`, uploadID)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT part_number, etag, size FROM upload_parts WHERE upload_id = ?`, uploadID)
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

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range parts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO upload_parts (upload_id, part_number, etag, size)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (upload_id, part_number)
			DO UPDATE SET etag = excluded.etag, size = excluded.size`,
			uploadID, p.PartNumber, p.ETag, p.Size,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert part %d: %w", p.PartNumber, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit parts: %w", err)
	}
	return nil
}

// UpdateStatus sets the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, uploadID string, status domain.SessionStatus) error {
	res, err := r.db.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ? WHERE upload_id = ?`,
		string(status), uploadID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireAffected(res)
}

// MarkCompleted sets completed status and the completion timestamp.
func (r *SessionRepository) MarkCompleted(ctx context.Context, uploadID string, completedAt time.Time) error {
	res, err := r.db.db.ExecContext(ctx, `
		UPDATE upload_sessions SET status = ?, completed_at = ? WHERE upload_id = ?`,
		string(domain.SessionStatusCompleted), completedAt.Unix(), uploadID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark completed: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a session; parts go with it via ON DELETE CASCADE.
func (r *SessionRepository) Delete(ctx context.Context, uploadID string) error {
	if _, err := r.db.db.ExecContext(ctx, `
		DELETE FROM upload_sessions WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListStale returns sessions created before the cutoff that never completed.
func (r *SessionRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.UploadSession, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT upload_id, storage_upload_id, object_key, filename, file_size,
		       content_type, part_size, total_parts, mode, status, created_at, completed_at
		FROM upload_sessions
		WHERE status != ? AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?`,
		string(domain.SessionStatusCompleted), cutoff.Unix(), limit,
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
	err := r.db.db.QueryRowContext(ctx, `
		SELECT 1 FROM upload_sessions WHERE upload_id = ?`, uploadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.UploadSession, error) {
	var (
		sess        domain.UploadSession
		mode        string
		status      string
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&sess.UploadID, &sess.StorageUploadID, &sess.ObjectKey, &sess.Filename, &sess.FileSize,
		&sess.ContentType, &sess.PartSize, &sess.TotalParts, &mode, &status, &createdAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Mode = domain.UploadMode(mode)
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = time.Unix(createdAt, 0).UTC()
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0).UTC()
		sess.CompletedAt = &t
	}
	sess.Parts = make(map[int]domain.PartRecord)
	return &sess, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Ensure SessionRepository implements repository.SessionRepository.
var _ repository.SessionRepository = (*SessionRepository)(nil)
