package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/meridian/internal/domain"
)

func newTestRepo(t *testing.T) *SessionRepository {
	t.Helper()

	db, err := NewDB(context.Background(), DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSessionRepository(db, zerolog.Nop())
}

func newTestSession(t *testing.T, fileSize int64) *domain.UploadSession {
	t.Helper()

	plan, err := domain.Plan(fileSize)
	require.NoError(t, err)
	return domain.NewUploadSession("storage-upload-1", "uploads/test.bin", "test.bin", "application/octet-stream", fileSize, plan, domain.ModeDirect)
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))

	got, err := repo.GetByID(ctx, sess.UploadID)
	require.NoError(t, err)
	require.Equal(t, sess.UploadID, got.UploadID)
	require.Equal(t, sess.StorageUploadID, got.StorageUploadID)
	require.Equal(t, sess.ObjectKey, got.ObjectKey)
	require.Equal(t, sess.FileSize, got.FileSize)
	require.Equal(t, sess.TotalParts, got.TotalParts)
	require.Equal(t, domain.SessionStatusPending, got.Status)
	require.Empty(t, got.Parts)
	require.Nil(t, got.CompletedAt)
}

func TestSessionRepository_Create_Duplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))

	err := repo.Create(ctx, sess)
	require.ErrorIs(t, err, domain.ErrSessionAlreadyExists)
}

func TestSessionRepository_GetByID_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepository_RecordParts_Upsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))

	err := repo.RecordParts(ctx, sess.UploadID, []domain.PartRecord{
		{PartNumber: 1, ETag: `"etag-1"`, Size: 10 * domain.MiB},
		{PartNumber: 2, ETag: `"etag-2"`, Size: 10 * domain.MiB},
	})
	require.NoError(t, err)

	// Re-reporting part 1 overwrites the earlier record.
	err = repo.RecordParts(ctx, sess.UploadID, []domain.PartRecord{
		{PartNumber: 1, ETag: `"etag-1-retry"`, Size: 10 * domain.MiB},
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, sess.UploadID)
	require.NoError(t, err)
	require.Len(t, got.Parts, 2)
	require.Equal(t, `"etag-1-retry"`, got.Parts[1].ETag)
	require.Equal(t, `"etag-2"`, got.Parts[2].ETag)
}

func TestSessionRepository_RecordParts_SessionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.RecordParts(context.Background(), "missing", []domain.PartRecord{
		{PartNumber: 1, ETag: `"etag"`, Size: domain.MiB},
	})
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepository_UpdateStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))

	require.NoError(t, repo.UpdateStatus(ctx, sess.UploadID, domain.SessionStatusUploading))

	got, err := repo.GetByID(ctx, sess.UploadID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusUploading, got.Status)

	err = repo.UpdateStatus(ctx, "missing", domain.SessionStatusFailed)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionRepository_MarkCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))

	completedAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.MarkCompleted(ctx, sess.UploadID, completedAt))

	got, err := repo.GetByID(ctx, sess.UploadID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.True(t, got.CompletedAt.Equal(completedAt))
}

func TestSessionRepository_Delete_CascadesParts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sess := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, sess))
	require.NoError(t, repo.RecordParts(ctx, sess.UploadID, []domain.PartRecord{
		{PartNumber: 1, ETag: `"etag-1"`, Size: 10 * domain.MiB},
	}))

	require.NoError(t, repo.Delete(ctx, sess.UploadID))

	_, err := repo.GetByID(ctx, sess.UploadID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	var count int
	err = repo.db.db.QueryRow(`SELECT COUNT(*) FROM upload_parts WHERE upload_id = ?`, sess.UploadID).Scan(&count)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSessionRepository_ListStale(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := newTestSession(t, 25*domain.MiB)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))

	fresh := newTestSession(t, 25*domain.MiB)
	require.NoError(t, repo.Create(ctx, fresh))

	done := newTestSession(t, 25*domain.MiB)
	done.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.Create(ctx, done))
	require.NoError(t, repo.MarkCompleted(ctx, done.UploadID, time.Now().UTC()))

	stale, err := repo.ListStale(ctx, time.Now().UTC().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.Equal(t, old.UploadID, stale[0].UploadID)
}
