package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, fileSize int64) *UploadSession {
	t.Helper()

	plan, err := Plan(fileSize)
	require.NoError(t, err)

	return NewUploadSession("storage-upload-id", "uploads/test.bin", "test.bin", "application/octet-stream", fileSize, plan, ModeDirect)
}

func TestUploadSession_New(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.NotEmpty(t, sess.UploadID)
	require.Equal(t, SessionStatusPending, sess.Status)
	require.Equal(t, 3, sess.TotalParts)
	require.Empty(t, sess.Parts)
	require.False(t, sess.IsTerminal())
}

func TestUploadSession_RecordPart_LastWriteWins(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.NoError(t, sess.RecordPart(PartRecord{PartNumber: 1, ETag: "\"aaa\"", Size: 10 * MiB}))
	require.NoError(t, sess.RecordPart(PartRecord{PartNumber: 1, ETag: "\"bbb\"", Size: 10 * MiB}))

	require.Len(t, sess.Parts, 1)
	require.Equal(t, "\"bbb\"", sess.Parts[1].ETag)
}

func TestUploadSession_RecordPart_OutOfRange(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.ErrorIs(t, sess.RecordPart(PartRecord{PartNumber: 0, ETag: "\"x\""}), ErrInvalidPartNumber)
	require.ErrorIs(t, sess.RecordPart(PartRecord{PartNumber: 4, ETag: "\"x\""}), ErrInvalidPartNumber)
}

func TestUploadSession_RecordPart_MissingETag(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.ErrorIs(t, sess.RecordPart(PartRecord{PartNumber: 1}), ErrMissingETag)
}

func TestUploadSession_Progress(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.NoError(t, sess.RecordPart(PartRecord{PartNumber: 3, ETag: "\"c\"", Size: 5 * MiB}))
	require.NoError(t, sess.RecordPart(PartRecord{PartNumber: 1, ETag: "\"a\"", Size: 10 * MiB}))

	require.False(t, sess.IsComplete())
	require.Equal(t, int64(15*MiB), sess.UploadedBytes())
	require.Equal(t, []int{1, 3}, sess.UploadedPartNumbers())
	require.InDelta(t, 66.6, sess.Percentage(), 0.1)

	require.NoError(t, sess.RecordPart(PartRecord{PartNumber: 2, ETag: "\"b\"", Size: 10 * MiB}))
	require.True(t, sess.IsComplete())
}

func TestUploadSession_Transitions(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	require.True(t, sess.CanTransition(SessionStatusUploading))
	sess.Status = SessionStatusUploading

	require.True(t, sess.CanTransition(SessionStatusCompleted))
	require.True(t, sess.CanTransition(SessionStatusFailed))
	sess.Status = SessionStatusCompleted

	// No transition leaves a terminal status.
	require.False(t, sess.CanTransition(SessionStatusUploading))
	require.False(t, sess.CanTransition(SessionStatusFailed))
	require.True(t, sess.IsTerminal())
}

func TestUploadSession_PartByteRange(t *testing.T) {
	sess := newTestSession(t, 25*MiB)

	offset, length := sess.PartByteRange(1)
	require.Equal(t, int64(0), offset)
	require.Equal(t, int64(10*MiB), length)

	offset, length = sess.PartByteRange(3)
	require.Equal(t, int64(20*MiB), offset)
	require.Equal(t, int64(5*MiB), length)
}
