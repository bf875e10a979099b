// Package domain contains the core business entities for Meridian Upload.
package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of an upload session.
type SessionStatus string

const (
	// SessionStatusPending indicates the session was created but no part has
	// been reported yet.
	SessionStatusPending SessionStatus = "pending"

	// SessionStatusUploading indicates at least one part has been reported.
	SessionStatusUploading SessionStatus = "uploading"

	// SessionStatusCompleted indicates the multipart upload was finalized.
	SessionStatusCompleted SessionStatus = "completed"

	// SessionStatusFailed indicates the upload was abandoned or failed.
	SessionStatusFailed SessionStatus = "failed"
)

// UploadMode selects who moves the bytes to the object store.
type UploadMode string

const (
	// ModeDirect means the client uploads parts straight to the object store
	// using presigned URLs.
	ModeDirect UploadMode = "direct"

	// ModeServer means the server proxies part bytes to the object store.
	ModeServer UploadMode = "server"
)

// ValidMode reports whether m is a known upload mode.
func ValidMode(m UploadMode) bool {
	return m == ModeDirect || m == ModeServer
}

// PartRecord is one successfully uploaded part as reported by the client.
type PartRecord struct {
	// PartNumber is the 1-based part number.
	PartNumber int `json:"part_number"`

	// ETag is the opaque integrity token returned by the object store.
	ETag string `json:"etag"`

	// Size is the size of the part in bytes.
	Size int64 `json:"size"`
}

// UploadSession tracks one multipart upload attempt across requests.
// Sessions are persisted so an upload survives process restarts and can be
// served by any instance behind a load balancer.
type UploadSession struct {
	// UploadID is the server-generated client-facing handle.
	UploadID string `json:"upload_id"`

	// StorageUploadID is the object store's own multipart upload identifier.
	StorageUploadID string `json:"storage_upload_id"`

	// ObjectKey is the final storage key for the object.
	ObjectKey string `json:"object_key"`

	// Filename is the original client filename.
	Filename string `json:"filename"`

	// FileSize is the total size of the file in bytes.
	FileSize int64 `json:"file_size"`

	// ContentType is the MIME type of the final object.
	ContentType string `json:"content_type"`

	// PartSize is the planned size of each part except possibly the last.
	// Computed once at creation and immutable thereafter.
	PartSize int64 `json:"part_size"`

	// TotalParts is ceil(FileSize / PartSize), fixed at creation.
	TotalParts int `json:"total_parts"`

	// Parts maps part number to the latest successful upload record.
	// Grows monotonically; a re-report for the same number overwrites.
	Parts map[int]PartRecord `json:"parts"`

	// Mode is the upload mode requested by the client.
	Mode UploadMode `json:"mode"`

	// Status is the current session status.
	Status SessionStatus `json:"status"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the multipart upload was finalized, if it was.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewUploadSession creates a pending session for a planned multipart upload.
func NewUploadSession(storageUploadID, objectKey, filename, contentType string, fileSize int64, plan PartPlan, mode UploadMode) *UploadSession {
	return &UploadSession{
		UploadID:        uuid.NewString(),
		StorageUploadID: storageUploadID,
		ObjectKey:       objectKey,
		Filename:        filename,
		FileSize:        fileSize,
		ContentType:     contentType,
		PartSize:        plan.PartSize,
		TotalParts:      plan.TotalParts,
		Parts:           make(map[int]PartRecord),
		Mode:            mode,
		Status:          SessionStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

// IsTerminal reports whether the session reached a final status.
func (s *UploadSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// CanTransition reports whether the status may move to next.
// Transitions only run forward: pending -> uploading -> {completed, failed}.
func (s *UploadSession) CanTransition(next SessionStatus) bool {
	switch s.Status {
	case SessionStatusPending:
		return next == SessionStatusUploading || next == SessionStatusCompleted || next == SessionStatusFailed
	case SessionStatusUploading:
		return next == SessionStatusUploading || next == SessionStatusCompleted || next == SessionStatusFailed
	default:
		return false
	}
}

// ValidPartNumber reports whether n is within [1, TotalParts].
func (s *UploadSession) ValidPartNumber(n int) bool {
	return n >= 1 && n <= s.TotalParts
}

// RecordPart stores a successful part upload, overwriting any prior record
// for the same part number. Last write wins: only one successful upload per
// part number exists at completion time.
func (s *UploadSession) RecordPart(rec PartRecord) error {
	if !s.ValidPartNumber(rec.PartNumber) {
		return ErrInvalidPartNumber
	}
	if rec.ETag == "" {
		return ErrMissingETag
	}
	if s.Parts == nil {
		s.Parts = make(map[int]PartRecord)
	}
	s.Parts[rec.PartNumber] = rec
	return nil
}

// IsComplete reports whether every planned part has been recorded.
func (s *UploadSession) IsComplete() bool {
	return len(s.Parts) == s.TotalParts
}

// UploadedBytes returns the sum of recorded part sizes.
func (s *UploadSession) UploadedBytes() int64 {
	var total int64
	for _, p := range s.Parts {
		total += p.Size
	}
	return total
}

// UploadedPartNumbers returns the recorded part numbers in ascending order.
func (s *UploadSession) UploadedPartNumbers() []int {
	nums := make([]int, 0, len(s.Parts))
	for n := range s.Parts {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Percentage returns upload progress as recorded parts over total parts.
func (s *UploadSession) Percentage() float64 {
	if s.TotalParts == 0 {
		return 0
	}
	return float64(len(s.Parts)) / float64(s.TotalParts) * 100
}

// PartByteRange returns the byte range [offset, offset+length) of a part in
// the source file. The final part may be shorter than PartSize.
func (s *UploadSession) PartByteRange(partNumber int) (offset, length int64) {
	offset = int64(partNumber-1) * s.PartSize
	end := offset + s.PartSize
	if end > s.FileSize {
		end = s.FileSize
	}
	return offset, end - offset
}
