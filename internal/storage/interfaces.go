// Package storage defines the object store gateway used by the upload
// services. The gateway wraps the provider's multipart API and presigned URL
// generation so the service layer never touches an SDK directly.
package storage

import (
	"context"
	"time"
)

// CompletedPart is one part handed to the store at finalize time.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// CompleteResult is what the store returns after assembling an object.
type CompleteResult struct {
	// ETag is the integrity token of the assembled object.
	ETag string

	// Location is the provider's URL for the object, if it reports one.
	Location string
}

// Gateway abstracts the object store's upload operations.
type Gateway interface {
	// CreateMultipartUpload registers a new multipart upload and returns the
	// store's upload identifier.
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)

	// PresignUploadPart returns a short-lived URL authorizing a PUT of one
	// part. The URL embeds the part number and store upload ID.
	PresignUploadPart(ctx context.Context, key, storageUploadID string, partNumber int, ttl time.Duration) (string, error)

	// PresignObjectPut returns a short-lived URL authorizing a simple PUT of
	// the whole object. Used below the multipart threshold.
	PresignObjectPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)

	// PresignDownload returns a short-lived URL authorizing a GET of the object.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)

	// CompleteMultipartUpload assembles the object from its parts.
	// Parts must be sorted by part number.
	CompleteMultipartUpload(ctx context.Context, key, storageUploadID string, parts []CompletedPart) (*CompleteResult, error)

	// AbortMultipartUpload discards an in-progress multipart upload and its
	// stored parts.
	AbortMultipartUpload(ctx context.Context, key, storageUploadID string) error

	// ObjectExists reports whether an object is present at key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// ObjectURL returns the canonical (unsigned) URL for an object.
	ObjectURL(key string) string
}
