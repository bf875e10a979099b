// Package service provides business logic services for Meridian Upload.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/cache"
	"github.com/prn-tf/meridian/internal/domain"
	"github.com/prn-tf/meridian/internal/lock"
	"github.com/prn-tf/meridian/internal/metrics"
	"github.com/prn-tf/meridian/internal/repository"
	"github.com/prn-tf/meridian/internal/storage"
)

// UploadService implements the init/presign/complete/status protocol.
type UploadService struct {
	sessionRepo repository.SessionRepository
	gateway     storage.Gateway
	locker      lock.Locker
	metrics     *metrics.Metrics
	urlCache    cache.Cache
	logger      zerolog.Logger
	config      UploadConfig
}

// UploadConfig contains tunables for the upload coordinator.
type UploadConfig struct {
	// SimpleUploadThreshold is the size below which a file is uploaded with
	// a single presigned PUT instead of multipart.
	SimpleUploadThreshold int64

	// MaxFileSize is the largest accepted file.
	MaxFileSize int64

	// PresignTTL is the lifetime of presigned part and PUT URLs.
	PresignTTL time.Duration

	// DownloadTTL is the lifetime of presigned download URLs.
	DownloadTTL time.Duration

	// EagerPresignBatch is how many part URLs init returns up front.
	EagerPresignBatch int

	// MaxPresignBatch caps the batch size of a presign call.
	MaxPresignBatch int
}

// DefaultUploadConfig returns sensible defaults.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		SimpleUploadThreshold: 5 * domain.MiB,
		MaxFileSize:           10 * 1024 * domain.MiB,
		PresignTTL:            15 * time.Minute,
		DownloadTTL:           15 * time.Minute,
		EagerPresignBatch:     100,
		MaxPresignBatch:       20,
	}
}

// NewUploadService creates a new UploadService.
func NewUploadService(
	sessionRepo repository.SessionRepository,
	gateway storage.Gateway,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config UploadConfig,
) *UploadService {
	return &UploadService{
		sessionRepo: sessionRepo,
		gateway:     gateway,
		locker:      locker,
		metrics:     m,
		logger:      logger.With().Str("service", "upload").Logger(),
		config:      config,
	}
}

// WithDownloadURLCache enables reuse of presigned download URLs across status
// calls. Cached URLs are kept for half their TTL, so a served URL always has
// at least half its lifetime left.
func (s *UploadService) WithDownloadURLCache(c cache.Cache) *UploadService {
	s.urlCache = c
	return s
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// InitUploadInput contains the data needed to initialize an upload.
type InitUploadInput struct {
	Filename    string
	FileSize    int64
	ContentType string
	Mode        domain.UploadMode
}

// PresignedPart pairs a part number with its presigned upload URL.
type PresignedPart struct {
	PartNumber int
	URL        string
}

// InitUploadOutput contains the result of initializing an upload.
// Simple uploads carry PresignedURL and FileURL; multipart uploads carry
// UploadID, PartSize, TotalParts and the eager PresignedParts batch.
type InitUploadOutput struct {
	Simple bool
	Key    string

	// Simple path
	PresignedURL string
	FileURL      string

	// Multipart path
	UploadID       string
	PartSize       int64
	TotalParts     int
	PresignedParts []PresignedPart
}

// PresignPartsInput contains the data needed to presign a batch of parts.
type PresignPartsInput struct {
	UploadID    string
	PartNumbers []int
}

// PresignPartsOutput contains freshly presigned part URLs.
type PresignPartsOutput struct {
	Parts []PresignedPart
}

// CompleteUploadInput contains the data needed to finalize an upload.
type CompleteUploadInput struct {
	UploadID string
	Parts    []domain.PartRecord
}

// CompleteUploadOutput contains the result of finalizing an upload.
type CompleteUploadOutput struct {
	FileURL    string
	Key        string
	ETag       string
	TotalParts int
	FileSize   int64
}

// StatusOutput describes the current state of an upload session.
type StatusOutput struct {
	Session     *domain.UploadSession
	DownloadURL string
}

// =============================================================================
// Service Methods
// =============================================================================

// InitUpload validates the request, routes small files to a simple presigned
// PUT, and creates a multipart session for everything else.
func (s *UploadService) InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadOutput, error) {
	if err := s.validateInit(input); err != nil {
		return nil, err
	}

	key := storage.GenerateObjectKey(input.Filename)

	// Small files skip multipart entirely: one presigned PUT, no session.
	if input.FileSize < s.config.SimpleUploadThreshold {
		url, err := s.gateway.PresignObjectPut(ctx, key, input.ContentType, s.config.PresignTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("failed to presign simple put")
			return nil, backendError(err)
		}

		if s.metrics != nil {
			s.metrics.UploadsInitiated.WithLabelValues("simple").Inc()
		}

		s.logger.Info().
			Str("key", key).
			Int64("file_size", input.FileSize).
			Msg("simple upload initialized")

		return &InitUploadOutput{
			Simple:       true,
			Key:          key,
			PresignedURL: url,
			FileURL:      s.gateway.ObjectURL(key),
		}, nil
	}

	plan, err := domain.Plan(input.FileSize)
	if err != nil {
		return nil, err
	}

	storageUploadID, err := s.gateway.CreateMultipartUpload(ctx, key, input.ContentType)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to create multipart upload")
		return nil, backendError(err)
	}

	sess := domain.NewUploadSession(storageUploadID, key, input.Filename, input.ContentType, input.FileSize, plan, input.Mode)
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to persist session")
		s.abortBestEffort(ctx, key, storageUploadID)
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	// Eagerly presign the first batch so small part counts need no
	// follow-up round-trips. Direct mode only: in server mode the client
	// never talks to the object store.
	var presigned []PresignedPart
	if sess.Mode == domain.ModeDirect {
		batch := plan.TotalParts
		if batch > s.config.EagerPresignBatch {
			batch = s.config.EagerPresignBatch
		}
		presigned = make([]PresignedPart, 0, batch)
		for n := 1; n <= batch; n++ {
			url, err := s.gateway.PresignUploadPart(ctx, key, storageUploadID, n, s.config.PresignTTL)
			if err != nil {
				s.logger.Error().Err(err).Int("part", n).Msg("failed to presign part")
				s.abortBestEffort(ctx, key, storageUploadID)
				if delErr := s.sessionRepo.Delete(ctx, sess.UploadID); delErr != nil {
					s.logger.Error().Err(delErr).Str("upload_id", sess.UploadID).Msg("failed to delete session after presign failure")
				}
				return nil, backendError(err)
			}
			presigned = append(presigned, PresignedPart{PartNumber: n, URL: url})
		}
	}

	if s.metrics != nil {
		s.metrics.UploadsInitiated.WithLabelValues("multipart").Inc()
		s.metrics.PartsPresigned.Add(float64(len(presigned)))
	}

	s.logger.Info().
		Str("upload_id", sess.UploadID).
		Str("key", key).
		Int64("file_size", input.FileSize).
		Int64("part_size", plan.PartSize).
		Int("total_parts", plan.TotalParts).
		Str("mode", string(sess.Mode)).
		Msg("multipart upload initialized")

	return &InitUploadOutput{
		Key:            key,
		UploadID:       sess.UploadID,
		PartSize:       plan.PartSize,
		TotalParts:     plan.TotalParts,
		PresignedParts: presigned,
	}, nil
}

// PresignParts returns fresh presigned URLs for the requested part numbers.
// The whole batch succeeds or the whole call fails.
func (s *UploadService) PresignParts(ctx context.Context, input PresignPartsInput) (*PresignPartsOutput, error) {
	if len(input.PartNumbers) == 0 {
		return nil, domain.ErrNoPartsProvided
	}
	if len(input.PartNumbers) > s.config.MaxPresignBatch {
		return nil, domain.ErrBatchTooLarge
	}

	sess, err := s.getSession(ctx, input.UploadID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}

	for _, n := range input.PartNumbers {
		if !sess.ValidPartNumber(n) {
			return nil, domain.ErrInvalidPartNumber
		}
	}

	parts := make([]PresignedPart, 0, len(input.PartNumbers))
	for _, n := range input.PartNumbers {
		url, err := s.gateway.PresignUploadPart(ctx, sess.ObjectKey, sess.StorageUploadID, n, s.config.PresignTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("upload_id", sess.UploadID).Int("part", n).Msg("failed to presign part")
			return nil, backendError(err)
		}
		parts = append(parts, PresignedPart{PartNumber: n, URL: url})
	}

	if s.metrics != nil {
		s.metrics.PartsPresigned.Add(float64(len(parts)))
	}

	return &PresignPartsOutput{Parts: parts}, nil
}

// CompleteUpload records the reported parts and, when every part is present,
// finalizes the object in the store. A finalize failure leaves the session in
// uploading status so completion alone can be retried.
func (s *UploadService) CompleteUpload(ctx context.Context, input CompleteUploadInput) (*CompleteUploadOutput, error) {
	start := time.Now()

	if len(input.Parts) == 0 {
		return nil, domain.ErrNoPartsProvided
	}

	unlock, err := s.lockSession(ctx, input.UploadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.getSession(ctx, input.UploadID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}

	for _, p := range input.Parts {
		if err := sess.RecordPart(p); err != nil {
			return nil, err
		}
	}
	if err := s.sessionRepo.RecordParts(ctx, sess.UploadID, input.Parts); err != nil {
		s.logger.Error().Err(err).Str("upload_id", sess.UploadID).Msg("failed to record parts")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if sess.Status == domain.SessionStatusPending {
		if err := s.sessionRepo.UpdateStatus(ctx, sess.UploadID, domain.SessionStatusUploading); err != nil {
			s.logger.Error().Err(err).Str("upload_id", sess.UploadID).Msg("failed to update status")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		sess.Status = domain.SessionStatusUploading
	}

	if s.metrics != nil {
		s.metrics.PartsRecorded.Add(float64(len(input.Parts)))
	}

	if !sess.IsComplete() {
		return nil, &domain.IncompleteUploadError{
			Uploaded: len(sess.Parts),
			Total:    sess.TotalParts,
		}
	}

	// UploadedPartNumbers is ascending, which is the order the store expects.
	completed := make([]storage.CompletedPart, 0, sess.TotalParts)
	for _, n := range sess.UploadedPartNumbers() {
		completed = append(completed, storage.CompletedPart{
			PartNumber: n,
			ETag:       sess.Parts[n].ETag,
		})
	}

	result, err := s.gateway.CompleteMultipartUpload(ctx, sess.ObjectKey, sess.StorageUploadID, completed)
	if err != nil {
		// Session stays in uploading: the client retries completion
		// without re-uploading any part.
		s.logger.Error().Err(err).Str("upload_id", sess.UploadID).Msg("failed to finalize multipart upload")
		return nil, backendError(err)
	}

	now := time.Now().UTC()
	if err := s.sessionRepo.MarkCompleted(ctx, sess.UploadID, now); err != nil {
		// The object is already assembled; log and report success anyway.
		s.logger.Error().Err(err).Str("upload_id", sess.UploadID).Msg("failed to mark session completed")
	}

	if s.metrics != nil {
		s.metrics.RecordCompleted(sess.FileSize, time.Since(start).Seconds())
	}

	s.logger.Info().
		Str("upload_id", sess.UploadID).
		Str("key", sess.ObjectKey).
		Int64("file_size", sess.FileSize).
		Int("total_parts", sess.TotalParts).
		Msg("multipart upload completed")

	return &CompleteUploadOutput{
		FileURL:    s.gateway.ObjectURL(sess.ObjectKey),
		Key:        sess.ObjectKey,
		ETag:       result.ETag,
		TotalParts: sess.TotalParts,
		FileSize:   sess.FileSize,
	}, nil
}

// GetStatus returns the current session state. Completed sessions also get a
// presigned download URL.
func (s *UploadService) GetStatus(ctx context.Context, uploadID string) (*StatusOutput, error) {
	sess, err := s.getSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	out := &StatusOutput{Session: sess}
	if sess.Status == domain.SessionStatusCompleted {
		url, err := s.downloadURL(ctx, sess)
		if err != nil {
			s.logger.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to presign download")
		} else {
			out.DownloadURL = url
		}
	}
	return out, nil
}

// downloadURL presigns a download for a completed session, reusing a cached
// URL when one is still fresh.
func (s *UploadService) downloadURL(ctx context.Context, sess *domain.UploadSession) (string, error) {
	cacheKey := "download:" + sess.UploadID

	if s.urlCache != nil {
		if cached, err := s.urlCache.Get(ctx, cacheKey); err == nil {
			return string(cached), nil
		}
	}

	url, err := s.gateway.PresignDownload(ctx, sess.ObjectKey, s.config.DownloadTTL)
	if err != nil {
		return "", err
	}

	if s.urlCache != nil {
		if err := s.urlCache.Set(ctx, cacheKey, []byte(url), s.config.DownloadTTL/2); err != nil {
			s.logger.Warn().Err(err).Msg("failed to cache download url")
		}
	}
	return url, nil
}

// AbortUpload abandons a session: the store's multipart upload is aborted
// (best-effort) and the session is marked failed.
func (s *UploadService) AbortUpload(ctx context.Context, uploadID string) error {
	unlock, err := s.lockSession(ctx, uploadID)
	if err != nil {
		return err
	}
	defer unlock()

	sess, err := s.getSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if sess.Status == domain.SessionStatusCompleted {
		return domain.ErrSessionCompleted
	}

	s.abortBestEffort(ctx, sess.ObjectKey, sess.StorageUploadID)

	if sess.Status != domain.SessionStatusFailed {
		if err := s.sessionRepo.UpdateStatus(ctx, uploadID, domain.SessionStatusFailed); err != nil {
			s.logger.Error().Err(err).Str("upload_id", uploadID).Msg("failed to mark session failed")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	}

	if s.metrics != nil {
		s.metrics.UploadsAborted.Inc()
	}

	s.logger.Info().
		Str("upload_id", uploadID).
		Str("key", sess.ObjectKey).
		Msg("upload aborted")

	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *UploadService) validateInit(input InitUploadInput) error {
	if input.Filename == "" {
		return domain.ErrFilenameEmpty
	}
	if input.ContentType == "" {
		return domain.ErrContentTypeEmpty
	}
	if input.FileSize <= 0 {
		return domain.ErrFileSizeInvalid
	}
	if input.FileSize > s.config.MaxFileSize {
		return domain.ErrFileTooLarge
	}
	if !domain.ValidMode(input.Mode) {
		return domain.ErrInvalidMode
	}
	return nil
}

func (s *UploadService) getSession(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	sess, err := s.sessionRepo.GetByID(ctx, uploadID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		s.logger.Error().Err(err).Str("upload_id", uploadID).Msg("failed to get session")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return sess, nil
}

// lockSession serializes session mutations across instances.
func (s *UploadService) lockSession(ctx context.Context, uploadID string) (func(), error) {
	key := lock.Keys.Session(uploadID)
	acquired, err := s.locker.AcquireWithRetry(ctx, key, 30*time.Second, 5, 200*time.Millisecond)
	if err != nil {
		s.logger.Error().Err(err).Str("upload_id", uploadID).Msg("failed to acquire session lock")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !acquired {
		return nil, ErrLockUnavailable
	}
	return func() {
		if _, err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Error().Err(err).Str("upload_id", uploadID).Msg("failed to release session lock")
		}
	}, nil
}

func (s *UploadService) abortBestEffort(ctx context.Context, key, storageUploadID string) {
	if err := s.gateway.AbortMultipartUpload(ctx, key, storageUploadID); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to abort multipart upload")
	}
}

func requireActive(sess *domain.UploadSession) error {
	switch sess.Status {
	case domain.SessionStatusCompleted:
		return domain.ErrSessionCompleted
	case domain.SessionStatusFailed:
		return domain.ErrSessionFailed
	default:
		return nil
	}
}
