package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/api"
)

// State is the uploader lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateUploading State = "uploading"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// ErrNotPaused is returned by Resume when there is nothing to resume.
var ErrNotPaused = errors.New("uploader is not paused")

// ErrBusy is returned by Start when an upload is already in progress.
var ErrBusy = errors.New("upload already in progress")

// Uploader moves one file to the object store through the coordinator
// protocol. Parts upload concurrently through a bounded worker pool; each
// part retries with exponential backoff and a fresh presigned URL. Pausing
// aborts in-flight part requests and preserves completed parts, so resume
// never re-uploads data.
type Uploader struct {
	client *APIClient
	config Config
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	source    PartSource
	filename  string
	mimeType  string
	session   sessionInfo
	completed map[int]api.CompletedPart
	urls      map[int]string
	uploaded  int64
	fileURL   string
	lastErr   error
	cancelRun context.CancelFunc

	// gen increments on every reset. Workers carry the generation of their
	// run, so a part finishing after Cancel cannot record into the state of
	// a later upload.
	gen int
}

// sessionInfo is the multipart session handed back by init.
type sessionInfo struct {
	uploadID   string
	key        string
	partSize   int64
	totalParts int
}

// New creates an idle uploader.
func New(config Config, logger zerolog.Logger) *Uploader {
	config.withDefaults()
	u := &Uploader{
		client: NewAPIClient(config.ServerURL, logger),
		config: config,
		logger: logger.With().Str("component", "uploader").Logger(),
	}
	u.reset()
	return u
}

// State returns the current lifecycle state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Progress returns upload progress in [0, 1], derived from completed part
// bytes over the file size.
func (u *Uploader) Progress() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.source == nil || u.source.Size() == 0 {
		return 0
	}
	return float64(u.uploaded) / float64(u.source.Size())
}

// FileURL returns the final object URL after a completed upload.
func (u *Uploader) FileURL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fileURL
}

// Err returns the error that moved the uploader to failed, if any.
func (u *Uploader) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// Start begins uploading the source. It blocks until the upload completes,
// fails, is paused, or ctx is cancelled. Completed and failed uploaders may
// be started again, which discards all prior state.
func (u *Uploader) Start(ctx context.Context, source PartSource, filename, contentType string) error {
	u.mu.Lock()
	if u.state == StateUploading || u.state == StatePaused {
		u.mu.Unlock()
		return ErrBusy
	}
	u.reset()
	u.source = source
	u.filename = filename
	u.mimeType = contentType
	u.mu.Unlock()

	initResp, err := u.client.Init(api.InitRequest{
		Filename:    filename,
		Filesize:    source.Size(),
		ContentType: contentType,
		Mode:        "direct",
	})
	if err != nil {
		return u.fail(fmt.Errorf("init upload: %w", err))
	}

	if initResp.UploadType == api.UploadTypeSimple {
		return u.simplePut(ctx, initResp)
	}

	u.mu.Lock()
	u.session = sessionInfo{
		uploadID:   initResp.UploadID,
		key:        initResp.Key,
		partSize:   initResp.PartSize,
		totalParts: initResp.TotalParts,
	}
	for _, p := range initResp.PresignedParts {
		u.urls[p.PartNumber] = p.URL
	}
	u.mu.Unlock()

	u.logger.Info().
		Str("upload_id", initResp.UploadID).
		Int64("part_size", initResp.PartSize).
		Int("total_parts", initResp.TotalParts).
		Msg("multipart upload started")

	return u.run(ctx)
}

// Pause stops the worker pool and aborts in-flight part requests. Parts
// already reported stay recorded; everything else reverts to pending.
func (u *Uploader) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateUploading {
		return
	}
	u.state = StatePaused
	if u.cancelRun != nil {
		u.cancelRun()
	}
	u.logger.Info().Int("completed_parts", len(u.completed)).Msg("upload paused")
}

// Resume re-enters the worker pool, skipping every part already completed.
// Blocks like Start.
func (u *Uploader) Resume(ctx context.Context) error {
	u.mu.Lock()
	if u.state != StatePaused {
		u.mu.Unlock()
		return ErrNotPaused
	}
	u.mu.Unlock()

	u.logger.Info().Msg("upload resumed")
	return u.run(ctx)
}

// Cancel aborts in-flight requests, tells the coordinator to abort the
// session, and discards all local state. The uploader returns to idle.
func (u *Uploader) Cancel() error {
	u.mu.Lock()
	if u.cancelRun != nil {
		u.cancelRun()
	}
	uploadID := u.session.uploadID
	u.reset()
	u.mu.Unlock()

	if uploadID != "" {
		if err := u.client.Abort(uploadID); err != nil {
			u.logger.Warn().Err(err).Str("upload_id", uploadID).Msg("failed to abort upload on server")
			return err
		}
	}
	u.logger.Info().Msg("upload cancelled")
	return nil
}

// reset clears per-upload state. Caller holds u.mu.
func (u *Uploader) reset() {
	u.state = StateIdle
	u.session = sessionInfo{}
	u.completed = make(map[int]api.CompletedPart)
	u.urls = make(map[int]string)
	u.uploaded = 0
	u.fileURL = ""
	u.lastErr = nil
	u.cancelRun = nil
	u.gen++
}

// =============================================================================
// Worker pool
// =============================================================================

// run executes the worker pool over all still-pending parts, then finalizes.
func (u *Uploader) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	u.mu.Lock()
	u.state = StateUploading
	u.cancelRun = cancel
	gen := u.gen
	pending := make([]int, 0, u.session.totalParts)
	for n := 1; n <= u.session.totalParts; n++ {
		if _, done := u.completed[n]; !done {
			pending = append(pending, n)
		}
	}
	u.mu.Unlock()

	workers := u.config.Concurrency
	if workers > len(pending) {
		workers = len(pending)
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	jobs := make(chan int)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range jobs {
				if runCtx.Err() != nil {
					return
				}
				if err := u.uploadPart(runCtx, gen, n); err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
					cancel()
					return
				}
			}
		}()
	}

feed:
	for _, n := range pending {
		select {
		case jobs <- n:
		case <-runCtx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	// Pause and Cancel win over the context error their cancellation
	// caused; Cancel has already reset the state to idle.
	u.mu.Lock()
	state := u.state
	u.cancelRun = nil
	u.mu.Unlock()
	if state == StatePaused || state == StateIdle {
		return nil
	}

	if firstErr != nil {
		return u.fail(firstErr)
	}
	if err := ctx.Err(); err != nil {
		return u.fail(err)
	}

	return u.complete()
}

// uploadPart PUTs one part, retrying with backoff and a fresh presigned URL
// per attempt.
func (u *Uploader) uploadPart(ctx context.Context, gen, partNumber int) error {
	offset, length := u.partRange(partNumber)

	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := u.config.backoff(attempt - 1)
			u.logger.Debug().
				Int("part", partNumber).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying part upload")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		url, err := u.partURL(ctx, partNumber, attempt > 0)
		if err != nil {
			lastErr = err
			continue
		}

		etag, err := u.putPart(ctx, url, offset, length)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		u.recordPart(gen, partNumber, etag, length)
		return nil
	}

	return fmt.Errorf("part %d failed after %d retries: %w", partNumber, u.config.MaxRetries, lastErr)
}

// partURL returns the presigned URL for a part, minting a fresh one when
// there is no cached URL or the caller demands one (retries: the cached URL
// may have expired or been the problem).
func (u *Uploader) partURL(ctx context.Context, partNumber int, fresh bool) (string, error) {
	u.mu.Lock()
	url, ok := u.urls[partNumber]
	uploadID := u.session.uploadID
	u.mu.Unlock()

	if ok && !fresh {
		return url, nil
	}

	resp, err := u.client.Presign(api.PresignRequest{
		UploadID:    uploadID,
		PartNumbers: []int{partNumber},
	})
	if err != nil {
		return "", fmt.Errorf("presign part %d: %w", partNumber, err)
	}
	if len(resp.PresignedParts) != 1 {
		return "", fmt.Errorf("presign part %d: server returned %d urls", partNumber, len(resp.PresignedParts))
	}

	url = resp.PresignedParts[0].URL
	u.mu.Lock()
	u.urls[partNumber] = url
	u.mu.Unlock()
	return url, nil
}

// putPart performs the raw PUT of one byte range. No Content-Type header:
// adding one invalidates the presigned signature. The response ETag is the
// value reported back on complete.
func (u *Uploader) putPart(ctx context.Context, url string, offset, length int64) (string, error) {
	u.mu.Lock()
	source := u.source
	u.mu.Unlock()

	body, err := source.ReadPart(offset, length)
	if err != nil {
		return "", err
	}
	hashed := newMD5Reader(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, hashed)
	if err != nil {
		return "", err
	}
	req.ContentLength = length

	resp, err := u.config.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("part upload failed with status %d: %s", resp.StatusCode, snippet)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", errors.New("no ETag in part upload response")
	}

	// Plain-MD5 ETags are checked against the digest computed during the
	// PUT; encrypted or composite ETags cannot be verified locally.
	if etagIsPlainMD5(etag) && !etagMatchesMD5(etag, hashed.Sum()) {
		u.logger.Warn().
			Str("etag", etag).
			Str("local_md5", hashed.Sum()).
			Msg("part ETag does not match local MD5")
	}
	return etag, nil
}

// recordPart stores a completed part and advances the progress counter.
// Records from a stale generation are dropped: their upload was cancelled
// and the maps now belong to a different run.
func (u *Uploader) recordPart(gen, partNumber int, etag string, size int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen {
		return
	}
	if _, done := u.completed[partNumber]; done {
		return
	}
	u.completed[partNumber] = api.CompletedPart{
		PartNumber: partNumber,
		ETag:       etag,
		Size:       size,
	}
	u.uploaded += size
}

// partRange returns the byte range of a part; the final part may be short.
func (u *Uploader) partRange(partNumber int) (offset, length int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	offset = int64(partNumber-1) * u.session.partSize
	end := offset + u.session.partSize
	if size := u.source.Size(); end > size {
		end = size
	}
	return offset, end - offset
}

// =============================================================================
// Finalize
// =============================================================================

// complete reports the full parts list to the coordinator.
func (u *Uploader) complete() error {
	u.mu.Lock()
	parts := make([]api.CompletedPart, 0, len(u.completed))
	for n := 1; n <= u.session.totalParts; n++ {
		parts = append(parts, u.completed[n])
	}
	uploadID := u.session.uploadID
	u.mu.Unlock()

	resp, err := u.client.Complete(api.CompleteRequest{
		UploadID: uploadID,
		Parts:    parts,
	})
	if err != nil {
		// Completed parts stay intact: calling Start again would restart,
		// but a caller inspecting the failure may retry completion
		// out-of-band since the session is still in uploading status.
		return u.fail(fmt.Errorf("complete upload: %w", err))
	}

	u.mu.Lock()
	u.state = StateCompleted
	u.fileURL = resp.FileURL
	u.mu.Unlock()

	u.logger.Info().
		Str("upload_id", uploadID).
		Str("file_url", resp.FileURL).
		Msg("upload completed")
	return nil
}

// simplePut uploads the whole file with one PUT. The presigned URL was
// signed with the content type, so the PUT must carry the same header.
func (u *Uploader) simplePut(ctx context.Context, initResp *api.InitResponse) error {
	u.mu.Lock()
	u.state = StateUploading
	source := u.source
	mimeType := u.mimeType
	u.mu.Unlock()

	size := source.Size()

	var lastErr error
	for attempt := 0; attempt <= u.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return u.fail(ctx.Err())
			case <-time.After(u.config.backoff(attempt - 1)):
			}
		}

		body, err := source.ReadPart(0, size)
		if err != nil {
			return u.fail(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, initResp.PresignedURL, body)
		if err != nil {
			return u.fail(err)
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", mimeType)

		resp, err := u.config.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return u.fail(ctx.Err())
			}
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("simple upload failed with status %d", resp.StatusCode)
			continue
		}

		u.mu.Lock()
		u.state = StateCompleted
		u.uploaded = size
		u.fileURL = initResp.FileURL
		u.mu.Unlock()

		u.logger.Info().Str("file_url", initResp.FileURL).Msg("simple upload completed")
		return nil
	}

	return u.fail(fmt.Errorf("simple upload failed after %d retries: %w", u.config.MaxRetries, lastErr))
}

// fail moves the uploader to failed, keeping completed parts intact.
func (u *Uploader) fail(err error) error {
	u.mu.Lock()
	u.state = StateFailed
	u.lastErr = err
	u.cancelRun = nil
	u.mu.Unlock()
	u.logger.Error().Err(err).Msg("upload failed")
	return err
}
