package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/lock"
	"github.com/prn-tf/meridian/internal/metrics"
	"github.com/prn-tf/meridian/internal/repository"
	"github.com/prn-tf/meridian/internal/storage"
)

// CleanupService sweeps sessions that exceeded the retention window without
// completing. For each stale session it aborts the store's multipart upload
// so no incomplete parts leak, then deletes the session record.
type CleanupService struct {
	sessionRepo repository.SessionRepository
	gateway     storage.Gateway
	locker      lock.Locker
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	config      CleanupConfig

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// CleanupConfig contains cleanup sweeper configuration.
type CleanupConfig struct {
	// Enabled determines if the sweeper runs automatically.
	Enabled bool

	// Interval is how often to sweep.
	Interval time.Duration

	// Retention is how long an incomplete session may live.
	Retention time.Duration

	// BatchSize is the maximum number of sessions to reap per run.
	BatchSize int
}

// DefaultCleanupConfig returns sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Enabled:   true,
		Interval:  1 * time.Hour,
		Retention: 24 * time.Hour,
		BatchSize: 100,
	}
}

// NewCleanupService creates a new cleanup sweeper.
func NewCleanupService(
	sessionRepo repository.SessionRepository,
	gateway storage.Gateway,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config CleanupConfig,
) *CleanupService {
	return &CleanupService{
		sessionRepo: sessionRepo,
		gateway:     gateway,
		locker:      locker,
		metrics:     m,
		logger:      logger.With().Str("service", "cleanup").Logger(),
		config:      config,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (c *CleanupService) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info().
		Dur("interval", c.config.Interval).
		Dur("retention", c.config.Retention).
		Int("batch_size", c.config.BatchSize).
		Msg("Starting cleanup sweeper")

	go c.runLoop()
}

// Stop stops the sweep scheduler.
func (c *CleanupService) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopChan)
	<-c.doneChan

	c.logger.Info().Msg("Cleanup sweeper stopped")
}

// runLoop is the main sweep loop.
func (c *CleanupService) runLoop() {
	defer close(c.doneChan)

	// Run immediately on start
	c.RunOnce(context.Background())

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunOnce(context.Background())
		case <-c.stopChan:
			return
		}
	}
}

// CleanupResult contains the result of a sweep run.
type CleanupResult struct {
	// SessionsRemoved is the number of stale sessions deleted.
	SessionsRemoved int

	// Errors is the number of errors encountered.
	Errors int

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single sweep. Called by the scheduler and available for
// manual invocation from the admin CLI.
func (c *CleanupService) RunOnce(ctx context.Context) CleanupResult {
	start := time.Now()
	result := CleanupResult{}

	// Only one instance sweeps at a time.
	lockKey := lock.Keys.Cleanup()
	lockTTL := c.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := c.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to acquire cleanup lock")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		c.logger.Debug().Msg("Cleanup lock held by another process, skipping run")
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := c.locker.Release(ctx, lockKey); err != nil {
			c.logger.Error().Err(err).Msg("Failed to release cleanup lock")
		}
	}()

	cutoff := time.Now().UTC().Add(-c.config.Retention)
	stale, err := c.sessionRepo.ListStale(ctx, cutoff, c.config.BatchSize)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to list stale sessions")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}

	if len(stale) == 0 {
		c.logger.Debug().Msg("No stale sessions found")
		result.Duration = time.Since(start)
		if c.metrics != nil {
			c.metrics.CleanupLastRunTime.SetToCurrentTime()
		}
		return result
	}

	c.logger.Info().
		Int("count", len(stale)).
		Msg("Found stale sessions for cleanup")

	for _, sess := range stale {
		// Abort first so the store releases the parts; failures are
		// logged and the session is reaped anyway, since a dangling
		// store upload expires under the bucket's own lifecycle rules.
		if err := c.gateway.AbortMultipartUpload(ctx, sess.ObjectKey, sess.StorageUploadID); err != nil {
			c.logger.Warn().
				Err(err).
				Str("upload_id", sess.UploadID).
				Str("key", sess.ObjectKey).
				Msg("Failed to abort stale multipart upload")
		}

		if err := c.sessionRepo.Delete(ctx, sess.UploadID); err != nil {
			c.logger.Error().
				Err(err).
				Str("upload_id", sess.UploadID).
				Msg("Failed to delete stale session")
			result.Errors++
			continue
		}

		c.logger.Debug().
			Str("upload_id", sess.UploadID).
			Str("key", sess.ObjectKey).
			Time("created_at", sess.CreatedAt).
			Msg("Deleted stale session")

		result.SessionsRemoved++
	}

	result.Duration = time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordCleanupRun(result.SessionsRemoved)
	}

	c.logger.Info().
		Int("sessions_removed", result.SessionsRemoved).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Cleanup run completed")

	return result
}
