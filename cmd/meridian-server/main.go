// Package main is the entry point for the Meridian upload coordinator.
// Meridian manages chunked, resumable uploads to S3-compatible object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	memorycache "github.com/prn-tf/meridian/internal/cache/memory"
	"github.com/prn-tf/meridian/internal/config"
	"github.com/prn-tf/meridian/internal/handler"
	"github.com/prn-tf/meridian/internal/lock"
	"github.com/prn-tf/meridian/internal/metrics"
	"github.com/prn-tf/meridian/internal/repository"
	memoryrepo "github.com/prn-tf/meridian/internal/repository/memory"
	postgresrepo "github.com/prn-tf/meridian/internal/repository/postgres"
	redisrepo "github.com/prn-tf/meridian/internal/repository/redis"
	sqliterepo "github.com/prn-tf/meridian/internal/repository/sqlite"
	"github.com/prn-tf/meridian/internal/service"
	"github.com/prn-tf/meridian/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(*configPath)
	logger := newLogger(cfg.Logging)

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting Meridian upload coordinator")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis client is shared by the redis session store and the redis lock.
	var redisClient *redis.Client
	if cfg.SessionStore.Driver == "redis" || cfg.Lock.Driver == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to redis")
	}

	sessionRepo, closeRepo, err := newSessionRepository(ctx, cfg, redisClient, logger)
	if err != nil {
		return fmt.Errorf("session store init failed: %w", err)
	}
	defer closeRepo()

	var locker lock.Locker
	switch cfg.Lock.Driver {
	case "redis":
		locker = lock.NewRedisLocker(redisClient)
	case "noop":
		locker = lock.NewNoOpLocker()
	default:
		locker = lock.NewMemoryLocker()
	}

	gateway, err := storage.NewS3Gateway(ctx, storage.S3Config{
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Endpoint:        cfg.S3.Endpoint,
		UsePathStyle:    cfg.S3.UsePathStyle,
		PublicBaseURL:   cfg.S3.PublicBaseURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}

	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	urlCache := memorycache.NewCache()
	defer urlCache.Stop()

	uploadService := service.NewUploadService(sessionRepo, gateway, locker, m, logger, service.UploadConfig{
		SimpleUploadThreshold: cfg.Upload.SimpleUploadThreshold,
		MaxFileSize:           cfg.Upload.MaxFileSize,
		PresignTTL:            cfg.Upload.PresignTTL,
		DownloadTTL:           cfg.Upload.DownloadTTL,
		EagerPresignBatch:     cfg.Upload.EagerPresignBatch,
		MaxPresignBatch:       cfg.Upload.MaxPresignBatch,
	}).WithDownloadURLCache(urlCache)

	cleanupService := service.NewCleanupService(sessionRepo, gateway, locker, m, logger, service.CleanupConfig{
		Enabled:   cfg.Cleanup.Enabled,
		Interval:  cfg.Cleanup.Interval,
		Retention: cfg.Cleanup.Retention,
		BatchSize: cfg.Cleanup.BatchSize,
	})
	if cfg.Cleanup.Enabled {
		cleanupService.Start()
		defer cleanupService.Stop()
	}

	router := handler.NewRouter(handler.RouterConfig{
		UploadHandler:  handler.NewUploadHandler(uploadService, logger),
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// newSessionRepository builds the configured session store and returns it
// with a close function for the underlying connection, if any.
func newSessionRepository(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (repository.SessionRepository, func(), error) {
	noop := func() {}

	switch cfg.SessionStore.Driver {
	case "redis":
		return redisrepo.NewSessionRepository(redisClient, logger), noop, nil

	case "sqlite":
		db, err := sqliterepo.NewDB(ctx, sqliterepo.Config{
			Path:            cfg.SessionStore.Path,
			BusyTimeout:     cfg.SessionStore.BusyTimeout,
			JournalMode:     cfg.SessionStore.JournalMode,
			SynchronousMode: cfg.SessionStore.SynchronousMode,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return sqliterepo.NewSessionRepository(db, logger), func() { db.Close() }, nil

	case "postgres":
		db, err := postgresrepo.NewDB(ctx, postgresrepo.Config{
			Host:            cfg.SessionStore.Host,
			Port:            cfg.SessionStore.Port,
			User:            cfg.SessionStore.User,
			Password:        cfg.SessionStore.Password,
			Database:        cfg.SessionStore.Database,
			SSLMode:         cfg.SessionStore.SSLMode,
			MaxOpenConns:    cfg.SessionStore.MaxOpenConns,
			MaxIdleConns:    cfg.SessionStore.MaxIdleConns,
			ConnMaxLifetime: cfg.SessionStore.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.SessionStore.ConnMaxIdleTime,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		return postgresrepo.NewSessionRepository(db, logger), func() { db.Close() }, nil

	default:
		return memoryrepo.NewSessionRepository(), noop, nil
	}
}

// newLogger builds the root logger from the logging config.
func newLogger(cfg config.Logging) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
