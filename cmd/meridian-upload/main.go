// Package main is the entry point for the Meridian upload CLI. It moves a
// local file to object storage through a Meridian coordinator, uploading
// parts concurrently with automatic retry.
package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/uploader"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		serverURL   = flag.String("server", getEnv("MERIDIAN_SERVER_URL", "http://localhost:8080"), "coordinator base URL")
		contentType = flag.String("content-type", "", "MIME type (default: derived from the file extension)")
		concurrency = flag.Int("concurrency", 4, "number of parts uploaded in parallel")
		retries     = flag.Int("retries", 5, "max retries per part")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("meridian-upload %s\n", Version)
		fmt.Printf("  build time: %s\n", BuildTime)
		fmt.Printf("  git commit: %s\n", GitCommit)
		return
	}

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: meridian-upload [flags] <file>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if err := run(path, *serverURL, *contentType, *concurrency, *retries, logger); err != nil {
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
}

func run(path, serverURL, contentType string, concurrency, retries int, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := uploader.OpenFileSource(path)
	if err != nil {
		return err
	}
	defer source.Close()

	filename := filepath.Base(path)
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(filename))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	cfg := uploader.DefaultConfig(serverURL)
	cfg.Concurrency = concurrency
	cfg.MaxRetries = retries
	u := uploader.New(cfg, logger)

	fmt.Printf("uploading %s (%s) to %s\n", filename, formatBytes(source.Size()), serverURL)

	progressDone := make(chan struct{})
	go reportProgress(u, progressDone)

	err = u.Start(ctx, source, filename, contentType)
	close(progressDone)
	if err != nil {
		// A second interrupt during abort still exits; best effort only.
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\ninterrupted, aborting upload")
			if abortErr := u.Cancel(); abortErr != nil {
				logger.Warn().Err(abortErr).Msg("server-side abort failed")
			}
		}
		return err
	}

	fmt.Printf("\ndone: %s\n", u.FileURL())
	return nil
}

// reportProgress redraws a progress line twice a second until done closes.
func reportProgress(u *uploader.Uploader, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fmt.Printf("\r%6.2f%%", u.Progress()*100)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
