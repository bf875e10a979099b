// Package uploader implements the client-side chunked upload engine: a
// bounded worker pool that moves file parts to presigned URLs with retry,
// pause/resume, and cancellation.
package uploader

import (
	"net/http"
	"time"
)

// Config contains tunables for the chunked uploader.
type Config struct {
	// ServerURL is the base URL of the upload coordinator.
	ServerURL string

	// Concurrency is the worker pool size. Tune between 2 and 8 depending
	// on expected bandwidth.
	Concurrency int

	// MaxRetries is how many times a single part upload is retried before
	// the whole upload fails.
	MaxRetries int

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration

	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration

	// HTTPClient performs the part PUTs. Defaults to a client with a
	// generous timeout sized for large parts.
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(serverURL string) Config {
	return Config{
		ServerURL:   serverURL,
		Concurrency: 4,
		MaxRetries:  5,
		BackoffBase: 1 * time.Second,
		BackoffCap:  30 * time.Second,
	}
}

func (c *Config) withDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 1 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
}

// backoff returns the delay before retry number attempt (0-based),
// doubling from BackoffBase up to BackoffCap.
func (c *Config) backoff(attempt int) time.Duration {
	d := c.BackoffBase << attempt
	if d > c.BackoffCap || d <= 0 {
		return c.BackoffCap
	}
	return d
}
