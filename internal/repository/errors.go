package repository

import "errors"

// Repository errors
var (
	// ErrUnavailable indicates the persistence backend could not be reached.
	ErrUnavailable = errors.New("session store unavailable")
)
