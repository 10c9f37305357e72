package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("profile not found")
	ErrInvalidPath = errors.New("invalid database path")
)
