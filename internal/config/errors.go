package config

import (
	"errors"
)

// Sentinel errors surfaced by Load. Callers branch with errors.Is to
// tell a bad value apart from an unreadable config source.
var (
	ErrInvalidConfig = errors.New("invalid trellis config")
	ErrLoadConfig    = errors.New("read trellis config")
)
