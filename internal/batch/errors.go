package batch

import "errors"

// Sentinel kinds for batch engine errors.
var (
	// ErrNoJob reports that no state record exists for a job kind.
	ErrNoJob = errors.New("no job of this kind")
)
