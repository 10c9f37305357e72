// Package batch drives resumable, checkpointed jobs: bounded ticks of
// work with durable state between them, re-scheduled until exhausted.
//
// The engine is at-least-once per tick. A crash between doing work and
// persisting the cursor replays the last batch, so every unit of work a
// job performs must be idempotent (event inserts skip duplicates,
// profile writes are whole-row upserts).
package batch

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Status of a job state record.
type Status string

// Job statuses. A job re-enters processing only through an explicit
// Start or Resume.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Well-known metadata keys jobs stash in their state record.
const (
	// MetaMinRegistered is the registration-date filter snapshot taken by
	// the profile generation job at start.
	MetaMinRegistered = "min_registered_date"

	// MetaSourceFile and MetaHasHeader let a crashed import resume from
	// its stored file.
	MetaSourceFile = "source_file"
	MetaHasHeader  = "has_header"
)

// State is the durable record of one job kind. Exactly one record per
// kind exists at a time; starting a new job replaces it.
type State struct {
	Kind        string            `json:"kind"`
	Status      Status            `json:"status"`
	Total       int               `json:"total_to_process"`
	Processed   int               `json:"processed"`
	Written     int               `json:"written"` // units that changed storage (imported rows, written profiles)
	Cursor      string            `json:"cursor,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// PercentComplete reports progress to one decimal place.
func (s *State) PercentComplete() float64 {
	if s.Total <= 0 {
		return 0
	}
	const decimal = 10
	pct := float64(s.Processed) / float64(s.Total) * 100
	return float64(int(pct*decimal+0.5)) / decimal
}

// SetMeta records a metadata entry, allocating the map on first use.
func (s *State) SetMeta(key, value string) {
	if s.Meta == nil {
		s.Meta = make(map[string]string)
	}
	s.Meta[key] = value
}

// MetaTime parses a metadata entry as RFC3339; a missing or empty entry
// yields the zero time.
func (s *State) MetaTime(key string) (time.Time, error) {
	raw := s.Meta[key]
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("meta %q: %w", key, err)
	}
	return t, nil
}

// MetaBool parses a metadata entry as a boolean; missing means false.
func (s *State) MetaBool(key string) bool {
	b, _ := strconv.ParseBool(s.Meta[key])
	return b
}

// CursorInt parses the cursor as an integer offset; empty means zero.
func (s *State) CursorInt() (int, error) {
	if s.Cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s.Cursor)
	if err != nil {
		return 0, fmt.Errorf("cursor %q: %w", s.Cursor, err)
	}
	return n, nil
}

// SetCursorInt stores an integer offset as the cursor.
func (s *State) SetCursorInt(n int) {
	s.Cursor = strconv.Itoa(n)
}

// StateRepo persists job state records by kind. Only the runner that
// owns a kind writes its record.
type StateRepo interface {
	// JobState loads the record for kind; ok is false when none exists.
	JobState(ctx context.Context, kind string) (State, bool, error)

	// SaveJobState writes the whole record.
	SaveJobState(ctx context.Context, st State) error

	// ClearJobState removes the record for kind.
	ClearJobState(ctx context.Context, kind string) error
}

// Job is one resumable job kind plugged into a Runner.
type Job interface {
	// Kind names the job's state record.
	Kind() string

	// Prepare sizes the job and seeds cursor/meta on a fresh state.
	// Called once per Start, never on resume.
	Prepare(ctx context.Context, st *State) error

	// Tick performs one bounded batch, advancing Processed/Written and
	// the cursor on st. It returns true when no work remains. On error
	// the runner persists whatever progress st already reflects and
	// retries the tick later; Tick must not advance the cursor past a
	// failed unit.
	Tick(ctx context.Context, st *State) (bool, error)

	// Finish runs exactly once after the final tick, before the
	// completion notification fires.
	Finish(ctx context.Context) error
}

// Canceller is an optional Job extension for cleanup when a job is
// cancelled rather than completed.
type Canceller interface {
	Cancelled(ctx context.Context) error
}
