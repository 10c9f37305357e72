package importer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/domain/dedupe"
	"github.com/okian/trellis/internal/domain/model"
	"github.com/okian/trellis/pkg/logger"
	"github.com/okian/trellis/pkg/metrics"
)

// Import job defaults.
const (
	// DefaultBatchSize bounds lines parsed and inserted per tick.
	DefaultBatchSize = 2000

	// JobKind identifies the import job state record.
	JobKind = "import"

	// maxLineBytes caps a single CSV line; event payloads can be large.
	maxLineBytes = 1 << 20
)

// EventStore is the sink for imported events.
type EventStore interface {
	// InsertEvent appends the event, returning false when the event id
	// was already stored. Duplicates are a success variant, not an error.
	InsertEvent(ctx context.Context, ev model.Event) (bool, error)

	// RegisterEventTypes records titles for event types first seen during
	// an import, without overwriting configured ones.
	RegisterEventTypes(ctx context.Context, types map[string]string) error
}

// ReferenceClock is refreshed once after a completed import so derived
// dates include the new events.
type ReferenceClock interface {
	Refresh(ctx context.Context) error
}

// Job imports one stored CSV file through the batch engine. The cursor
// is a line offset into the file; ticks re-open the file and seek by
// line, so no handle survives between ticks.
type Job struct {
	store   EventStore
	clock   ReferenceClock
	deduper dedupe.Deduper
	log     logger.Logger

	path      string
	batchSize int
}

// Option applies a configuration option to the import Job.
type Option func(*Job)

// WithSourceFile sets the stored CSV file to import. Required for Start;
// resumed jobs recover it from state metadata instead.
func WithSourceFile(path string) Option {
	return func(j *Job) {
		j.path = path
	}
}

// WithBatchSize bounds lines per tick.
func WithBatchSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithDeduper installs an in-memory seen-id cache consulted before
// hitting the store. The store's unique key stays authoritative; the
// cache just short-circuits repeat ids within and across recent files.
func WithDeduper(d dedupe.Deduper) Option {
	return func(j *Job) {
		j.deduper = d
	}
}

// WithLogger sets a custom logger for the job.
func WithLogger(log logger.Logger) Option {
	return func(j *Job) {
		if log != nil {
			j.log = log
		}
	}
}

// NewJob creates an import job writing to store.
func NewJob(store EventStore, clock ReferenceClock, opts ...Option) *Job {
	j := &Job{
		store:     store,
		clock:     clock,
		batchSize: DefaultBatchSize,
		log:       logger.Get().Named("import"),
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Kind implements batch.Job.
func (j *Job) Kind() string { return JobKind }

// Prepare counts data lines, detects a header row, and stashes the file
// path in state metadata so a restarted process can resume the job.
func (j *Job) Prepare(ctx context.Context, st *batch.State) error {
	if j.path == "" {
		return errors.New("no source file configured")
	}

	total, hasHeader, err := scanFile(j.path)
	if err != nil {
		return err
	}
	if total == 0 {
		_ = os.Remove(j.path)
		return ErrEmptyFile
	}

	st.Total = total
	st.SetCursorInt(0)
	st.SetMeta(batch.MetaSourceFile, j.path)
	if hasHeader {
		st.SetMeta(batch.MetaHasHeader, "true")
	}
	return nil
}

// Tick parses and inserts up to the batch size of lines starting at the
// cursor. Malformed and incomplete rows are counted and skipped; only a
// store failure aborts the tick, with the cursor left at the failed
// line so the next tick retries it.
func (j *Job) Tick(ctx context.Context, st *batch.State) (bool, error) {
	path := st.Meta[batch.MetaSourceFile]
	offset, err := st.CursorInt()
	if err != nil {
		return false, err
	}

	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	if st.MetaBool(batch.MetaHasHeader) && !sc.Scan() {
		return true, sc.Err()
	}
	for skipped := 0; skipped < offset && sc.Scan(); skipped++ {
	}

	newTypes := make(map[string]string)
	read := 0
	for read < j.batchSize && sc.Scan() {
		line := sc.Text()
		inserted, err := j.importLine(ctx, line, newTypes)
		if err != nil {
			// Commit progress for the lines before the failed one and
			// leave the cursor pointing at it for retry.
			st.Processed += read
			st.SetCursorInt(offset + read)
			j.registerTypes(ctx, newTypes)
			return false, err
		}
		read++
		if inserted {
			st.Written++
		}
	}
	if err := sc.Err(); err != nil {
		return false, fmt.Errorf("read import file: %w", err)
	}

	st.Processed += read
	st.SetCursorInt(offset + read)
	j.registerTypes(ctx, newTypes)

	return read == 0 || st.Processed >= st.Total, nil
}

// Finish removes the consumed file and refreshes the reference clock so
// the new events move the derived date window.
func (j *Job) Finish(ctx context.Context) error {
	path := j.path
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.log.Warn(ctx, "removing imported file", logger.Error(err))
		}
	}
	if err := j.clock.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh reference clock: %w", err)
	}
	return nil
}

// Cancelled implements batch.Canceller: a cancelled import discards its
// source file; already-imported rows are retained.
func (j *Job) Cancelled(ctx context.Context) error {
	if j.path == "" {
		return nil
	}
	if err := os.Remove(j.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove import file: %w", err)
	}
	return nil
}

// SetSourceFile rebinds the job to a new stored CSV file before a fresh
// Start.
func (j *Job) SetSourceFile(path string) {
	j.path = path
}

// RestoreFromState rebinds a job to the file recorded in a persisted
// state, used when resuming after a restart.
func (j *Job) RestoreFromState(st batch.State) {
	if path := st.Meta[batch.MetaSourceFile]; path != "" {
		j.path = path
	}
}

// importLine handles one CSV line; the bool reports whether a new event
// row was stored.
func (j *Job) importLine(ctx context.Context, line string, newTypes map[string]string) (bool, error) {
	ev, err := ParseLine(line)
	if err != nil {
		metrics.RecordEventInvalid()
		return false, nil
	}
	if err := Validate(ev); err != nil {
		metrics.RecordEventInvalid()
		return false, nil
	}

	if j.deduper != nil && j.deduper.SeenAndRecord(ctx, ev.EventID) {
		metrics.RecordEventDuplicate()
		return false, nil
	}

	inserted, err := j.store.InsertEvent(ctx, ev)
	if err != nil {
		if j.deduper != nil {
			// Let a later retry reach the store again.
			j.deduper.Unrecord(ctx, ev.EventID)
		}
		return false, fmt.Errorf("insert event %s: %w", ev.EventID, err)
	}
	if !inserted {
		metrics.RecordEventDuplicate()
		return false, nil
	}

	metrics.RecordEventImported()
	if _, seen := newTypes[ev.Type]; !seen {
		newTypes[ev.Type] = titleize(ev.Type)
	}
	return true, nil
}

func (j *Job) registerTypes(ctx context.Context, types map[string]string) {
	if len(types) == 0 {
		return
	}
	if err := j.store.RegisterEventTypes(ctx, types); err != nil {
		j.log.Warn(ctx, "registering event types", logger.Error(err))
	}
}

// scanFile counts data lines and sniffs a header row.
func scanFile(path string) (total int, hasHeader bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	first := true
	for sc.Scan() {
		if first {
			first = false
			if IsHeader(sc.Text()) {
				hasHeader = true
				continue
			}
		}
		total++
	}
	if err := sc.Err(); err != nil {
		return 0, false, fmt.Errorf("read import file: %w", err)
	}
	return total, hasHeader, nil
}

// titleize derives a display title from a type tag, e.g. "forum_post"
// becomes "Forum Post".
func titleize(tag string) string {
	words := strings.Split(tag, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
