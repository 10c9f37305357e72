package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/trellis/internal/batch"
)

// Generation job defaults.
const (
	// DefaultGenerationBatchSize bounds contributors recomputed per tick.
	DefaultGenerationBatchSize = 500

	// GenerationJobKind identifies the profile generation job state record.
	GenerationJobKind = "profiles"
)

// PendingSource finds contributors whose profile is missing or older than
// their newest event. The query itself is the cursor: recomputing a
// profile stamps ComputedAt past every event date, so the pending set
// shrinks tick over tick without an explicit offset.
type PendingSource interface {
	PendingContributors(ctx context.Context, minRegistered time.Time, ignored []string, limit int) ([]string, error)
	CountPendingContributors(ctx context.Context, minRegistered time.Time, ignored []string) (int, error)
}

// RefreshableClock extends ReferenceClock with the refresh hook the
// generation job fires before counting work.
type RefreshableClock interface {
	ReferenceClock
	StartDate(ctx context.Context) (time.Time, error)
	Refresh(ctx context.Context) error
}

// GenerationJob drives full profile (re)computation through the batch
// engine. Contributors are independent units of work; processing order
// across them is unspecified.
type GenerationJob struct {
	pending   PendingSource
	agg       *Aggregator
	clock     RefreshableClock
	ignored   []string
	batchSize int
}

// GenerationOption applies a configuration option to the GenerationJob.
type GenerationOption func(*GenerationJob)

// WithGenerationBatchSize bounds contributors per tick.
func WithGenerationBatchSize(n int) GenerationOption {
	return func(j *GenerationJob) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithGenerationIgnoredTypes sets the event types excluded from the
// pending-work queries. Must match the aggregator's ignored set.
func WithGenerationIgnoredTypes(types []string) GenerationOption {
	return func(j *GenerationJob) {
		j.ignored = types
	}
}

// NewGenerationJob creates a profile generation job.
func NewGenerationJob(pending PendingSource, agg *Aggregator, clock RefreshableClock, opts ...GenerationOption) *GenerationJob {
	j := &GenerationJob{
		pending:   pending,
		agg:       agg,
		clock:     clock,
		batchSize: DefaultGenerationBatchSize,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Kind implements batch.Job.
func (j *GenerationJob) Kind() string { return GenerationJobKind }

// Prepare refreshes the reference clock from the store, snapshots the
// registration-date filter into the job state, and counts pending work.
func (j *GenerationJob) Prepare(ctx context.Context, st *batch.State) error {
	if err := j.clock.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh reference clock: %w", err)
	}

	minRegistered, err := j.clock.StartDate(ctx)
	if err != nil {
		return fmt.Errorf("reference start date: %w", err)
	}

	total, err := j.pending.CountPendingContributors(ctx, minRegistered, j.ignored)
	if err != nil {
		return fmt.Errorf("count pending contributors: %w", err)
	}

	st.Total = total
	st.SetMeta(batch.MetaMinRegistered, minRegistered.UTC().Format(time.RFC3339))
	return nil
}

// Tick recomputes one bounded batch of pending contributors.
func (j *GenerationJob) Tick(ctx context.Context, st *batch.State) (bool, error) {
	minRegistered, err := st.MetaTime(batch.MetaMinRegistered)
	if err != nil {
		return false, fmt.Errorf("job state min registered date: %w", err)
	}

	ids, err := j.pending.PendingContributors(ctx, minRegistered, j.ignored, j.batchSize)
	if err != nil {
		return false, fmt.Errorf("query pending contributors: %w", err)
	}
	if len(ids) == 0 {
		return true, nil
	}

	for _, id := range ids {
		written, err := j.agg.Compute(ctx, id)
		if err != nil {
			// Abort the tick here; already-written profiles stand and the
			// pending query will resurface this contributor next tick.
			return false, err
		}
		st.Processed++
		if written {
			st.Written++
		}
	}

	return false, nil
}

// Finish implements batch.Job; cleanup is not needed, the completion
// notification is the runner's job.
func (j *GenerationJob) Finish(ctx context.Context) error { return nil }
