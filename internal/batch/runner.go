package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/trellis/pkg/logger"
	"github.com/okian/trellis/pkg/metrics"
)

// defaultTickDelay is the pause between ticks while work remains.
const defaultTickDelay = time.Second

// Runner owns the lifecycle of one job kind: it persists the state
// record, runs ticks synchronously, and keeps exactly one future tick
// scheduled while the job is processing. Suspension between ticks is a
// timer, never a blocked goroutine.
type Runner struct {
	job    Job
	states StateRepo
	delay  time.Duration
	notify func(ctx context.Context)
	log    logger.Logger

	mu    sync.Mutex
	timer *time.Timer
	ctx   context.Context // base context for scheduled ticks
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithTickDelay sets the pause between ticks.
func WithTickDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.delay = d
		}
	}
}

// WithCompletionHook registers the notification fired exactly once when
// the job completes. It does not fire on cancellation.
func WithCompletionHook(fn func(ctx context.Context)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.notify = fn
		}
	}
}

// WithLogger sets a custom logger for the runner.
func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRunner creates a runner for job, persisting state through states.
func NewRunner(job Job, states StateRepo, opts ...Option) *Runner {
	r := &Runner{
		job:    job,
		states: states,
		delay:  defaultTickDelay,
		log:    logger.Get().Named("batch"),
		ctx:    context.Background(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins a fresh run. Any prior record of this kind is cleared
// and replaced; there is never more than one outstanding job per kind. A job sized to zero completes immediately, firing the
// completion notification without ever scheduling a tick.
func (r *Runner) Start(ctx context.Context) (State, error) {
	r.stopTimer()

	if prev, ok, err := r.states.JobState(ctx, r.job.Kind()); err != nil {
		return State{}, fmt.Errorf("load job state: %w", err)
	} else if ok {
		if prev.Status == StatusProcessing {
			r.log.Warn(ctx, "replacing unfinished job",
				logger.String("kind", r.job.Kind()),
				logger.Int("processed", prev.Processed),
			)
		}
		// Clear rather than overwrite, so a failed Prepare does not
		// leave a stale record posing as the new run.
		if err := r.states.ClearJobState(ctx, r.job.Kind()); err != nil {
			return State{}, fmt.Errorf("clear job state: %w", err)
		}
	}

	st := State{
		Kind:      r.job.Kind(),
		Status:    StatusProcessing,
		StartedAt: time.Now().UTC(),
	}
	if err := r.job.Prepare(ctx, &st); err != nil {
		return State{}, fmt.Errorf("prepare %s job: %w", r.job.Kind(), err)
	}

	if st.Total == 0 {
		if err := r.complete(ctx, &st); err != nil {
			return st, err
		}
		return st, nil
	}

	if err := r.states.SaveJobState(ctx, st); err != nil {
		return State{}, fmt.Errorf("save job state: %w", err)
	}

	r.setBaseContext(ctx)
	r.scheduleTick()
	return st, nil
}

// Resume re-arms the tick timer for a job left in processing, e.g. after
// a restart. It is a no-op when no processing record exists.
func (r *Runner) Resume(ctx context.Context) error {
	st, ok, err := r.states.JobState(ctx, r.job.Kind())
	if err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	if !ok || st.Status != StatusProcessing {
		return nil
	}

	r.log.Info(ctx, "resuming job",
		logger.String("kind", r.job.Kind()),
		logger.Int("processed", st.Processed),
		logger.Int("total", st.Total),
	)
	r.setBaseContext(ctx)
	r.scheduleTick()
	return nil
}

// Cancel stops the job cooperatively: the pending tick is removed and
// the record marked cancelled. An in-flight tick always completes, and
// partial writes are retained, not rolled back.
func (r *Runner) Cancel(ctx context.Context) error {
	r.stopTimer()

	st, ok, err := r.states.JobState(ctx, r.job.Kind())
	if err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	if !ok || st.Status != StatusProcessing {
		return nil
	}

	st.Status = StatusCancelled
	if err := r.states.SaveJobState(ctx, st); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}

	if c, ok := r.job.(Canceller); ok {
		if err := c.Cancelled(ctx); err != nil {
			r.log.Warn(ctx, "job cancellation cleanup failed",
				logger.String("kind", r.job.Kind()),
				logger.Error(err),
			)
		}
	}

	r.log.Info(ctx, "job cancelled", logger.String("kind", r.job.Kind()))
	return nil
}

// Stop disarms any pending tick without touching the state record. A
// processing job stays processing and is picked up by Resume after a
// restart.
func (r *Runner) Stop() {
	r.stopTimer()
}

// Status returns the current state record, readable whether or not a
// tick is running.
func (r *Runner) Status(ctx context.Context) (State, bool, error) {
	return r.states.JobState(ctx, r.job.Kind())
}

// RunTick executes one tick synchronously: load state, do one bounded
// batch, persist, and either re-schedule or complete. Cancellation is
// only observed here, at the start of a tick.
func (r *Runner) RunTick(ctx context.Context) error {
	st, ok, err := r.states.JobState(ctx, r.job.Kind())
	if err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	if !ok || st.Status != StatusProcessing {
		return nil
	}

	metrics.RecordBatchTick(r.job.Kind())

	done, tickErr := r.job.Tick(ctx, &st)

	// A cancel may have landed while the tick ran. The cancelled record
	// wins: this tick's progress is dropped (the work itself is
	// idempotent) and the timer stays disarmed.
	cur, ok, err := r.states.JobState(ctx, r.job.Kind())
	if err != nil {
		return fmt.Errorf("load job state: %w", err)
	}
	if !ok || cur.Status != StatusProcessing {
		r.log.Info(ctx, "dropping tick for job no longer processing",
			logger.String("kind", r.job.Kind()),
		)
		return tickErr
	}

	if tickErr != nil {
		// Keep progress made before the failure and leave the job in
		// processing; the next scheduled tick retries from the cursor.
		if err := r.states.SaveJobState(ctx, st); err != nil {
			r.log.Error(ctx, "saving job state after failed tick", logger.Error(err))
		}
		r.log.Error(ctx, "tick failed; will retry",
			logger.String("kind", r.job.Kind()),
			logger.Error(tickErr),
		)
		r.scheduleTick()
		return tickErr
	}

	metrics.UpdateJobProgress(r.job.Kind(), st.Processed, st.Total)

	if done {
		return r.complete(ctx, &st)
	}

	if err := r.states.SaveJobState(ctx, st); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	r.scheduleTick()
	return nil
}

// complete finalizes the record, runs the job's cleanup and fires the
// completion notification once.
func (r *Runner) complete(ctx context.Context, st *State) error {
	now := time.Now().UTC()
	st.Status = StatusCompleted
	st.CompletedAt = &now

	if err := r.states.SaveJobState(ctx, *st); err != nil {
		return fmt.Errorf("save job state: %w", err)
	}

	if err := r.job.Finish(ctx); err != nil {
		r.log.Error(ctx, "job finish hook failed",
			logger.String("kind", r.job.Kind()),
			logger.Error(err),
		)
	}

	metrics.UpdateJobProgress(r.job.Kind(), st.Processed, st.Total)
	r.log.Info(ctx, "job completed",
		logger.String("kind", r.job.Kind()),
		logger.Int("processed", st.Processed),
		logger.Int("written", st.Written),
	)

	if r.notify != nil {
		r.notify(ctx)
	}
	return nil
}

// scheduleTick arms the tick timer unless one is already pending, so at
// most one future tick exists at any moment.
func (r *Runner) scheduleTick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		return
	}
	r.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		r.timer = nil
		ctx := r.ctx
		r.mu.Unlock()

		// Errors are already logged and retried from within RunTick.
		_ = r.RunTick(ctx)
	})
}

func (r *Runner) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Runner) setBaseContext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = context.WithoutCancel(ctx)
}
