// Package refclock derives the synthetic "now" used everywhere instead
// of wall-clock time: the earliest and latest event dates in the store,
// persisted in settings so they survive restarts.
package refclock

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/trellis/pkg/logger"
)

// dateLayout is the persisted representation; the clock is day-grained.
const dateLayout = "2006-01-02"

// Settings keys.
const (
	keyStartDate = "reference_start_date"
	keyEndDate   = "reference_end_date"
)

// EventBounds reads the event date window from the store.
type EventBounds interface {
	// EventDateRange returns the min and max event creation dates; ok is
	// false when the store is empty.
	EventDateRange(ctx context.Context) (min, max time.Time, ok bool, err error)
}

// Settings is the durable key/value store backing the clock.
type Settings interface {
	Setting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Clock exposes the persisted reference window. When no refresh has ever
// run (empty store, fresh install) both dates fall back to the current
// day, matching a window with no data in it.
type Clock struct {
	bounds   EventBounds
	settings Settings
	log      logger.Logger
	now      func() time.Time
}

// Option applies a configuration option to the Clock.
type Option func(*Clock)

// WithNow overrides the fallback date source, used by tests.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger for the clock.
func WithLogger(log logger.Logger) Option {
	return func(c *Clock) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Clock over the given store and settings.
func New(bounds EventBounds, settings Settings, opts ...Option) *Clock {
	c := &Clock{
		bounds:   bounds,
		settings: settings,
		log:      logger.Get().Named("refclock"),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StartDate returns the persisted earliest-event date.
func (c *Clock) StartDate(ctx context.Context) (time.Time, error) {
	return c.date(ctx, keyStartDate)
}

// EndDate returns the persisted latest-event date.
func (c *Clock) EndDate(ctx context.Context) (time.Time, error) {
	return c.date(ctx, keyEndDate)
}

// Refresh recomputes both dates from the store. An empty store leaves
// any previously persisted window untouched.
func (c *Clock) Refresh(ctx context.Context) error {
	min, max, ok, err := c.bounds.EventDateRange(ctx)
	if err != nil {
		return fmt.Errorf("event date range: %w", err)
	}
	if !ok {
		return nil
	}

	if err := c.settings.SetSetting(ctx, keyStartDate, min.UTC().Format(dateLayout)); err != nil {
		return fmt.Errorf("persist start date: %w", err)
	}
	if err := c.settings.SetSetting(ctx, keyEndDate, max.UTC().Format(dateLayout)); err != nil {
		return fmt.Errorf("persist end date: %w", err)
	}

	c.log.Debug(ctx, "reference window refreshed",
		logger.String("start", min.UTC().Format(dateLayout)),
		logger.String("end", max.UTC().Format(dateLayout)),
	)
	return nil
}

func (c *Clock) date(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := c.settings.Setting(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return c.today(), nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", key, raw, err)
	}
	return t, nil
}

func (c *Clock) today() time.Time {
	y, m, d := c.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
