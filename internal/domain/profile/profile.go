// Package profile folds a contributor's event history into the persisted
// profile record: event-type counts, activity window, status and the
// ladder journey.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/trellis/internal/domain/journey"
	"github.com/okian/trellis/internal/domain/model"
	"github.com/okian/trellis/pkg/metrics"
)

// Default status thresholds in days.
const (
	DefaultActiveDays  = 30
	DefaultWarningDays = 90

	hoursPerDay = 24
)

// EventSource reads a contributor's ordered, filtered event history.
type EventSource interface {
	// EventsByContributor returns all events for the contributor whose
	// type is not in ignored, sorted ascending by creation date with a
	// stable event-id tie-break.
	EventsByContributor(ctx context.Context, contributorID string, ignored []string) ([]model.Event, error)
}

// ProfileStore persists computed profiles.
type ProfileStore interface {
	// UpsertProfile writes the whole profile row, replacing any existing
	// row for the same contributor.
	UpsertProfile(ctx context.Context, p model.Profile) error
}

// ReferenceClock supplies the synthetic "now" derived from the data.
type ReferenceClock interface {
	EndDate(ctx context.Context) (time.Time, error)
}

// Aggregator recomputes contributor profiles. Safe to re-run: the same
// event history always produces the same profile (ComputedAt aside).
type Aggregator struct {
	events   EventSource
	profiles ProfileStore
	clock    ReferenceClock

	ladders     []model.Ladder
	ignored     []string
	activeDays  int
	warningDays int
	now         func() time.Time
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithLadders sets the ordered ladder configuration snapshot.
func WithLadders(ladders []model.Ladder) Option {
	return func(a *Aggregator) {
		a.ladders = ladders
	}
}

// WithIgnoredTypes sets event types excluded from profiles entirely.
func WithIgnoredTypes(types []string) Option {
	return func(a *Aggregator) {
		a.ignored = types
	}
}

// WithStatusThresholds overrides the active/warning day thresholds.
func WithStatusThresholds(activeDays, warningDays int) Option {
	return func(a *Aggregator) {
		if activeDays > 0 && warningDays > activeDays {
			a.activeDays = activeDays
			a.warningDays = warningDays
		}
	}
}

// WithNow overrides the ComputedAt clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an Aggregator bound to its collaborators.
func NewAggregator(events EventSource, profiles ProfileStore, clock ReferenceClock, opts ...Option) *Aggregator {
	a := &Aggregator{
		events:      events,
		profiles:    profiles,
		clock:       clock,
		activeDays:  DefaultActiveDays,
		warningDays: DefaultWarningDays,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Compute rebuilds and persists the profile for one contributor. It
// returns false without writing when the contributor has no events left
// after filtering ignored types.
func (a *Aggregator) Compute(ctx context.Context, contributorID string) (bool, error) {
	events, err := a.events.EventsByContributor(ctx, contributorID, a.ignored)
	if err != nil {
		return false, fmt.Errorf("load events for %s: %w", contributorID, err)
	}
	if len(events) == 0 {
		return false, nil
	}

	refEnd, err := a.clock.EndDate(ctx)
	if err != nil {
		return false, fmt.Errorf("reference end date: %w", err)
	}

	p := Build(contributorID, events, a.ladders, refEnd, a.activeDays, a.warningDays)
	p.ComputedAt = a.now().UTC()

	if err := a.profiles.UpsertProfile(ctx, p); err != nil {
		return false, fmt.Errorf("upsert profile for %s: %w", contributorID, err)
	}

	metrics.RecordProfileComputed()
	metrics.ObserveJourneySteps(len(p.Journey))
	return true, nil
}

// Build derives a Profile from an ordered event history. Pure: no clock,
// no storage. ComputedAt is left zero for the caller to stamp.
func Build(contributorID string, events []model.Event, ladders []model.Ladder, refEnd time.Time, activeDays, warningDays int) model.Profile {
	counts := make(map[string]model.TypeStat, 8)
	registered := time.Time{}

	for i := range events {
		ev := &events[i]
		if registered.IsZero() && !ev.ContributorCreated.IsZero() {
			registered = ev.ContributorCreated
		}
		stat, ok := counts[ev.Type]
		if !ok {
			stat.FirstDate = ev.CreatedAt
		}
		stat.Count++
		stat.LastDate = ev.CreatedAt
		counts[ev.Type] = stat
	}

	steps := journey.Compute(events, ladders, refEnd)
	currentLadder := ""
	if len(steps) > 0 {
		currentLadder = steps[len(steps)-1].LadderID
	}

	lastActivity := events[len(events)-1].CreatedAt
	return model.Profile{
		ContributorID:  contributorID,
		RegisteredDate: registered,
		Journey:        steps,
		EventCounts:    counts,
		CurrentLadder:  currentLadder,
		TotalEvents:    len(events),
		FirstActivity:  events[0].CreatedAt,
		LastActivity:   lastActivity,
		Status:         StatusFor(lastActivity, refEnd, activeDays, warningDays),
	}
}

// StatusFor classifies activity recency against the reference end date.
// Exactly activeDays since the last activity still counts as active, and
// exactly warningDays still counts as warning.
func StatusFor(lastActivity, refEnd time.Time, activeDays, warningDays int) model.Status {
	if lastActivity.IsZero() {
		return model.StatusInactive
	}

	days := refEnd.Sub(lastActivity).Hours() / hoursPerDay
	switch {
	case days <= float64(activeDays):
		return model.StatusActive
	case days <= float64(warningDays):
		return model.StatusWarning
	default:
		return model.StatusInactive
	}
}
