// Package model contains domain models passed between layers.
package model

import "time"

// Event is one immutable contributor action as stored in the event store.
// EventID is the external identifier; inserts with a seen EventID are
// skipped, never rewritten.
type Event struct {
	EventID            string    // unique external id, dedupe key
	ContributorID      string    // subject contributor identifier
	ContributorCreated time.Time // contributor account creation, zero when the source row omitted it
	Type               string    // event type tag, open vocabulary
	CreatedAt          time.Time // event timestamp; store fills ingest time when zero
	Data               string    // opaque JSON payload, optional
}

// Requirement is a single count threshold inside a ladder.
type Requirement struct {
	EventType string `json:"event_type" koanf:"event_type"`
	Min       int    `json:"min" koanf:"min"`
}

// Ladder is one achievement tier. A contributor qualifies when ANY one
// requirement is met. Ladder order across a configuration is significant:
// it defines the tier sequence.
type Ladder struct {
	ID           string        `json:"id" koanf:"id"`
	Title        string        `json:"title" koanf:"title"`
	Requirements []Requirement `json:"requirements" koanf:"requirements"`
}

// RequirementMet records which requirement qualified a contributor for a
// step, and the count they had at that moment.
type RequirementMet struct {
	EventType string `json:"event_type"`
	Min       int    `json:"min"`
	Achieved  int    `json:"achieved"`
}

// JourneyStep is one entry in a contributor's ladder journey. Steps are
// emitted in configured ladder order with at most one step per ladder id.
// StepLeft is nil only on the final step.
type JourneyStep struct {
	LadderID       string         `json:"ladder_id"`
	StepJoined     time.Time      `json:"step_joined"`
	StepLeft       *time.Time     `json:"step_left"`
	TimeInStepDays int            `json:"time_in_step_days"`
	FirstEventID   string         `json:"first_event_id"`
	FirstEventType string         `json:"first_event_type"`
	FirstEventDate time.Time      `json:"first_event_date"`
	LastEventID    string         `json:"last_event_id"`
	LastEventType  string         `json:"last_event_type"`
	LastEventDate  time.Time      `json:"last_event_date"`
	EventsInStep   int            `json:"events_in_step"`
	RequirementMet RequirementMet `json:"requirement_met"`
}

// TypeStat aggregates one event type inside a profile.
type TypeStat struct {
	Count     int       `json:"count"`
	FirstDate time.Time `json:"first_date"`
	LastDate  time.Time `json:"last_date"`
}

// Status is the activity status derived from last activity and the
// reference clock end date, never from wall-clock time.
type Status string

// Activity statuses.
const (
	StatusActive   Status = "active"
	StatusWarning  Status = "warning"
	StatusInactive Status = "inactive"
)

// Profile is the per-contributor summary row. It is always written whole
// (upsert by contributor id), never patched.
type Profile struct {
	ContributorID  string              `json:"contributor_id"`
	RegisteredDate time.Time           `json:"registered_date"` // zero when no event carried a creation date
	Journey        []JourneyStep       `json:"journey"`
	EventCounts    map[string]TypeStat `json:"event_counts"`
	CurrentLadder  string              `json:"current_ladder"` // last journey step's ladder id, empty when none
	TotalEvents    int                 `json:"total_events"`
	FirstActivity  time.Time           `json:"first_activity"`
	LastActivity   time.Time           `json:"last_activity"`
	Status         Status              `json:"status"`
	ComputedAt     time.Time           `json:"computed_at"`
}

// ProfileStats is the rollup served to monitoring callers.
type ProfileStats struct {
	TotalProfiles int            `json:"total_profiles"`
	ByLadder      map[string]int `json:"by_ladder"`
	ByStatus      map[string]int `json:"by_status"`
	StaleProfiles int            `json:"stale_profiles"`
	PendingUpdate int            `json:"profiles_needing_update"`
	TotalEvents   int            `json:"total_events"`
}
