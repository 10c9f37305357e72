// Package repository provides the SQLite-backed event and profile store.
//
// All timestamps are persisted as RFC3339 UTC text, so lexicographic
// comparison in SQL matches chronological order. Zero times are stored
// as the empty string.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/domain/model"
	"github.com/okian/trellis/internal/domain/profile"
	"github.com/okian/trellis/internal/importer"
	"github.com/okian/trellis/internal/refclock"
	"github.com/okian/trellis/pkg/logger"
	"github.com/okian/trellis/pkg/metrics"
	_ "modernc.org/sqlite" // sqlite driver
)

const defaultBusyTimeoutMS = 5000

// jobStateKeyPrefix namespaces batch state records inside the settings
// table.
const jobStateKeyPrefix = "job_state:"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id                 TEXT PRIMARY KEY,
	contributor_id           TEXT NOT NULL,
	contributor_created_date TEXT NOT NULL DEFAULT '',
	event_type               TEXT NOT NULL,
	event_created_date       TEXT NOT NULL,
	event_data               TEXT NOT NULL DEFAULT '',
	imported_at              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_contributor ON events(contributor_id, event_created_date, event_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_imported ON events(imported_at);

CREATE TABLE IF NOT EXISTS profiles (
	contributor_id  TEXT PRIMARY KEY,
	registered_date TEXT NOT NULL DEFAULT '',
	journey         TEXT NOT NULL,
	event_counts    TEXT NOT NULL,
	current_ladder  TEXT NOT NULL DEFAULT '',
	total_events    INTEGER NOT NULL DEFAULT 0,
	first_activity  TEXT NOT NULL DEFAULT '',
	last_activity   TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	computed_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_ladder ON profiles(current_ladder);
CREATE INDEX IF NOT EXISTS idx_profiles_status ON profiles(status);

CREATE TABLE IF NOT EXISTS event_types (
	type  TEXT PRIMARY KEY,
	label TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store persists events, profiles, event types, settings and batch job
// state in a single SQLite database.
type Store struct {
	db            *sql.DB
	log           logger.Logger
	busyTimeoutMS int
	now           func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and
// applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidPath
	}

	s := &Store{
		log:           logger.Get().Named("repository"),
		busyTimeoutMS: defaultBusyTimeoutMS,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		filepath.Clean(path), s.busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func timeToText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func textToTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t, nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// InsertEvent writes one event, skipping the write when the event id is
// already present. It reports whether a row was inserted. A zero
// CreatedAt is filled with the ingest time.
func (s *Store) InsertEvent(ctx context.Context, ev model.Event) (bool, error) {
	if ev.EventID == "" {
		return false, fmt.Errorf("event id is required")
	}
	now := s.now().UTC()
	created := ev.CreatedAt
	if created.IsZero() {
		created = now
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (
		   event_id, contributor_id, contributor_created_date,
		   event_type, event_created_date, event_data, imported_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID,
		ev.ContributorID,
		timeToText(ev.ContributorCreated),
		ev.Type,
		timeToText(created),
		ev.Data,
		timeToText(now),
	)
	if err != nil {
		metrics.RecordStoreError("events")
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	return n > 0, nil
}

// EventsByContributor returns the contributor's events in chronological
// order, excluding the given event types. Ties on the timestamp are
// broken by event id so replays are deterministic.
func (s *Store) EventsByContributor(ctx context.Context, contributorID string, ignored []string) ([]model.Event, error) {
	query := `SELECT event_id, contributor_id, contributor_created_date,
	                 event_type, event_created_date, event_data
	            FROM events
	           WHERE contributor_id = ?`
	args := []any{contributorID}
	if len(ignored) > 0 {
		query += ` AND event_type NOT IN (` + placeholders(len(ignored)) + `)`
		for _, t := range ignored {
			args = append(args, t)
		}
	}
	query += ` ORDER BY event_created_date ASC, event_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("events by contributor: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var contributorCreated, eventCreated string
		if err := rows.Scan(&ev.EventID, &ev.ContributorID, &contributorCreated,
			&ev.Type, &eventCreated, &ev.Data); err != nil {
			return nil, fmt.Errorf("events by contributor: %w", err)
		}
		if ev.ContributorCreated, err = textToTime(contributorCreated); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = textToTime(eventCreated); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events by contributor: %w", err)
	}
	return events, nil
}

// EventDateRange returns the minimum and maximum event dates across the
// whole store; ok is false when the store has no dated events.
func (s *Store) EventDateRange(ctx context.Context) (minDate, maxDate time.Time, ok bool, err error) {
	var minRaw, maxRaw sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(event_created_date), MAX(event_created_date)
		   FROM events WHERE event_created_date != ''`,
	).Scan(&minRaw, &maxRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("event date range: %w", err)
	}
	if !minRaw.Valid || minRaw.String == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	if minDate, err = textToTime(minRaw.String); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if maxDate, err = textToTime(maxRaw.String); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return minDate, maxDate, true, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// TruncateEvents removes every stored event and returns the number
// removed. Profiles are left in place; they age out through the pending
// query.
func (s *Store) TruncateEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	if err != nil {
		return 0, fmt.Errorf("truncate events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("truncate events: %w", err)
	}
	return n, nil
}

// RegisterEventTypes records previously unseen event types with their
// display labels. Existing entries are never overwritten.
func (s *Store) RegisterEventTypes(ctx context.Context, types map[string]string) error {
	if len(types) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register event types: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for typ, label := range types {
		if typ == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_types (type, label) VALUES (?, ?)`,
			typ, label); err != nil {
			return fmt.Errorf("register event type %q: %w", typ, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register event types: %w", err)
	}
	return nil
}

// EventTypes returns the registered event types keyed by type tag.
func (s *Store) EventTypes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type, label FROM event_types`)
	if err != nil {
		return nil, fmt.Errorf("event types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]string)
	for rows.Next() {
		var typ, label string
		if err := rows.Scan(&typ, &label); err != nil {
			return nil, fmt.Errorf("event types: %w", err)
		}
		types[typ] = label
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event types: %w", err)
	}
	return types, nil
}

// pendingWhere is the shared predicate for contributors whose profile is
// missing or older than their newest ingested event. The comparison uses
// the ingest timestamp, not the event's own date: imports carry historic
// dates, and what makes a profile stale is new data arriving.
const pendingWhere = `
	   FROM events e
	   LEFT JOIN profiles p ON p.contributor_id = e.contributor_id
	  WHERE (p.contributor_id IS NULL OR e.imported_at > p.computed_at)`

func pendingArgs(minRegistered time.Time, ignored []string) (string, []any) {
	clause := ""
	var args []any
	if len(ignored) > 0 {
		clause += ` AND e.event_type NOT IN (` + placeholders(len(ignored)) + `)`
		for _, t := range ignored {
			args = append(args, t)
		}
	}
	if !minRegistered.IsZero() {
		clause += ` AND (e.contributor_created_date = '' OR e.contributor_created_date >= ?)`
		args = append(args, timeToText(minRegistered))
	}
	return clause, args
}

// PendingContributors returns up to limit contributor ids needing a
// profile (re)build, in stable id order.
func (s *Store) PendingContributors(ctx context.Context, minRegistered time.Time, ignored []string, limit int) ([]string, error) {
	clause, args := pendingArgs(minRegistered, ignored)
	query := `SELECT DISTINCT e.contributor_id` + pendingWhere + clause +
		` ORDER BY e.contributor_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pending contributors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pending contributors: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending contributors: %w", err)
	}
	return ids, nil
}

// CountPendingContributors sizes the pending-work set.
func (s *Store) CountPendingContributors(ctx context.Context, minRegistered time.Time, ignored []string) (int, error) {
	clause, args := pendingArgs(minRegistered, ignored)
	query := `SELECT COUNT(DISTINCT e.contributor_id)` + pendingWhere + clause

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending contributors: %w", err)
	}
	return n, nil
}

// UpsertProfile writes the whole profile row, replacing any previous row
// for the contributor.
func (s *Store) UpsertProfile(ctx context.Context, p model.Profile) error {
	if p.ContributorID == "" {
		return fmt.Errorf("contributor id is required")
	}
	journey, err := json.Marshal(p.Journey)
	if err != nil {
		return fmt.Errorf("encode journey: %w", err)
	}
	counts, err := json.Marshal(p.EventCounts)
	if err != nil {
		return fmt.Errorf("encode event counts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (
		   contributor_id, registered_date, journey, event_counts,
		   current_ladder, total_events, first_activity, last_activity,
		   status, computed_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(contributor_id) DO UPDATE SET
		   registered_date = excluded.registered_date,
		   journey         = excluded.journey,
		   event_counts    = excluded.event_counts,
		   current_ladder  = excluded.current_ladder,
		   total_events    = excluded.total_events,
		   first_activity  = excluded.first_activity,
		   last_activity   = excluded.last_activity,
		   status          = excluded.status,
		   computed_at     = excluded.computed_at`,
		p.ContributorID,
		timeToText(p.RegisteredDate),
		string(journey),
		string(counts),
		p.CurrentLadder,
		p.TotalEvents,
		timeToText(p.FirstActivity),
		timeToText(p.LastActivity),
		string(p.Status),
		timeToText(p.ComputedAt),
	)
	if err != nil {
		metrics.RecordStoreError("profiles")
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Profile returns the stored profile for a contributor. Returns
// ErrNotFound when none exists.
func (s *Store) Profile(ctx context.Context, contributorID string) (model.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT contributor_id, registered_date, journey, event_counts,
		        current_ladder, total_events, first_activity, last_activity,
		        status, computed_at
		   FROM profiles WHERE contributor_id = ?`,
		contributorID,
	)

	var p model.Profile
	var registered, journey, counts, first, last, status, computed string
	err := row.Scan(&p.ContributorID, &registered, &journey, &counts,
		&p.CurrentLadder, &p.TotalEvents, &first, &last, &status, &computed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, ErrNotFound
		}
		return model.Profile{}, fmt.Errorf("get profile: %w", err)
	}

	if err := json.Unmarshal([]byte(journey), &p.Journey); err != nil {
		return model.Profile{}, fmt.Errorf("decode journey: %w", err)
	}
	if err := json.Unmarshal([]byte(counts), &p.EventCounts); err != nil {
		return model.Profile{}, fmt.Errorf("decode event counts: %w", err)
	}
	p.Status = model.Status(status)
	if p.RegisteredDate, err = textToTime(registered); err != nil {
		return model.Profile{}, err
	}
	if p.FirstActivity, err = textToTime(first); err != nil {
		return model.Profile{}, err
	}
	if p.LastActivity, err = textToTime(last); err != nil {
		return model.Profile{}, err
	}
	if p.ComputedAt, err = textToTime(computed); err != nil {
		return model.Profile{}, err
	}
	return p, nil
}

// ProfileStats returns the monitoring rollup across profiles and events.
func (s *Store) ProfileStats(ctx context.Context) (model.ProfileStats, error) {
	stats := model.ProfileStats{
		ByLadder: make(map[string]int),
		ByStatus: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&stats.TotalProfiles); err != nil {
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT current_ladder, COUNT(*) FROM profiles GROUP BY current_ladder`)
	if err != nil {
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}
	for rows.Next() {
		var ladder string
		var n int
		if err := rows.Scan(&ladder, &n); err != nil {
			rows.Close()
			return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
		}
		if ladder == "" {
			ladder = "none"
		}
		stats.ByLadder[ladder] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM profiles GROUP BY status`)
	if err != nil {
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
		}
		stats.ByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}
	rows.Close()

	// Stale: profiles with events ingested after their last compute.
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles p
		  WHERE EXISTS (SELECT 1 FROM events e
		                 WHERE e.contributor_id = p.contributor_id
		                   AND e.imported_at > p.computed_at)`,
	).Scan(&stats.StaleProfiles)
	if err != nil {
		return model.ProfileStats{}, fmt.Errorf("profile stats: %w", err)
	}

	// Pending additionally includes contributors with events but no
	// profile at all.
	pending, err := s.CountPendingContributors(ctx, time.Time{}, nil)
	if err != nil {
		return model.ProfileStats{}, err
	}
	stats.PendingUpdate = pending

	if stats.TotalEvents, err = s.CountEvents(ctx); err != nil {
		return model.ProfileStats{}, err
	}
	return stats, nil
}

// Setting returns the value for a key; ok is false when unset.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting writes a key/value pair, replacing any previous value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// JobState loads the batch state record for a job kind.
func (s *Store) JobState(ctx context.Context, kind string) (batch.State, bool, error) {
	raw, ok, err := s.Setting(ctx, jobStateKeyPrefix+kind)
	if err != nil || !ok {
		return batch.State{}, false, err
	}
	var st batch.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return batch.State{}, false, fmt.Errorf("decode job state %q: %w", kind, err)
	}
	return st, true, nil
}

// SaveJobState writes the whole batch state record for its kind.
func (s *Store) SaveJobState(ctx context.Context, st batch.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode job state %q: %w", st.Kind, err)
	}
	if err := s.SetSetting(ctx, jobStateKeyPrefix+st.Kind, string(raw)); err != nil {
		metrics.RecordStoreError("job_state")
		return err
	}
	return nil
}

// ClearJobState removes the batch state record for a job kind.
func (s *Store) ClearJobState(ctx context.Context, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM settings WHERE key = ?`, jobStateKeyPrefix+kind)
	if err != nil {
		return fmt.Errorf("clear job state %q: %w", kind, err)
	}
	return nil
}

var (
	_ importer.EventStore   = (*Store)(nil)
	_ profile.EventSource   = (*Store)(nil)
	_ profile.ProfileStore  = (*Store)(nil)
	_ profile.PendingSource = (*Store)(nil)
	_ refclock.EventBounds  = (*Store)(nil)
	_ refclock.Settings     = (*Store)(nil)
	_ batch.StateRepo       = (*Store)(nil)
)
