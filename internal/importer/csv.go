// Package importer turns uploaded CSV files into event store rows, one
// checkpointed batch of lines at a time.
package importer

import (
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/okian/trellis/internal/domain/model"
)

// requiredColumns is the positional CSV layout:
// external_event_id,contributor_id,contributor_registered_date,event_type,event_date.
// Extra columns are ignored; fewer is a parse error.
const requiredColumns = 5

// dateLayouts are tried in order when parsing CSV date fields. Source
// exports are inconsistent about their timestamp format.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseLine parses one CSV line into an Event. Empty date fields stay
// zero; the store fills the event date with ingest time on insert.
func ParseLine(line string) (model.Event, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Event{}, ErrEmptyLine
	}

	rec, err := csv.NewReader(strings.NewReader(line)).Read()
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrBadLine, err)
	}
	if len(rec) < requiredColumns {
		return model.Event{}, fmt.Errorf("%w: expected %d columns, got %d", ErrBadLine, requiredColumns, len(rec))
	}

	ev := model.Event{
		EventID:       strings.TrimSpace(rec[0]),
		ContributorID: strings.TrimSpace(rec[1]),
		Type:          strings.TrimSpace(rec[3]),
	}

	if ev.ContributorCreated, err = parseDate(rec[2]); err != nil {
		return model.Event{}, err
	}
	if ev.CreatedAt, err = parseDate(rec[4]); err != nil {
		return model.Event{}, err
	}

	return ev, nil
}

// Validate checks the fields an event cannot be stored without.
func Validate(ev model.Event) error {
	var missing []string
	if ev.EventID == "" {
		missing = append(missing, "event_id")
	}
	if ev.ContributorID == "" {
		missing = append(missing, "contributor_id")
	}
	if ev.Type == "" {
		missing = append(missing, "event_type")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// IsHeader reports whether the first line of a file looks like a column
// header instead of data.
func IsHeader(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(lower, "id,") || strings.Contains(lower, "user_id")
}

func parseDate(field string) (time.Time, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable date %q", ErrBadLine, field)
}
