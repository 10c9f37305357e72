// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Load layers an optional YAML file and environment variables on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"github.com/okian/trellis/internal/domain/model"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DBPath locates the SQLite database file.
	DBPath string `koanf:"db_path"`

	// UploadDir receives CSV files posted for import.
	UploadDir string `koanf:"upload_dir"`

	// ImportBatchSize bounds lines handled per import tick.
	ImportBatchSize int `koanf:"import_batch_size"`

	// ProfileBatchSize bounds contributors handled per generation tick.
	ProfileBatchSize int `koanf:"profile_batch_size"`

	// TickDelayMS is the pause between batch ticks.
	TickDelayMS int `koanf:"tick_delay_ms"`

	// DedupeSize sets the size of the import deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// ActiveDays and WarningDays are the activity status thresholds,
	// in days since last activity relative to the reference end date.
	ActiveDays  int `koanf:"active_days"`
	WarningDays int `koanf:"warning_days"`

	// IgnoredEventTypes are excluded from journeys, counts and the
	// pending-work query.
	IgnoredEventTypes []string `koanf:"ignored_event_types"`

	// EventTypes seeds the event-type registry (tag -> display label).
	// Import auto-registers unseen tags on top of these.
	EventTypes map[string]string `koanf:"event_types"`

	// Ladders is the ordered achievement tier configuration. Empty
	// means journeys come out empty, which is valid.
	Ladders []model.Ladder `koanf:"ladders"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		DBPath:            "trellis.db",
		UploadDir:         "uploads",
		ImportBatchSize:   2000,
		ProfileBatchSize:  500,
		TickDelayMS:       1000,
		DedupeSize:        100_000,
		ActiveDays:        30,
		WarningDays:       90,
		IgnoredEventTypes: []string{"updated_profile"},
		EventTypes:        map[string]string{},
		Ladders:           nil,
	}
}
