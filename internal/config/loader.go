package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if TRELLIS_CONFIG is set
//  3. env (prefix TRELLIS_)
func Load(_ context.Context) (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("TRELLIS_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: TRELLIS_ADDR, TRELLIS_DB_PATH, ...
	// Map env keys like TRELLIS_DB_PATH -> db_path (flat keys)
	// Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("TRELLIS_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "trellis_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	}
	if c.ImportBatchSize <= 0 {
		return fmt.Errorf("%w: import_batch_size must be positive", ErrInvalidConfig)
	}
	if c.ProfileBatchSize <= 0 {
		return fmt.Errorf("%w: profile_batch_size must be positive", ErrInvalidConfig)
	}
	if c.TickDelayMS < 0 {
		return fmt.Errorf("%w: tick_delay_ms must not be negative", ErrInvalidConfig)
	}
	if c.ActiveDays <= 0 || c.WarningDays < c.ActiveDays {
		return fmt.Errorf("%w: status thresholds must satisfy 0 < active_days <= warning_days", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Ladders))
	for _, l := range c.Ladders {
		if l.ID == "" {
			return fmt.Errorf("%w: ladder id must not be empty", ErrInvalidConfig)
		}
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("%w: duplicate ladder id %q", ErrInvalidConfig, l.ID)
		}
		seen[l.ID] = struct{}{}
		for _, r := range l.Requirements {
			if r.EventType == "" || r.Min <= 0 {
				return fmt.Errorf("%w: ladder %q has an invalid requirement", ErrInvalidConfig, l.ID)
			}
		}
	}
	return nil
}
