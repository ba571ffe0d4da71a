// Package config reads and writes the global ~/.chatdesk/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatdesk/config.toml.
type Config struct {
	DefaultWorkspace string `toml:"default_workspace"`

	Operator     OperatorConfig     `toml:"operator"`
	Disappearing DisappearingConfig `toml:"disappearing"`
	Grouping     GroupingConfig     `toml:"grouping"`
}

// OperatorConfig identifies the operator for outgoing messages and
// reactions.
type OperatorConfig struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// DisappearingConfig sets the workspace-wide disappearing message
// policy. Per-conversation overrides are set at runtime.
type DisappearingConfig struct {
	Enabled       bool `toml:"enabled"`
	TimeoutHours  int  `toml:"timeout_hours"`
	GraceSeconds  int  `toml:"grace_seconds"`
	SweepInterval int  `toml:"sweep_interval_seconds"`
}

// GroupingConfig controls message list presentation.
type GroupingConfig struct {
	SequentialGapSeconds int `toml:"sequential_gap_seconds"`
	TimezoneOffsetMin    int `toml:"timezone_offset_minutes"`
}

// Default returns the config used when no file exists yet.
func Default() *Config {
	return &Config{
		DefaultWorkspace: "main",
		Operator:         OperatorConfig{ID: "operator", Name: "Operator"},
		Disappearing: DisappearingConfig{
			Enabled:       false,
			TimeoutHours:  24,
			GraceSeconds:  30,
			SweepInterval: 60,
		},
		Grouping: GroupingConfig{
			SequentialGapSeconds: 60,
		},
	}
}

// Timeout returns the disappearing timeout as a duration.
func (d DisappearingConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutHours) * time.Hour
}

// Grace returns the in-flight grace window as a duration.
func (d DisappearingConfig) Grace() time.Duration {
	return time.Duration(d.GraceSeconds) * time.Second
}

// Interval returns the background sweep interval as a duration.
func (d DisappearingConfig) Interval() time.Duration {
	return time.Duration(d.SweepInterval) * time.Second
}

// Gap returns the sequential grouping gap as a duration.
func (g GroupingConfig) Gap() time.Duration {
	return time.Duration(g.SequentialGapSeconds) * time.Second
}

// TimezoneOffset returns the viewer timezone offset as a duration.
func (g GroupingConfig) TimezoneOffset() time.Duration {
	return time.Duration(g.TimezoneOffsetMin) * time.Minute
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when
// the file does not exist yet.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
