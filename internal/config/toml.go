// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Memory  MemoryConfig  `toml:"memory"`
	Worker  WorkerConfig  `toml:"worker"`
	Compute ComputeConfig `toml:"compute"`
	Session SessionConfig `toml:"session"`
	Feed    FeedConfig    `toml:"feed"`
}

// MemoryConfig maps memory-monitor settings.
type MemoryConfig struct {
	HighPercent     *float64 `toml:"high-percent"`
	CriticalPercent *float64 `toml:"critical-percent"`
	IntervalSeconds *int     `toml:"interval-seconds"`
}

// WorkerConfig maps worker-supervisor settings.
type WorkerConfig struct {
	BackoffSeconds *int `toml:"backoff-seconds"`
	QueueCapacity  *int `toml:"queue-capacity"`
}

// ComputeConfig maps computation cadence and formula constants.
type ComputeConfig struct {
	CadenceKeys        *int     `toml:"cadence-keys"`
	CadenceSeconds     *int     `toml:"cadence-seconds"`
	IdleTimeoutSeconds *int     `toml:"idle-timeout-seconds"`
	CharsPerPage       *float64 `toml:"chars-per-page"`
	DiversityWeight    *float64 `toml:"diversity-weight"`
	WordLengthWeight   *float64 `toml:"word-length-weight"`
	LongWordWeight     *float64 `toml:"long-word-weight"`
}

// SessionConfig maps session-level preferences.
type SessionConfig struct {
	Mode         *string `toml:"mode"`
	Acceleration *bool   `toml:"acceleration"`
}

// FeedConfig maps the synthetic keystroke feed used by the live view.
type FeedConfig struct {
	WPM       *int     `toml:"wpm"`
	ErrorRate *float64 `toml:"error-rate"`
	WordList  *string  `toml:"word-list"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
