// Package config provides configuration loading for the memory daemon.
//
// Precedence (highest to lowest):
//  1. MEMORY_* environment variables (MEMORY_DECAY_HALF_LIFE, ...)
//  2. YAML config file (<storage root>/config.yaml)
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "MEMORY_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Config holds all recognized options.
type Config struct {
	// Dir is the storage root. Everything durable lives under it:
	// memory.db, vectorstore/, raw/, exports/, extract-queue/.
	Dir string `koanf:"dir"`

	// EmbeddingModel is the local embedding model identifier.
	EmbeddingModel string `koanf:"embedding_model"`

	// DecayHalfLife is the recall decay half-life in days.
	DecayHalfLife int `koanf:"decay_half_life"`

	// ArchiveAfterDays controls the retention archive sweep.
	ArchiveAfterDays int `koanf:"archive_after_days"`

	// PurgeAfterDays controls the retention purge sweep.
	PurgeAfterDays int `koanf:"purge_after_days"`

	// DashboardPort is the read-only dashboard HTTP port.
	DashboardPort int `koanf:"dashboard_port"`

	// LogLevel is the zap level string ("debug", "info", ...).
	LogLevel string `koanf:"log_level"`
}

// Default returns the hardcoded defaults. The storage root defaults to
// ~/.claude-memory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Dir:              filepath.Join(home, ".claude-memory"),
		EmbeddingModel:   "sentence-transformers/all-MiniLM-L6-v2",
		DecayHalfLife:    90,
		ArchiveAfterDays: 180,
		PurgeAfterDays:   365,
		DashboardPort:    8642,
		LogLevel:         "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file under
// the storage root, and MEMORY_* environment variables.
func Load() (*Config, error) {
	cfg := Default()

	// MEMORY_DIR must win before the file is located.
	if dir := os.Getenv(envPrefix + "DIR"); dir != "" {
		cfg.Dir = dir
	}

	k := koanf.New(".")

	path := filepath.Join(cfg.Dir, "config.yaml")
	if info, err := os.Stat(path); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// MEMORY_DECAY_HALF_LIFE -> decay_half_life
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks option ranges.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("dir must not be empty")
	}
	if c.DecayHalfLife <= 0 {
		return fmt.Errorf("decay_half_life must be > 0, got %d", c.DecayHalfLife)
	}
	if c.ArchiveAfterDays <= 0 {
		return fmt.Errorf("archive_after_days must be > 0, got %d", c.ArchiveAfterDays)
	}
	if c.PurgeAfterDays <= 0 {
		return fmt.Errorf("purge_after_days must be > 0, got %d", c.PurgeAfterDays)
	}
	if c.PurgeAfterDays < c.ArchiveAfterDays {
		return fmt.Errorf("purge_after_days (%d) must be >= archive_after_days (%d)",
			c.PurgeAfterDays, c.ArchiveAfterDays)
	}
	if c.DashboardPort <= 0 || c.DashboardPort > 65535 {
		return fmt.Errorf("dashboard_port out of range: %d", c.DashboardPort)
	}
	return nil
}

// DatabasePath returns the SQLite file path under the storage root.
func (c *Config) DatabasePath() string { return filepath.Join(c.Dir, "memory.db") }

// VectorStorePath returns the chromem persistence directory.
func (c *Config) VectorStorePath() string { return filepath.Join(c.Dir, "vectorstore") }

// RawLogDir returns the per-session raw call log directory.
func (c *Config) RawLogDir() string { return filepath.Join(c.Dir, "raw") }

// ExportDir returns the JSON snapshot directory.
func (c *Config) ExportDir() string { return filepath.Join(c.Dir, "exports") }

// ExtractQueueDir returns the transcript extraction queue directory.
func (c *Config) ExtractQueueDir() string { return filepath.Join(c.Dir, "extract-queue") }

// EnsureDirs creates the persisted layout under the storage root.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Dir, c.VectorStorePath(), c.RawLogDir(), c.ExportDir(), c.ExtractQueueDir()} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}
