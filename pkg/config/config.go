// Package config loads and validates the LogSift configuration: the static
// logsift.yaml (LLM provider, retention, ingest limits) and the built-in
// defaults for the runtime-tunable pipeline settings that live in the
// app_config table.
package config

import (
	"os"
	"time"
)

// Config is the umbrella configuration object returned by Initialize and
// passed through the application.
type Config struct {
	configDir string

	System    *SystemConfig    `yaml:"system"`
	LLM       *LLMConfig       `yaml:"llm"`
	Ingest    *IngestConfig    `yaml:"ingest"`
	Retention *RetentionConfig `yaml:"retention"`
	Pipeline  *PipelineSettings `yaml:"pipeline"`
}

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	DashboardURL string `yaml:"dashboard_url,omitempty"`
}

// LLMConfig holds the oracle endpoint settings. The API key is referenced
// by env var name, never stored in YAML.
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	Timeout       time.Duration `yaml:"timeout"`
	ScoringPrompt string        `yaml:"scoring_prompt,omitempty"`
	MetaPrompt    string        `yaml:"meta_prompt,omitempty"`
}

// APIKey resolves the configured env reference.
func (c *LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// IngestConfig bounds the ingest surface.
type IngestConfig struct {
	// MaxBatchSize is the largest accepted ingest batch; larger batches
	// are rejected with 400.
	MaxBatchSize int `yaml:"max_batch_size"`

	// RatePerSecond and Burst feed the token-bucket limiter; when the
	// bucket is exhausted the ingest endpoint returns 429.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// RetentionConfig controls data retention and cleanup behaviour.
type RetentionConfig struct {
	// DefaultRetentionDays applies to systems without their own
	// retention_days.
	DefaultRetentionDays int `yaml:"default_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// DeleteChunkSize bounds each delete statement; every chunk runs in
	// its own transaction.
	DeleteChunkSize int `yaml:"delete_chunk_size"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }
