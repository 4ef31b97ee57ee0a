package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single YAML file read from the config directory.
const configFileName = "logsift.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read logsift.yaml from configDir (optional — defaults apply)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into the Config struct
//  4. Merge built-in defaults underneath user values
//  5. Validate; any failure here is fatal at startup
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{configDir: configDir}

	path := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Warn("No configuration file found, using defaults", "path", path)
	case err != nil:
		return nil, &LoadError{File: path, Err: err}
	default:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
		}
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized",
		"model", cfg.LLM.Model,
		"window_minutes", cfg.Pipeline.WindowMinutes,
		"interval", cfg.Pipeline.Interval)
	return cfg, nil
}

func applyDefaults(cfg *Config) error {
	if cfg.System == nil {
		cfg.System = &SystemConfig{}
	}
	if cfg.LLM == nil {
		cfg.LLM = &LLMConfig{}
	}
	if cfg.Ingest == nil {
		cfg.Ingest = &IngestConfig{}
	}
	if cfg.Retention == nil {
		cfg.Retention = &RetentionConfig{}
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = &PipelineSettings{}
	}

	if err := mergo.Merge(cfg.LLM, defaultLLMConfig()); err != nil {
		return err
	}
	if err := mergo.Merge(cfg.Ingest, defaultIngestConfig()); err != nil {
		return err
	}
	if err := mergo.Merge(cfg.Retention, defaultRetentionConfig()); err != nil {
		return err
	}
	if err := mergo.Merge(cfg.Pipeline, *DefaultPipelineSettings()); err != nil {
		return err
	}
	return nil
}

func defaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKeyEnv:   "LLM_API_KEY",
		Model:       "gpt-4o-mini",
		Temperature: 0.1,
		Timeout:     30 * time.Second,
	}
}

func defaultIngestConfig() IngestConfig {
	return IngestConfig{
		MaxBatchSize:  10000,
		RatePerSecond: 500,
		Burst:         2000,
	}
}

func defaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		DefaultRetentionDays: 30,
		CleanupInterval:      12 * time.Hour,
		DeleteChunkSize:      1000,
	}
}
