package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{
		System:    &SystemConfig{},
		LLM:       &LLMConfig{},
		Ingest:    &IngestConfig{},
		Retention: &RetentionConfig{},
		Pipeline:  &PipelineSettings{},
	}
	*cfg.LLM = defaultLLMConfig()
	cfg.LLM.BaseURL = "https://api.example.com/v1"
	*cfg.Ingest = defaultIngestConfig()
	*cfg.Retention = defaultRetentionConfig()
	*cfg.Pipeline = *DefaultPipelineSettings()
	return cfg
}

func TestValidateAll_Valid(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
		field   string
	}{
		{"missing base_url", func(c *Config) { c.LLM.BaseURL = "" }, "llm", "base_url"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "llm", "model"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 2.5 }, "llm", "temperature"},
		{"non-positive timeout", func(c *Config) { c.LLM.Timeout = 0 }, "llm", "timeout"},
		{"non-positive batch size", func(c *Config) { c.Ingest.MaxBatchSize = 0 }, "ingest", "max_batch_size"},
		{"non-positive rate", func(c *Config) { c.Ingest.RatePerSecond = 0 }, "ingest", "rate_per_second"},
		{"non-positive retention", func(c *Config) { c.Retention.DefaultRetentionDays = 0 }, "retention", "default_retention_days"},
		{"non-positive delete chunk", func(c *Config) { c.Retention.DeleteChunkSize = -1 }, "retention", "delete_chunk_size"},
		{"non-positive interval", func(c *Config) { c.Pipeline.Interval = 0 }, "pipeline", "interval"},
		{"w_meta above one", func(c *Config) { c.Pipeline.WMeta = 1.1 }, "pipeline", "w_meta"},
		{"non-positive window", func(c *Config) { c.Pipeline.WindowMinutes = 0 }, "pipeline", "window_minutes"},
		{"batch size above limit", func(c *Config) { c.Pipeline.ScoringBatchSize = 101 }, "pipeline", "scoring_batch_size"},
		{"dedup threshold above one", func(c *Config) { c.Pipeline.FindingDedupThreshold = 2 }, "pipeline", "finding_dedup_threshold"},
		{"unknown skip severity", func(c *Config) { c.Pipeline.SeveritySkipList = []string{"verbose"} }, "pipeline", "severity_skip_list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.section, ve.Section)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
