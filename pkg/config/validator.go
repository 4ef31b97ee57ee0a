package config

import (
	"fmt"

	"github.com/logsift/logsift/pkg/models"
)

// Validator validates configuration with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation, fail-fast.
func (v *Validator) ValidateAll() error {
	if err := v.validateLLM(); err != nil {
		return err
	}
	if err := v.validateIngest(); err != nil {
		return err
	}
	if err := v.validateRetention(); err != nil {
		return err
	}
	return v.validatePipeline()
}

func (v *Validator) validateLLM() error {
	llm := v.cfg.LLM
	if llm.BaseURL == "" {
		return NewValidationError("llm", "base_url", ErrMissingRequiredField)
	}
	if llm.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if llm.Temperature < 0 || llm.Temperature > 2 {
		return NewValidationError("llm", "temperature", fmt.Errorf("%w: must be in [0,2]", ErrInvalidValue))
	}
	if llm.Timeout <= 0 {
		return NewValidationError("llm", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateIngest() error {
	ing := v.cfg.Ingest
	if ing.MaxBatchSize <= 0 {
		return NewValidationError("ingest", "max_batch_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ing.RatePerSecond <= 0 || ing.Burst <= 0 {
		return NewValidationError("ingest", "rate_per_second", fmt.Errorf("%w: limiter rate and burst must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	ret := v.cfg.Retention
	if ret.DefaultRetentionDays <= 0 {
		return NewValidationError("retention", "default_retention_days", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if ret.DeleteChunkSize <= 0 {
		return NewValidationError("retention", "delete_chunk_size", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.Interval <= 0 {
		return NewValidationError("pipeline", "interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.WMeta < 0 || p.WMeta > 1 {
		return NewValidationError("pipeline", "w_meta", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	if p.WindowMinutes <= 0 {
		return NewValidationError("pipeline", "window_minutes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.ScoringBatchSize < 1 || p.ScoringBatchSize > ScoringBatchLimit {
		return NewValidationError("pipeline", "scoring_batch_size",
			fmt.Errorf("%w: must be in [1,%d]", ErrInvalidValue, ScoringBatchLimit))
	}
	if p.FindingDedupThreshold < 0 || p.FindingDedupThreshold > 1 {
		return NewValidationError("pipeline", "finding_dedup_threshold", fmt.Errorf("%w: must be in [0,1]", ErrInvalidValue))
	}
	for _, sev := range p.SeveritySkipList {
		if models.SeverityRank(sev) > models.SeverityRank(models.SeverityDebug) {
			return NewValidationError("pipeline", "severity_skip_list",
				fmt.Errorf("%w: unknown severity %q", ErrInvalidValue, sev))
		}
	}
	return nil
}
