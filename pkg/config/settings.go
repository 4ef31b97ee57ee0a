package config

import (
	"encoding/json"
	"errors"
	"time"
)

// PipelineSettings are the runtime-tunable pipeline knobs. The YAML
// pipeline section provides deployment defaults; rows in the app_config
// table override individual keys and are re-read at the start of every
// orchestrator run.
type PipelineSettings struct {
	// Interval is the orchestrator tick.
	Interval time.Duration `yaml:"interval" json:"-"`

	// WMeta is the meta weight in the effective-score blend:
	// effective = w_meta*meta + (1-w_meta)*max_event.
	WMeta float64 `yaml:"w_meta" json:"w_meta"`

	// WindowMinutes is the fixed window width, epoch-aligned.
	WindowMinutes int `yaml:"window_minutes" json:"window_minutes"`

	// ScoringChunkSize bounds the unscored events fetched per system per
	// tick.
	ScoringChunkSize int `yaml:"scoring_chunk_size" json:"scoring_chunk_size"`

	// ScoringBatchSize is templates per LLM call (max 100).
	ScoringBatchSize int `yaml:"scoring_batch_size" json:"scoring_batch_size"`

	// MessageMaxLength truncates each message sent to the oracle.
	MessageMaxLength int `yaml:"message_max_length" json:"message_max_length"`

	// ScoreCacheTTLMinutes is how long a template's cached score vector is
	// reused before re-scoring.
	ScoreCacheTTLMinutes int `yaml:"score_cache_ttl_minutes" json:"score_cache_ttl_minutes"`

	// Low-score auto-skip: templates scored at least LowScoreMinScorings
	// times with avg_max_score below LowScoreThreshold get zero vectors
	// without an LLM call.
	LowScoreThreshold   float64 `yaml:"low_score_threshold" json:"low_score_threshold"`
	LowScoreMinScorings int     `yaml:"low_score_min_scorings" json:"low_score_min_scorings"`

	// Severity skip: representatives with a severity in the skip list
	// bypass the LLM with DefaultValue on every criterion.
	SeverityFilterEnabled bool     `yaml:"severity_filter_enabled" json:"severity_filter_enabled"`
	SeveritySkipList      []string `yaml:"severity_skip_list" json:"severity_skip_list"`
	SeveritySkipValue     float64  `yaml:"severity_skip_value" json:"severity_skip_value"`

	// Meta optimisations.
	SkipZeroScoreMeta         bool `yaml:"skip_zero_score_meta" json:"skip_zero_score_meta"`
	FilterZeroScoreMetaEvents bool `yaml:"filter_zero_score_meta_events" json:"filter_zero_score_meta_events"`

	// ContextSummaries is the number of previous summaries in the sliding
	// context; MaxWindowEvents caps events per window prompt.
	ContextSummaries int `yaml:"context_summaries" json:"context_summaries"`
	MaxWindowEvents  int `yaml:"max_window_events" json:"max_window_events"`

	// Finding lifecycle.
	MaxNewFindingsPerWindow       int     `yaml:"max_new_findings_per_window" json:"max_new_findings_per_window"`
	MaxOpenFindingsPerSystem      int     `yaml:"max_open_findings_per_system" json:"max_open_findings_per_system"`
	AutoResolveAfterMisses        int     `yaml:"auto_resolve_after_misses" json:"auto_resolve_after_misses"`
	SeverityDecayEnabled          bool    `yaml:"severity_decay_enabled" json:"severity_decay_enabled"`
	SeverityDecayAfterOccurrences int     `yaml:"severity_decay_after_occurrences" json:"severity_decay_after_occurrences"`
	FindingDedupThreshold         float64 `yaml:"finding_dedup_threshold" json:"finding_dedup_threshold"`
	FuzzyFindingDedup             bool    `yaml:"fuzzy_finding_dedup" json:"fuzzy_finding_dedup"`
	FuzzyFindingWindow            int     `yaml:"fuzzy_finding_window" json:"fuzzy_finding_window"`

	// MaxScoringJobDuration is the soft deadline of one scoring run.
	// Partial progress is recorded in scored_at; the next tick resumes.
	MaxScoringJobDuration time.Duration `yaml:"max_scoring_job_duration" json:"-"`
}

// DefaultPipelineSettings returns the built-in pipeline defaults.
func DefaultPipelineSettings() *PipelineSettings {
	return &PipelineSettings{
		Interval:                      5 * time.Minute,
		WMeta:                         0.7,
		WindowMinutes:                 5,
		ScoringChunkSize:              5000,
		ScoringBatchSize:              20,
		MessageMaxLength:              512,
		ScoreCacheTTLMinutes:          240,
		LowScoreThreshold:             0.1,
		LowScoreMinScorings:           3,
		SeverityFilterEnabled:         true,
		SeveritySkipList:              []string{"debug"},
		SeveritySkipValue:             0,
		SkipZeroScoreMeta:             true,
		FilterZeroScoreMetaEvents:     false,
		ContextSummaries:              5,
		MaxWindowEvents:               200,
		MaxNewFindingsPerWindow:       5,
		MaxOpenFindingsPerSystem:      25,
		AutoResolveAfterMisses:        5,
		SeverityDecayEnabled:          true,
		SeverityDecayAfterOccurrences: 10,
		FindingDedupThreshold:         0.6,
		FuzzyFindingDedup:             false,
		FuzzyFindingWindow:            50,
		MaxScoringJobDuration:         10 * time.Minute,
	}
}

// ApplyOverrides merges app_config rows (key → JSON value) over the
// settings. Keys match the json tags above; unknown keys and undecodable
// values are ignored so a bad row can never break a pipeline run.
func (s *PipelineSettings) ApplyOverrides(overrides map[string]json.RawMessage) *PipelineSettings {
	if len(overrides) == 0 {
		return s
	}

	// Round-trip through JSON: marshal current settings, overlay the raw
	// keys, unmarshal back. Single codec boundary, no per-field switch.
	base, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return s
	}
	for k, v := range overrides {
		if _, known := merged[k]; known && json.Valid(v) {
			merged[k] = v
		}
	}
	combined, err := json.Marshal(merged)
	if err != nil {
		return s
	}

	out := *s
	if err := json.Unmarshal(combined, &out); err != nil {
		// A type-mismatched value decodes the remaining fields anyway;
		// anything else means the merged document is unusable.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return s
		}
	}
	return &out
}

// ScoringBatchLimit caps the batch size at the oracle's supported maximum.
const ScoringBatchLimit = 100

// EffectiveScoringBatchSize returns the batch size clamped to
// [1, ScoringBatchLimit].
func (s *PipelineSettings) EffectiveScoringBatchSize() int {
	n := s.ScoringBatchSize
	if n < 1 {
		n = 1
	}
	if n > ScoringBatchLimit {
		n = ScoringBatchLimit
	}
	return n
}

// WindowWidth returns the window width as a duration.
func (s *PipelineSettings) WindowWidth() time.Duration {
	return time.Duration(s.WindowMinutes) * time.Minute
}
