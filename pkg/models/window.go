package models

import "time"

// Window trigger tags.
const (
	WindowTriggerTime       = "time"
	WindowTriggerEventCount = "event-count"
)

// Window is a closed-open interval [FromTS, ToTS) scoped to one system.
// Exactly one meta-analysis is produced per window.
type Window struct {
	ID         int64      `json:"id"`
	SystemID   string     `json:"system_id"`
	FromTS     time.Time  `json:"from_ts"`
	ToTS       time.Time  `json:"to_ts"`
	Trigger    string     `json:"trigger"`
	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}

// MetaResult is the per-window meta-analysis output.
type MetaResult struct {
	ID                int64        `json:"id"`
	WindowID          int64        `json:"window_id"`
	SystemID          string       `json:"system_id"`
	MetaScores        ScoreVector  `json:"meta_scores"`
	Summary           string       `json:"summary"`
	NewFindings       []NewFinding `json:"new_findings,omitempty"`
	RecommendedAction string       `json:"recommended_action,omitempty"`
	KeyEventIDs       []int64      `json:"key_event_ids,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// EffectiveScore is the dashboard read model: the blended per-window,
// per-criterion score.
type EffectiveScore struct {
	WindowID       int64       `json:"window_id"`
	SystemID       string      `json:"system_id"`
	CriterionID    CriterionID `json:"criterion_id"`
	EffectiveValue float64     `json:"effective_value"`
	MetaScore      float64     `json:"meta_score"`
	MaxEventScore  float64     `json:"max_event_score"`
}

// LLM run types recorded in llm_usage.
const (
	LlmRunScoring = "scoring"
	LlmRunMeta    = "meta"
)

// LlmUsage is one audit row per LLM call.
type LlmUsage struct {
	ID           int64     `json:"id"`
	RunType      string    `json:"run_type"`
	Model        string    `json:"model"`
	SystemID     string    `json:"system_id,omitempty"`
	WindowID     *int64    `json:"window_id,omitempty"`
	EventCount   int       `json:"event_count"`
	TokenInput   int       `json:"token_input"`
	TokenOutput  int       `json:"token_output"`
	RequestCount int       `json:"request_count"`
	CostEstimate float64   `json:"cost_estimate"`
	CreatedAt    time.Time `json:"created_at"`
}
