package models

import "time"

// MessageTemplate is the canonicalised form of a message, the unit of LLM
// scoring work. Cache columns let repeated patterns skip the oracle.
type MessageTemplate struct {
	ID              int64        `json:"id"`
	SystemID        string       `json:"system_id"`
	TemplateText    string       `json:"template_text"`
	PatternHash     string       `json:"pattern_hash"`
	OccurrenceCount int64        `json:"occurrence_count"`
	FirstSeenAt     time.Time    `json:"first_seen_at"`
	LastSeenAt      time.Time    `json:"last_seen_at"`
	LastScoredAt    *time.Time   `json:"last_scored_at,omitempty"`
	CachedScores    *ScoreVector `json:"cached_scores,omitempty"`
	ScoreCount      int          `json:"score_count"`
	AvgMaxScore     float64      `json:"avg_max_score"`
}

// TemplateRepresentative groups the events in one batch that share a
// pattern hash. The representative message is what the LLM sees; the score
// vector fans out to every event in EventIDs.
type TemplateRepresentative struct {
	TemplateID            int64
	SystemID              string
	PatternHash           string
	RepresentativeEventID int64
	RepresentativeMessage string
	RepresentativeSeverity string
	EventIDs              []int64
}

// TemplateScoreUpdate carries one template's refreshed cache columns after
// a scoring pass.
type TemplateScoreUpdate struct {
	TemplateID int64
	Scores     ScoreVector
	ScoredAt   time.Time
}
