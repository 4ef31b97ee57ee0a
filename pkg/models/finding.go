package models

import "time"

// Finding lifecycle states. Resolved is terminal.
const (
	FindingStatusOpen         = "open"
	FindingStatusAcknowledged = "acknowledged"
	FindingStatusResolved     = "resolved"
)

// Finding severities, most severe first.
const (
	FindingSeverityCritical = "critical"
	FindingSeverityHigh     = "high"
	FindingSeverityMedium   = "medium"
	FindingSeverityLow      = "low"
	FindingSeverityInfo     = "info"
)

// FindingSeverityRank returns a comparable rank (0 = most severe).
// Unknown severities rank below info.
func FindingSeverityRank(severity string) int {
	switch severity {
	case FindingSeverityCritical:
		return 0
	case FindingSeverityHigh:
		return 1
	case FindingSeverityMedium:
		return 2
	case FindingSeverityLow:
		return 3
	case FindingSeverityInfo:
		return 4
	}
	return 5
}

// DecayedSeverity returns the severity one rank lower
// (critical→high→…→info). Info stays info.
func DecayedSeverity(severity string) string {
	switch severity {
	case FindingSeverityCritical:
		return FindingSeverityHigh
	case FindingSeverityHigh:
		return FindingSeverityMedium
	case FindingSeverityMedium:
		return FindingSeverityLow
	case FindingSeverityLow:
		return FindingSeverityInfo
	}
	return severity
}

// Resolution reasons recorded when a finding leaves the open state.
const (
	FindingResolvedByAnalysis = "analysis"
	FindingResolvedStale      = "stale"
	FindingResolvedOverflow   = "open_limit"
)

// Finding is a persistent, deduplicated issue raised by the meta-analyser.
type Finding struct {
	ID                string     `json:"id"`
	SystemID          string     `json:"system_id"`
	CreatedByMetaID   int64      `json:"created_by_meta_id"`
	ResolvedByMetaID  *int64     `json:"resolved_by_meta_id,omitempty"`
	Text              string     `json:"text"`
	Status            string     `json:"status"`
	Severity          string     `json:"severity"`
	OriginalSeverity  string     `json:"original_severity,omitempty"`
	CriterionSlug     string     `json:"criterion_slug,omitempty"`
	Fingerprint       string     `json:"fingerprint"`
	OccurrenceCount   int        `json:"occurrence_count"`
	ConsecutiveMisses int        `json:"consecutive_misses"`
	ResolutionReason  string     `json:"resolution_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

// NewFinding is a structured finding as emitted by the meta LLM, before it
// enters the lifecycle engine.
type NewFinding struct {
	Text          string `json:"text"`
	Severity      string `json:"severity"`
	CriterionSlug string `json:"criterion,omitempty"`
}
