package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Syslog severity names (RFC 5424), most severe first.
const (
	SeverityEmergency = "emerg"
	SeverityAlert     = "alert"
	SeverityCritical  = "crit"
	SeverityError     = "error"
	SeverityWarning   = "warning"
	SeverityNotice    = "notice"
	SeverityInfo      = "info"
	SeverityDebug     = "debug"
)

// SeverityRank returns a comparable rank for a syslog severity name
// (0 = most severe). Unknown severities rank below debug.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityEmergency:
		return 0
	case SeverityAlert:
		return 1
	case SeverityCritical:
		return 2
	case SeverityError:
		return 3
	case SeverityWarning:
		return 4
	case SeverityNotice:
		return 5
	case SeverityInfo:
		return 6
	case SeverityDebug:
		return 7
	}
	return 8
}

// Event is a single normalised log line owned by exactly one system.
type Event struct {
	ID             int64          `json:"id"`
	SystemID       string         `json:"system_id"`
	LogSourceID    string         `json:"log_source_id"`
	TemplateID     *int64         `json:"template_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	ReceivedAt     time.Time      `json:"received_at"`
	Message        string         `json:"message"`
	Severity       string         `json:"severity,omitempty"`
	Host           string         `json:"host,omitempty"`
	SourceIP       string         `json:"source_ip,omitempty"`
	Service        string         `json:"service,omitempty"`
	Facility       string         `json:"facility,omitempty"`
	Program        string         `json:"program,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
	SpanID         string         `json:"span_id,omitempty"`
	ExternalID     string         `json:"external_id,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
	NormalizedHash string         `json:"normalized_hash"`
	ScoredAt       *time.Time     `json:"scored_at,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}

// NormalizedHash computes the dedup hash over the identity fields.
// Fields are joined with a null byte so no field value can shift content
// into a neighbouring field and forge a collision.
func NormalizedHash(timestamp time.Time, message, host, sourceIP, service, program, facility string) string {
	h := sha256.New()
	parts := []string{
		timestamp.UTC().Format(time.RFC3339Nano),
		message, host, sourceIP, service, program, facility,
	}
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EventScore is one non-zero per-event, per-criterion score.
// Zero scores are never persisted; absence implies zero.
type EventScore struct {
	EventID     int64       `json:"event_id"`
	CriterionID CriterionID `json:"criterion_id"`
	ScoreType   string      `json:"score_type"`
	Score       float64     `json:"score"`
}

// ScoreTypeEvent is the only score_type currently written.
const ScoreTypeEvent = "event"
