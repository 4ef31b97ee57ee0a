package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// DefaultScoringPrompt is the built-in system prompt for per-event scoring.
const DefaultScoringPrompt = `You are a log risk analyst. You receive a JSON array of log events.
For each event, score it on six criteria, each a float between 0 and 1:
it_security, performance_degradation, failure_prediction, anomaly, compliance_audit, operational_risk.
0 means entirely routine, 1 means a severe signal on that axis.
Return exactly: {"scores": [ ... ]} with one element per input event, in input order.
Each element is an object with the six criterion fields. Return JSON only.`

// DefaultMetaPrompt is the built-in system prompt for windowed
// meta-analysis.
const DefaultMetaPrompt = `You are a log risk analyst performing a windowed meta-analysis.
You receive the system specification, previous window summaries (newest first),
currently-open findings indexed 1..N, and the current window's deduplicated
event groups with their per-criterion scores.
Return a JSON object:
{"meta_scores": {it_security, performance_degradation, failure_prediction, anomaly, compliance_audit, operational_risk},
 "summary": "2-4 sentences describing the window",
 "new_findings": [{"text": "...", "severity": "critical|high|medium|low|info", "criterion": "optional slug"}],
 "resolved_indices": [indices of open findings that this window shows are resolved],
 "recommended_action": "optional",
 "key_event_ids": [optional event ids]}
Only report genuinely new findings; reference existing findings via resolved_indices
when the window shows they no longer apply. Return JSON only.`

// ScoringInput is one template representative sent to the oracle.
type ScoringInput struct {
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

func (c *Client) scoringSystemPrompt(systemSpec string) string {
	prompt := c.cfg.ScoringPrompt
	if prompt == "" {
		prompt = DefaultScoringPrompt
	}
	if systemSpec != "" {
		prompt += "\n\nSystem under analysis:\n" + systemSpec
	}
	return prompt
}

// FindingContext is one currently-open finding with its stable 1-based
// index for the oracle to reference in resolved_indices.
type FindingContext struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	Severity      string `json:"severity"`
	CriterionSlug string `json:"criterion,omitempty"`
}

// EventGroup is one template-deduplicated group of window events.
type EventGroup struct {
	Message         string             `json:"message"`
	Severity        string             `json:"severity,omitempty"`
	OccurrenceCount int                `json:"occurrence_count"`
	Scores          models.ScoreVector `json:"scores"`
	EventIDs        []int64            `json:"event_ids,omitempty"`
}

// MetaRequest carries everything the meta prompt needs for one window.
type MetaRequest struct {
	SystemName        string
	SystemSpec        string
	WindowFrom        time.Time
	WindowTo          time.Time
	SourceLabels      []string
	PreviousSummaries []string
	OpenFindings      []FindingContext
	Groups            []EventGroup
}

type metaUserPayload struct {
	Window            string           `json:"window"`
	System            string           `json:"system"`
	Sources           []string         `json:"sources,omitempty"`
	PreviousSummaries []string         `json:"previous_summaries,omitempty"`
	OpenFindings      []FindingContext `json:"open_findings,omitempty"`
	EventGroups       []EventGroup     `json:"event_groups"`
}

func (c *Client) metaSystemPrompt(systemSpec string) string {
	prompt := c.cfg.MetaPrompt
	if prompt == "" {
		prompt = DefaultMetaPrompt
	}
	if systemSpec != "" {
		prompt += "\n\nSystem specification:\n" + systemSpec
	}
	return prompt
}

func buildMetaUserPrompt(req MetaRequest) (string, error) {
	payload := metaUserPayload{
		Window: fmt.Sprintf("[%s, %s)",
			req.WindowFrom.UTC().Format(time.RFC3339),
			req.WindowTo.UTC().Format(time.RFC3339)),
		System:            req.SystemName,
		Sources:           req.SourceLabels,
		PreviousSummaries: req.PreviousSummaries,
		OpenFindings:      req.OpenFindings,
		EventGroups:       req.Groups,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal meta payload: %w", err)
	}
	return string(data), nil
}

func buildScoringUserPrompt(inputs []ScoringInput) (string, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("marshal scoring payload: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Score these %d events:\n", len(inputs))
	b.Write(data)
	return b.String(), nil
}
