package models

import "time"

// Notification rule trigger types.
const (
	RuleTriggerThreshold = "threshold"
	RuleTriggerSchedule  = "schedule"
)

// Alert states recorded in alert_history.
const (
	AlertStateFiring   = "firing"
	AlertStateResolved = "resolved"
)

// NotificationChannel is a delivery target. Config is adapter-specific;
// secret values are env: references resolved at dispatch time, never
// stored plaintext.
type NotificationChannel struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Config  map[string]string `json:"config"`
	Enabled bool              `json:"enabled"`
}

// RuleTrigger is the trigger_config of a notification rule.
type RuleTrigger struct {
	Type          string   `json:"type"`
	CriterionSlug string   `json:"criterion,omitempty"`
	MinScore      float64  `json:"min_score,omitempty"`
	SystemIDs     []string `json:"systems,omitempty"`
	CronExpr      string   `json:"cron,omitempty"`
}

// NotificationRule decides when a channel is notified.
type NotificationRule struct {
	ID                      string            `json:"id"`
	Name                    string            `json:"name"`
	ChannelID               string            `json:"channel_id"`
	Trigger                 RuleTrigger       `json:"trigger_config"`
	Filters                 map[string]string `json:"filters,omitempty"`
	ThrottleIntervalSeconds int               `json:"throttle_interval_seconds"`
	SendRecovery            bool              `json:"send_recovery"`
	NotifyOnlyOnStateChange bool              `json:"notify_only_on_state_change"`
	Enabled                 bool              `json:"enabled"`
}

// Silence suppresses dispatch for a matching scope while active.
// Empty scope fields match everything.
type Silence struct {
	ID            string    `json:"id"`
	SystemID      string    `json:"system_id,omitempty"`
	CriterionSlug string    `json:"criterion_slug,omitempty"`
	RuleID        string    `json:"rule_id,omitempty"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
	Comment       string    `json:"comment,omitempty"`
}

// Active reports whether the silence covers the given instant.
func (s Silence) Active(at time.Time) bool {
	return !at.Before(s.StartsAt) && at.Before(s.EndsAt)
}

// Matches reports whether the silence scope covers the rule/system/criterion
// triple. Empty scope fields are wildcards.
func (s Silence) Matches(ruleID, systemID, criterionSlug string) bool {
	if s.RuleID != "" && s.RuleID != ruleID {
		return false
	}
	if s.SystemID != "" && s.SystemID != systemID {
		return false
	}
	if s.CriterionSlug != "" && s.CriterionSlug != criterionSlug {
		return false
	}
	return true
}

// AlertHistory records every alert state transition (and throttled or
// suppressed dispatches) for a (rule, system, criterion) triple.
type AlertHistory struct {
	ID            int64       `json:"id"`
	RuleID        string      `json:"rule_id"`
	SystemID      string      `json:"system_id"`
	CriterionID   CriterionID `json:"criterion_id"`
	WindowID      *int64      `json:"window_id,omitempty"`
	State         string      `json:"state"`
	Value         float64     `json:"value"`
	Suppressed    bool        `json:"suppressed"`
	DispatchedAt  *time.Time  `json:"dispatched_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
