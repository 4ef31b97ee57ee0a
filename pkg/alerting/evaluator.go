package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/logsift/logsift/pkg/models"
)

// Storage is the persistence surface the evaluator needs.
type Storage interface {
	EnabledRules(ctx context.Context) ([]models.NotificationRule, error)
	ChannelByID(ctx context.Context, id string) (*models.NotificationChannel, error)
	ActiveSilences(ctx context.Context, at time.Time) ([]models.Silence, error)
	LatestAlertState(ctx context.Context, ruleID, systemID string, criterionID models.CriterionID) (*models.AlertHistory, error)
	LastDispatchAt(ctx context.Context, ruleID, systemID string, criterionID models.CriterionID) (*time.Time, error)
	InsertAlertHistory(ctx context.Context, h models.AlertHistory) error
}

// Evaluator runs the alert state machine for each enabled rule against a
// freshly analysed window.
type Evaluator struct {
	storage    Storage
	dispatcher Dispatcher
	cronParser cron.Parser
	logger     *slog.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(storage Storage, dispatcher Dispatcher) *Evaluator {
	if storage == nil {
		panic("alerting.NewEvaluator: storage must not be nil")
	}
	if dispatcher == nil {
		panic("alerting.NewEvaluator: dispatcher must not be nil")
	}
	return &Evaluator{
		storage:    storage,
		dispatcher: dispatcher,
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     slog.Default().With("component", "alert-evaluator"),
	}
}

// EvaluateWindow evaluates every enabled rule against one successfully
// analysed window. A failed rule is logged and never blocks the others.
func (e *Evaluator) EvaluateWindow(ctx context.Context, system models.MonitoredSystem, window models.Window, effective []models.EffectiveScore) error {
	rules, err := e.storage.EnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("fetch rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	silences, err := e.storage.ActiveSilences(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fetch silences: %w", err)
	}

	byCriterion := make(map[models.CriterionID]models.EffectiveScore, len(effective))
	for _, es := range effective {
		byCriterion[es.CriterionID] = es
	}

	for _, rule := range rules {
		if !ruleCoversSystem(rule, system.ID) {
			continue
		}
		if err := e.evaluateRule(ctx, rule, system, window, byCriterion, silences); err != nil {
			e.logger.Error("Rule evaluation failed",
				"rule_id", rule.ID, "system_id", system.ID, "error", err)
		}
	}
	return nil
}

func ruleCoversSystem(rule models.NotificationRule, systemID string) bool {
	if len(rule.Trigger.SystemIDs) == 0 {
		return true
	}
	for _, id := range rule.Trigger.SystemIDs {
		if id == systemID {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule models.NotificationRule, system models.MonitoredSystem, window models.Window, scores map[models.CriterionID]models.EffectiveScore, silences []models.Silence) error {
	criterionID, ok := models.CriterionBySlug(rule.Trigger.CriterionSlug)
	if !ok && rule.Trigger.CriterionSlug != "" {
		return fmt.Errorf("unknown criterion %q", rule.Trigger.CriterionSlug)
	}

	var value float64
	var firing bool

	switch rule.Trigger.Type {
	case models.RuleTriggerThreshold:
		if !ok {
			return fmt.Errorf("threshold rule requires a criterion")
		}
		value = scores[criterionID].EffectiveValue
		firing = value >= rule.Trigger.MinScore

	case models.RuleTriggerSchedule:
		sched, err := e.cronParser.Parse(rule.Trigger.CronExpr)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", rule.Trigger.CronExpr, err)
		}
		// The schedule matches when a cron tick falls inside the window.
		due := sched.Next(window.FromTS.Add(-time.Second))
		if !due.Before(window.ToTS) {
			return nil
		}
		if ok {
			value = scores[criterionID].EffectiveValue
		} else {
			for _, es := range scores {
				if es.EffectiveValue > value {
					value = es.EffectiveValue
				}
			}
		}
		firing = value >= rule.Trigger.MinScore

	default:
		return fmt.Errorf("unknown trigger type %q", rule.Trigger.Type)
	}

	prev, err := e.storage.LatestAlertState(ctx, rule.ID, system.ID, criterionID)
	if err != nil {
		return err
	}
	prevState := models.AlertStateResolved
	if prev != nil {
		prevState = prev.State
	}

	suppressed := silenced(silences, rule.ID, system.ID, rule.Trigger.CriterionSlug)
	now := time.Now().UTC()
	windowID := window.ID

	switch {
	case prevState == models.AlertStateResolved && firing:
		h := models.AlertHistory{
			RuleID:      rule.ID,
			SystemID:    system.ID,
			CriterionID: criterionID,
			WindowID:    &windowID,
			State:       models.AlertStateFiring,
			Value:       value,
			Suppressed:  suppressed,
			CreatedAt:   now,
		}
		if !suppressed {
			e.dispatch(ctx, rule, system, models.AlertStateFiring, value)
			h.DispatchedAt = &now
		}
		return e.storage.InsertAlertHistory(ctx, h)

	case prevState == models.AlertStateFiring && firing:
		if rule.NotifyOnlyOnStateChange {
			return nil
		}
		last, err := e.storage.LastDispatchAt(ctx, rule.ID, system.ID, criterionID)
		if err != nil {
			return err
		}
		throttle := time.Duration(rule.ThrottleIntervalSeconds) * time.Second
		if last != nil && now.Sub(*last) < throttle {
			return nil
		}
		h := models.AlertHistory{
			RuleID:      rule.ID,
			SystemID:    system.ID,
			CriterionID: criterionID,
			WindowID:    &windowID,
			State:       models.AlertStateFiring,
			Value:       value,
			Suppressed:  suppressed,
			CreatedAt:   now,
		}
		if !suppressed {
			e.dispatch(ctx, rule, system, models.AlertStateFiring, value)
			h.DispatchedAt = &now
		}
		return e.storage.InsertAlertHistory(ctx, h)

	case prevState == models.AlertStateFiring && !firing:
		h := models.AlertHistory{
			RuleID:      rule.ID,
			SystemID:    system.ID,
			CriterionID: criterionID,
			WindowID:    &windowID,
			State:       models.AlertStateResolved,
			Value:       value,
			Suppressed:  suppressed,
			CreatedAt:   now,
		}
		if rule.SendRecovery && !suppressed {
			e.dispatch(ctx, rule, system, models.AlertStateResolved, value)
			h.DispatchedAt = &now
		}
		return e.storage.InsertAlertHistory(ctx, h)
	}

	// resolved → resolved: nothing to record.
	return nil
}

func silenced(silences []models.Silence, ruleID, systemID, criterionSlug string) bool {
	for _, s := range silences {
		if s.Matches(ruleID, systemID, criterionSlug) {
			return true
		}
	}
	return false
}

// dispatch delivers fail-open: a channel failure is logged and never
// fails the evaluation (the history row is still written).
func (e *Evaluator) dispatch(ctx context.Context, rule models.NotificationRule, system models.MonitoredSystem, variant string, value float64) {
	channel, err := e.storage.ChannelByID(ctx, rule.ChannelID)
	if err != nil {
		e.logger.Error("Failed to load channel", "rule_id", rule.ID, "channel_id", rule.ChannelID, "error", err)
		return
	}
	if channel == nil || !channel.Enabled {
		e.logger.Warn("Rule points at missing or disabled channel", "rule_id", rule.ID, "channel_id", rule.ChannelID)
		return
	}

	n := Notification{
		Title:      fmt.Sprintf("[%s] %s", system.Name, rule.Name),
		Body:       fmt.Sprintf("Rule %q is %s for %s (value %.2f)", rule.Name, variant, system.Name, value),
		Severity:   valueSeverity(value),
		Variant:    variant,
		SystemName: system.Name,
		Criterion:  rule.Trigger.CriterionSlug,
	}
	if err := e.dispatcher.Dispatch(ctx, *channel, n); err != nil {
		e.logger.Error("Notification dispatch failed",
			"rule_id", rule.ID, "channel_id", channel.ID, "error", err)
	}
}

// valueSeverity maps an effective score to a coarse severity label for
// the notification payload.
func valueSeverity(value float64) string {
	switch {
	case value >= 0.9:
		return models.FindingSeverityCritical
	case value >= 0.75:
		return models.FindingSeverityHigh
	case value >= 0.5:
		return models.FindingSeverityMedium
	}
	return models.FindingSeverityLow
}
