package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// EnabledRules returns every enabled notification rule with its decoded
// trigger and filters.
func (s *Store) EnabledRules(ctx context.Context) ([]models.NotificationRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, channel_id, trigger_config, filters,
			throttle_interval_seconds, send_recovery, notify_only_on_state_change, enabled
		FROM notification_rules
		WHERE enabled
		ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("fetch notification rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []models.NotificationRule
	for rows.Next() {
		var r models.NotificationRule
		var trigger, filters []byte
		if err := rows.Scan(&r.ID, &r.Name, &r.ChannelID, &trigger, &filters,
			&r.ThrottleIntervalSeconds, &r.SendRecovery,
			&r.NotifyOnlyOnStateChange, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan notification rule: %w", err)
		}
		if err := json.Unmarshal(trigger, &r.Trigger); err != nil {
			return nil, fmt.Errorf("decode trigger config for rule %s: %w", r.ID, err)
		}
		if len(filters) > 0 {
			if err := json.Unmarshal(filters, &r.Filters); err != nil {
				return nil, fmt.Errorf("decode filters for rule %s: %w", r.ID, err)
			}
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ChannelByID returns one notification channel.
func (s *Store) ChannelByID(ctx context.Context, id string) (*models.NotificationChannel, error) {
	var ch models.NotificationChannel
	var cfg []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, config, enabled
		FROM notification_channels WHERE id = $1`, id).
		Scan(&ch.ID, &ch.Name, &ch.Kind, &cfg, &ch.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	if err := json.Unmarshal(cfg, &ch.Config); err != nil {
		return nil, fmt.Errorf("decode channel config %s: %w", id, err)
	}
	return &ch, nil
}

// ActiveSilences returns the silences whose window covers the instant.
func (s *Store) ActiveSilences(ctx context.Context, at time.Time) ([]models.Silence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, criterion_slug, rule_id, starts_at, ends_at, comment
		FROM silences
		WHERE starts_at <= $1 AND ends_at > $1`, at)
	if err != nil {
		return nil, fmt.Errorf("fetch active silences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var silences []models.Silence
	for rows.Next() {
		var sil models.Silence
		var systemID, criterionSlug, ruleID, comment sql.NullString
		if err := rows.Scan(&sil.ID, &systemID, &criterionSlug, &ruleID,
			&sil.StartsAt, &sil.EndsAt, &comment); err != nil {
			return nil, fmt.Errorf("scan silence: %w", err)
		}
		sil.SystemID = systemID.String
		sil.CriterionSlug = criterionSlug.String
		sil.RuleID = ruleID.String
		sil.Comment = comment.String
		silences = append(silences, sil)
	}
	return silences, rows.Err()
}

// LatestAlertState returns the most recent state row for a (rule, system,
// criterion) triple, or nil when none exists yet. Suppressed rows count:
// a silenced transition still moves the state machine. Schedule rules
// without a criterion key on a NULL criterion_id (criterionID 0).
func (s *Store) LatestAlertState(ctx context.Context, ruleID, systemID string, criterionID models.CriterionID) (*models.AlertHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, system_id, criterion_id, window_id, state, value,
			suppressed, dispatched_at, created_at
		FROM alert_history
		WHERE rule_id = $1 AND system_id = $2 AND criterion_id IS NOT DISTINCT FROM $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, ruleID, systemID, nullCriterion(criterionID))
	if err != nil {
		return nil, fmt.Errorf("fetch latest alert state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	history, err := scanAlertHistory(rows)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

// LastDispatchAt returns the most recent dispatch time for the triple in
// firing state, or nil. This is the throttle reference point.
func (s *Store) LastDispatchAt(ctx context.Context, ruleID, systemID string, criterionID models.CriterionID) (*time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(dispatched_at)
		FROM alert_history
		WHERE rule_id = $1 AND system_id = $2 AND criterion_id IS NOT DISTINCT FROM $3 AND state = $4`,
		ruleID, systemID, nullCriterion(criterionID), models.AlertStateFiring).Scan(&at)
	if err != nil {
		return nil, fmt.Errorf("fetch last dispatch: %w", err)
	}
	if !at.Valid {
		return nil, nil
	}
	t := at.Time
	return &t, nil
}

// InsertAlertHistory appends one alert history row.
func (s *Store) InsertAlertHistory(ctx context.Context, h models.AlertHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history
			(rule_id, system_id, criterion_id, window_id, state, value, suppressed, dispatched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.RuleID, h.SystemID, nullCriterion(h.CriterionID), h.WindowID, h.State,
		h.Value, h.Suppressed, h.DispatchedAt, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

// nullCriterion maps the zero CriterionID (schedule rules without a
// criterion scope) to SQL NULL.
func nullCriterion(id models.CriterionID) any {
	if id == 0 {
		return nil
	}
	return int(id)
}

func scanAlertHistory(rows *sql.Rows) ([]models.AlertHistory, error) {
	var history []models.AlertHistory
	for rows.Next() {
		var h models.AlertHistory
		var criterionID sql.NullInt64
		var windowID sql.NullInt64
		var dispatchedAt sql.NullTime
		if err := rows.Scan(&h.ID, &h.RuleID, &h.SystemID, &criterionID,
			&windowID, &h.State, &h.Value, &h.Suppressed,
			&dispatchedAt, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert history: %w", err)
		}
		h.CriterionID = models.CriterionID(criterionID.Int64)
		if windowID.Valid {
			h.WindowID = &windowID.Int64
		}
		if dispatchedAt.Valid {
			t := dispatchedAt.Time
			h.DispatchedAt = &t
		}
		history = append(history, h)
	}
	return history, rows.Err()
}
