package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/logsift/logsift/pkg/models"
)

// ListSystems returns every monitored system.
func (s *Store) ListSystems(ctx context.Context) ([]models.MonitoredSystem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, retention_days, timezone_offset_minutes, event_source, created_at
		FROM monitored_systems
		ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("fetch systems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var systems []models.MonitoredSystem
	for rows.Next() {
		sys, err := scanSystem(rows)
		if err != nil {
			return nil, err
		}
		systems = append(systems, sys)
	}
	return systems, rows.Err()
}

// SystemByID returns one monitored system, or nil if absent.
func (s *Store) SystemByID(ctx context.Context, id string) (*models.MonitoredSystem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, retention_days, timezone_offset_minutes, event_source, created_at
		FROM monitored_systems WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("fetch system %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	sys, err := scanSystem(rows)
	if err != nil {
		return nil, err
	}
	return &sys, nil
}

func scanSystem(rows *sql.Rows) (models.MonitoredSystem, error) {
	var sys models.MonitoredSystem
	var description sql.NullString
	var retentionDays, tzOffset sql.NullInt64
	if err := rows.Scan(&sys.ID, &sys.Name, &description, &retentionDays,
		&tzOffset, &sys.EventSource, &sys.CreatedAt); err != nil {
		return sys, fmt.Errorf("scan system: %w", err)
	}
	sys.Description = description.String
	if retentionDays.Valid {
		n := int(retentionDays.Int64)
		sys.RetentionDays = &n
	}
	if tzOffset.Valid {
		n := int(tzOffset.Int64)
		sys.TimezoneOffsetMinutes = &n
	}
	return sys, nil
}

// TimezoneOffsets maps system ids to their timezone offset in minutes.
// Systems without an offset are absent.
func (s *Store) TimezoneOffsets(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timezone_offset_minutes
		FROM monitored_systems
		WHERE timezone_offset_minutes IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("fetch timezone offsets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	offsets := make(map[string]int)
	for rows.Next() {
		var id string
		var minutes int
		if err := rows.Scan(&id, &minutes); err != nil {
			return nil, fmt.Errorf("scan timezone offset: %w", err)
		}
		offsets[id] = minutes
	}
	return offsets, rows.Err()
}

// ListEnabledLogSources returns enabled routing rules across all systems
// ordered by (system_id, priority, id) — the router's evaluation order.
func (s *Store) ListEnabledLogSources(ctx context.Context) ([]models.LogSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, label, selector, priority, enabled
		FROM log_sources
		WHERE enabled
		ORDER BY system_id ASC, priority ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("fetch log sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []models.LogSource
	for rows.Next() {
		var src models.LogSource
		var selector []byte
		if err := rows.Scan(&src.ID, &src.SystemID, &src.Label,
			&selector, &src.Priority, &src.Enabled); err != nil {
			return nil, fmt.Errorf("scan log source: %w", err)
		}
		if err := json.Unmarshal(selector, &src.Selector); err != nil {
			return nil, fmt.Errorf("decode selector for source %s: %w", src.ID, err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// SourceLabels maps log source ids to labels for one system, used when
// the meta prompt names the sources a window's events came from.
func (s *Store) SourceLabels(ctx context.Context, systemID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label FROM log_sources WHERE system_id = $1`, systemID)
	if err != nil {
		return nil, fmt.Errorf("fetch source labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	labels := make(map[string]string)
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("scan source label: %w", err)
		}
		labels[id] = label
	}
	return labels, rows.Err()
}

// NormalBehaviorTemplates returns the enabled routine-behaviour patterns
// for a system.
func (s *Store) NormalBehaviorTemplates(ctx context.Context, systemID string) ([]models.NormalBehaviorTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, message_pattern, host_pattern, program_pattern, enabled
		FROM normal_behavior_templates
		WHERE system_id = $1 AND enabled
		ORDER BY id ASC`, systemID)
	if err != nil {
		return nil, fmt.Errorf("fetch normal behavior templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []models.NormalBehaviorTemplate
	for rows.Next() {
		var t models.NormalBehaviorTemplate
		var hostPattern, programPattern sql.NullString
		if err := rows.Scan(&t.ID, &t.SystemID, &t.MessagePattern,
			&hostPattern, &programPattern, &t.Enabled); err != nil {
			return nil, fmt.Errorf("scan normal behavior template: %w", err)
		}
		t.HostPattern = hostPattern.String
		t.ProgramPattern = programPattern.String
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
