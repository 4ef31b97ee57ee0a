package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

const eventInsertCols = 16

// InsertEvents writes a batch of normalised events, deduplicating on
// (normalized_hash, timestamp). Returns the number of rows actually
// inserted; the difference to len(events) is the dedup count.
func (s *Store) InsertEvents(ctx context.Context, events []models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	inserted := 0
	chunk := chunkRows(eventInsertCols)
	for start := 0; start < len(events); start += chunk {
		end := start + chunk
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]

		args := make([]any, 0, len(batch)*eventInsertCols)
		for _, ev := range batch {
			raw, err := encodeRaw(ev.Raw)
			if err != nil {
				return inserted, fmt.Errorf("encode raw fields: %w", err)
			}
			args = append(args,
				ev.SystemID, ev.LogSourceID, ev.Timestamp, ev.ReceivedAt,
				ev.Message, nullString(ev.Severity), nullString(ev.Host),
				nullString(ev.SourceIP), nullString(ev.Service),
				nullString(ev.Facility), nullString(ev.Program),
				nullString(ev.TraceID), nullString(ev.SpanID),
				nullString(ev.ExternalID), raw, ev.NormalizedHash,
			)
		}

		query := `INSERT INTO events
			(system_id, log_source_id, timestamp, received_at, message,
			 severity, host, source_ip, service, facility, program,
			 trace_id, span_id, external_id, raw, normalized_hash)
			VALUES ` + placeholders(len(batch), eventInsertCols) + `
			ON CONFLICT (normalized_hash, timestamp) DO NOTHING`

		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert events: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("insert events rows affected: %w", err)
		}
		inserted += int(n)
	}
	return inserted, nil
}

const eventColumns = `id, system_id, log_source_id, template_id, timestamp,
	received_at, message, severity, host, source_ip, service, facility,
	program, trace_id, span_id, external_id, raw, normalized_hash,
	scored_at, acknowledged_at`

// FetchUnscoredEvents returns up to limit unscored, unacknowledged events
// for a system, oldest first.
func (s *Store) FetchUnscoredEvents(ctx context.Context, systemID string, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM events
		WHERE system_id = $1 AND scored_at IS NULL AND acknowledged_at IS NULL
		ORDER BY timestamp ASC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unscored events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// EventsInRange returns events with timestamp in [from, to) for a system,
// ordered by time, capped at limit.
func (s *Store) EventsInRange(ctx context.Context, systemID string, from, to time.Time, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM events
		WHERE system_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC
		LIMIT $4`, systemID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch window events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// MarkEventsScored stamps scored_at on the given events. This is the
// authoritative "seen by the scorer" marker.
func (s *Store) MarkEventsScored(ctx context.Context, eventIDs []int64, scoredAt time.Time) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET scored_at = $1 WHERE id = ANY($2)`, scoredAt, eventIDs)
	if err != nil {
		return fmt.Errorf("mark events scored: %w", err)
	}
	return nil
}

// AssignEventTemplates links events to their message template.
func (s *Store) AssignEventTemplates(ctx context.Context, templateID int64, eventIDs []int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET template_id = $1 WHERE id = ANY($2)`, templateID, eventIDs)
	if err != nil {
		return fmt.Errorf("assign event templates: %w", err)
	}
	return nil
}

// EventBucketStarts returns the distinct epoch-aligned bucket starts that
// contain at least one event for the system, considering only buckets that
// end at or before the cutoff.
func (s *Store) EventBucketStarts(ctx context.Context, systemID string, width time.Duration, before time.Time) ([]time.Time, error) {
	widthSec := int64(width / time.Second)
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT to_timestamp(floor(extract(epoch FROM timestamp) / $2) * $2) AS bucket
		FROM events
		WHERE system_id = $1
		  AND timestamp < to_timestamp(floor(extract(epoch FROM $3::timestamptz) / $2) * $2)
		ORDER BY bucket ASC`, systemID, widthSec, before)
	if err != nil {
		return nil, fmt.Errorf("event bucket starts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var buckets []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, t.UTC())
	}
	return buckets, rows.Err()
}

// DeleteEventsBefore removes up to chunkSize events older than the cutoff
// for a system and returns the number deleted. Each call is one
// transaction; callers loop until the count comes back zero.
func (s *Store) DeleteEventsBefore(ctx context.Context, systemID string, cutoff time.Time, chunkSize int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events
			WHERE system_id = $1 AND timestamp < $2
			ORDER BY timestamp ASC
			LIMIT $3
		)`, systemID, cutoff, chunkSize)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var severity, host, sourceIP, service, facility, program sql.NullString
		var traceID, spanID, externalID sql.NullString
		var templateID sql.NullInt64
		var raw []byte
		var scoredAt, ackedAt sql.NullTime

		if err := rows.Scan(
			&ev.ID, &ev.SystemID, &ev.LogSourceID, &templateID,
			&ev.Timestamp, &ev.ReceivedAt, &ev.Message, &severity,
			&host, &sourceIP, &service, &facility, &program,
			&traceID, &spanID, &externalID, &raw, &ev.NormalizedHash,
			&scoredAt, &ackedAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		ev.Severity = severity.String
		ev.Host = host.String
		ev.SourceIP = sourceIP.String
		ev.Service = service.String
		ev.Facility = facility.String
		ev.Program = program.String
		ev.TraceID = traceID.String
		ev.SpanID = spanID.String
		ev.ExternalID = externalID.String
		if templateID.Valid {
			ev.TemplateID = &templateID.Int64
		}
		if scoredAt.Valid {
			t := scoredAt.Time
			ev.ScoredAt = &t
		}
		if ackedAt.Valid {
			t := ackedAt.Time
			ev.AcknowledgedAt = &t
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Raw); err != nil {
				return nil, fmt.Errorf("decode raw fields: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func encodeRaw(raw map[string]any) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
