package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// InsertWindow creates a window if it does not exist yet. Uniqueness on
// (system_id, from_ts, to_ts) makes re-runs no-ops. Returns true when a
// row was actually created.
func (s *Store) InsertWindow(ctx context.Context, systemID string, from, to time.Time, trigger string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO windows (system_id, from_ts, to_ts, trigger)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (system_id, from_ts, to_ts) DO NOTHING`,
		systemID, from, to, trigger)
	if err != nil {
		return false, fmt.Errorf("insert window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert window rows affected: %w", err)
	}
	return n > 0, nil
}

// UnanalyzedWindows returns the windows for a system that have no
// meta-analysis yet, oldest first.
func (s *Store) UnanalyzedWindows(ctx context.Context, systemID string) ([]models.Window, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, system_id, from_ts, to_ts, trigger, created_at, analyzed_at
		FROM windows
		WHERE system_id = $1 AND analyzed_at IS NULL
		ORDER BY from_ts ASC`, systemID)
	if err != nil {
		return nil, fmt.Errorf("fetch unanalyzed windows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var windows []models.Window
	for rows.Next() {
		var w models.Window
		var analyzedAt sql.NullTime
		if err := rows.Scan(&w.ID, &w.SystemID, &w.FromTS, &w.ToTS, &w.Trigger, &w.CreatedAt, &analyzedAt); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		if analyzedAt.Valid {
			t := analyzedAt.Time
			w.AnalyzedAt = &t
		}
		w.FromTS = w.FromTS.UTC()
		w.ToTS = w.ToTS.UTC()
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// MarkWindowFailed records a window whose meta-analysis could not be
// parsed: analyzed_at is set with the failed flag so it is not retried,
// and no effective scores or alerts are produced for it.
func (s *Store) MarkWindowFailed(ctx context.Context, windowID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE windows SET analyzed_at = $1, failed = TRUE WHERE id = $2`, at, windowID)
	if err != nil {
		return fmt.Errorf("mark window failed: %w", err)
	}
	return nil
}

// DeleteWindowsBefore removes windows (and their meta results via cascade)
// that end before the cutoff.
func (s *Store) DeleteWindowsBefore(ctx context.Context, systemID string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM windows WHERE system_id = $1 AND to_ts < $2`, systemID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old windows: %w", err)
	}
	return res.RowsAffected()
}
