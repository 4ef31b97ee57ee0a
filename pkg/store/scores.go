package store

import (
	"context"
	"fmt"

	"github.com/logsift/logsift/pkg/models"
)

// scoreFetchChunk is the number of event ids per score lookup query.
const scoreFetchChunk = 100

// InsertEventScores writes per-event, per-criterion score rows. Callers
// must pass only non-zero scores (absence implies zero). Idempotent via
// ON CONFLICT DO NOTHING on (event_id, criterion_id, score_type).
func (s *Store) InsertEventScores(ctx context.Context, scores []models.EventScore) error {
	if len(scores) == 0 {
		return nil
	}

	const cols = 4
	chunk := chunkRows(cols)
	for start := 0; start < len(scores); start += chunk {
		end := start + chunk
		if end > len(scores) {
			end = len(scores)
		}
		batch := scores[start:end]

		args := make([]any, 0, len(batch)*cols)
		for _, sc := range batch {
			args = append(args, sc.EventID, int(sc.CriterionID), sc.ScoreType, sc.Score)
		}

		query := `INSERT INTO event_scores (event_id, criterion_id, score_type, score)
			VALUES ` + placeholders(len(batch), cols) + `
			ON CONFLICT (event_id, criterion_id, score_type) DO NOTHING`

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert event scores: %w", err)
		}
	}
	return nil
}

// ScoresForEvents folds the score rows for the given events into one
// vector per event id. Events without rows are absent from the map
// (all-zero). Lookups run in chunks of 100 ids.
func (s *Store) ScoresForEvents(ctx context.Context, eventIDs []int64) (map[int64]models.ScoreVector, error) {
	out := make(map[int64]models.ScoreVector)
	for start := 0; start < len(eventIDs); start += scoreFetchChunk {
		end := start + scoreFetchChunk
		if end > len(eventIDs) {
			end = len(eventIDs)
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT event_id, criterion_id, score
			FROM event_scores
			WHERE event_id = ANY($1) AND score_type = $2`,
			eventIDs[start:end], models.ScoreTypeEvent)
		if err != nil {
			return nil, fmt.Errorf("fetch event scores: %w", err)
		}

		for rows.Next() {
			var eventID int64
			var criterionID int
			var score float64
			if err := rows.Scan(&eventID, &criterionID, &score); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan event score: %w", err)
			}
			v := out[eventID]
			v.Set(models.CriterionID(criterionID), score)
			out[eventID] = v
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// HasNonZeroScores reports whether any event in [from, to) for the system
// has a score row. Used for the skip-zero-score meta optimisation.
func (s *Store) HasNonZeroScores(ctx context.Context, systemID string, window models.Window) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM event_scores es
			JOIN events e ON e.id = es.event_id
			WHERE e.system_id = $1
			  AND e.timestamp >= $2 AND e.timestamp < $3
		)`, systemID, window.FromTS, window.ToTS).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check window scores: %w", err)
	}
	return exists, nil
}
