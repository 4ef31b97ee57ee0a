package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// TemplateUpsert is one batch-local template group to persist.
type TemplateUpsert struct {
	PatternHash string
	Text        string
	Occurrences int64
}

// UpsertTemplates inserts new templates and bumps occurrence counters on
// existing ones, returning the current row for every pattern hash
// (including cache columns, so the scorer can decide on cache hits).
func (s *Store) UpsertTemplates(ctx context.Context, systemID string, now time.Time, upserts []TemplateUpsert) (map[string]models.MessageTemplate, error) {
	out := make(map[string]models.MessageTemplate, len(upserts))
	for _, u := range upserts {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO message_templates
				(system_id, template_text, pattern_hash, occurrence_count, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (system_id, pattern_hash) DO UPDATE SET
				occurrence_count = message_templates.occurrence_count + EXCLUDED.occurrence_count,
				last_seen_at = EXCLUDED.last_seen_at
			RETURNING id, system_id, template_text, pattern_hash,
				occurrence_count, first_seen_at, last_seen_at,
				last_scored_at, cached_scores, score_count, avg_max_score`,
			systemID, u.Text, u.PatternHash, u.Occurrences, now)

		tpl, err := scanTemplate(row)
		if err != nil {
			return nil, fmt.Errorf("upsert template %s: %w", u.PatternHash, err)
		}
		out[u.PatternHash] = tpl
	}
	return out, nil
}

// UpdateTemplateScores refreshes cache columns for a batch of templates in
// a single UPDATE … FROM (VALUES …) statement: cached_scores,
// last_scored_at, score_count+1, and the running avg_max_score.
func (s *Store) UpdateTemplateScores(ctx context.Context, updates []models.TemplateScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	const cols = 4 // id, scores json, max score, scored_at
	chunk := chunkRows(cols)
	for start := 0; start < len(updates); start += chunk {
		end := start + chunk
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		args := make([]any, 0, len(batch)*cols)
		for _, u := range batch {
			scores, err := json.Marshal(u.Scores)
			if err != nil {
				return fmt.Errorf("encode cached scores: %w", err)
			}
			args = append(args, u.TemplateID, scores, u.Scores.Max(), u.ScoredAt)
		}

		query := `UPDATE message_templates AS t SET
				cached_scores = v.scores::jsonb,
				last_scored_at = v.scored_at::timestamptz,
				avg_max_score = (t.avg_max_score * t.score_count + v.max_score::float8) / (t.score_count + 1),
				score_count = t.score_count + 1
			FROM (VALUES ` + placeholders(len(batch), cols) + `)
				AS v(id, scores, max_score, scored_at)
			WHERE t.id = v.id::bigint`

		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update template scores: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (models.MessageTemplate, error) {
	var tpl models.MessageTemplate
	var lastScoredAt sql.NullTime
	var cached []byte

	if err := row.Scan(
		&tpl.ID, &tpl.SystemID, &tpl.TemplateText, &tpl.PatternHash,
		&tpl.OccurrenceCount, &tpl.FirstSeenAt, &tpl.LastSeenAt,
		&lastScoredAt, &cached, &tpl.ScoreCount, &tpl.AvgMaxScore,
	); err != nil {
		return tpl, err
	}
	if lastScoredAt.Valid {
		t := lastScoredAt.Time
		tpl.LastScoredAt = &t
	}
	if len(cached) > 0 {
		var scores models.ScoreVector
		if err := json.Unmarshal(cached, &scores); err != nil {
			return tpl, fmt.Errorf("decode cached scores: %w", err)
		}
		tpl.CachedScores = &scores
	}
	return tpl, nil
}
