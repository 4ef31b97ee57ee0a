package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// MetaWrite is everything persisted for one analysed window. The write is
// one transaction: meta result, effective scores, LLM usage, and the
// window's analyzed_at stamp commit together or not at all.
type MetaWrite struct {
	Window            models.Window
	MetaScores        models.ScoreVector
	Summary           string
	NewFindings       []models.NewFinding
	RecommendedAction string
	KeyEventIDs       []int64
	WMeta             float64
	Usage             models.LlmUsage
	AnalyzedAt        time.Time
}

// SaveMetaAnalysis persists a window's meta-analysis and returns the meta
// id plus the effective scores written (for alert evaluation).
//
// Effective blending (per criterion): if the window's max event score is
// zero, both the meta score and the effective value clamp to zero;
// otherwise effective = w_meta*meta + (1-w_meta)*max_event.
func (s *Store) SaveMetaAnalysis(ctx context.Context, w MetaWrite) (int64, []models.EffectiveScore, error) {
	var metaID int64
	var effective []models.EffectiveScore

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		findings, err := json.Marshal(w.NewFindings)
		if err != nil {
			return fmt.Errorf("encode findings: %w", err)
		}
		metaScores, err := json.Marshal(w.MetaScores)
		if err != nil {
			return fmt.Errorf("encode meta scores: %w", err)
		}
		keyEvents, err := json.Marshal(w.KeyEventIDs)
		if err != nil {
			return fmt.Errorf("encode key event ids: %w", err)
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO meta_results
				(window_id, system_id, meta_scores, summary, findings, recommended_action, key_event_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			w.Window.ID, w.Window.SystemID, metaScores, w.Summary,
			findings, nullString(w.RecommendedAction), keyEvents,
		).Scan(&metaID)
		if err != nil {
			return fmt.Errorf("insert meta result: %w", err)
		}

		maxScores, err := maxEventScores(ctx, tx, w.Window)
		if err != nil {
			return err
		}

		for _, c := range models.Criteria() {
			maxEvent := maxScores.Get(c.ID)
			meta := w.MetaScores.Get(c.ID)
			value := w.WMeta*meta + (1-w.WMeta)*maxEvent
			if maxEvent == 0 {
				meta = 0
				value = 0
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO effective_scores
					(window_id, system_id, criterion_id, effective_value, meta_score, max_event_score)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (window_id, system_id, criterion_id) DO UPDATE SET
					effective_value = EXCLUDED.effective_value,
					meta_score = EXCLUDED.meta_score,
					max_event_score = EXCLUDED.max_event_score`,
				w.Window.ID, w.Window.SystemID, int(c.ID), value, meta, maxEvent,
			); err != nil {
				return fmt.Errorf("upsert effective score: %w", err)
			}

			effective = append(effective, models.EffectiveScore{
				WindowID:       w.Window.ID,
				SystemID:       w.Window.SystemID,
				CriterionID:    c.ID,
				EffectiveValue: value,
				MetaScore:      meta,
				MaxEventScore:  maxEvent,
			})
		}

		if w.Usage.RequestCount > 0 {
			if err := insertLlmUsage(ctx, tx, w.Usage); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE windows SET analyzed_at = $1 WHERE id = $2`,
			w.AnalyzedAt, w.Window.ID,
		); err != nil {
			return fmt.Errorf("mark window analyzed: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return metaID, effective, nil
}

// maxEventScores computes per-criterion MAX(score) over non-acknowledged
// events inside the window.
func maxEventScores(ctx context.Context, tx *sql.Tx, w models.Window) (models.ScoreVector, error) {
	var out models.ScoreVector
	rows, err := tx.QueryContext(ctx, `
		SELECT es.criterion_id, MAX(es.score)
		FROM event_scores es
		JOIN events e ON e.id = es.event_id
		WHERE e.system_id = $1
		  AND e.timestamp >= $2 AND e.timestamp < $3
		  AND e.acknowledged_at IS NULL
		GROUP BY es.criterion_id`,
		w.SystemID, w.FromTS, w.ToTS)
	if err != nil {
		return out, fmt.Errorf("max event scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var criterionID int
		var score float64
		if err := rows.Scan(&criterionID, &score); err != nil {
			return out, fmt.Errorf("scan max score: %w", err)
		}
		out.Set(models.CriterionID(criterionID), score)
	}
	return out, rows.Err()
}

// RecentSummaries returns the N most recent previous summaries for a
// system, newest first — the sliding context of the meta prompt.
func (s *Store) RecentSummaries(ctx context.Context, systemID string, n int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM meta_results
		WHERE system_id = $1 AND summary <> ''
		ORDER BY created_at DESC
		LIMIT $2`, systemID, n)
	if err != nil {
		return nil, fmt.Errorf("fetch recent summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []string
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// EffectiveScoresForWindow returns the blended scores of one window.
func (s *Store) EffectiveScoresForWindow(ctx context.Context, windowID int64) ([]models.EffectiveScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT window_id, system_id, criterion_id, effective_value, meta_score, max_event_score
		FROM effective_scores
		WHERE window_id = $1
		ORDER BY criterion_id ASC`, windowID)
	if err != nil {
		return nil, fmt.Errorf("fetch effective scores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scores []models.EffectiveScore
	for rows.Next() {
		var es models.EffectiveScore
		var criterionID int
		if err := rows.Scan(&es.WindowID, &es.SystemID, &criterionID,
			&es.EffectiveValue, &es.MetaScore, &es.MaxEventScore); err != nil {
			return nil, fmt.Errorf("scan effective score: %w", err)
		}
		es.CriterionID = models.CriterionID(criterionID)
		scores = append(scores, es)
	}
	return scores, rows.Err()
}
