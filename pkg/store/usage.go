package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// InsertLlmUsage appends one usage audit row outside any transaction,
// used by scoring runs. Meta runs write usage inside SaveMetaAnalysis.
func (s *Store) InsertLlmUsage(ctx context.Context, u models.LlmUsage) error {
	_, err := s.db.ExecContext(ctx, usageInsertQuery, usageInsertArgs(u)...)
	if err != nil {
		return fmt.Errorf("insert llm usage: %w", err)
	}
	return nil
}

func insertLlmUsage(ctx context.Context, tx *sql.Tx, u models.LlmUsage) error {
	_, err := tx.ExecContext(ctx, usageInsertQuery, usageInsertArgs(u)...)
	if err != nil {
		return fmt.Errorf("insert llm usage: %w", err)
	}
	return nil
}

const usageInsertQuery = `
	INSERT INTO llm_usage
		(run_type, model, system_id, window_id, event_count,
		 token_input, token_output, request_count, cost_estimate, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func usageInsertArgs(u models.LlmUsage) []any {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		u.RunType, u.Model, nullString(u.SystemID), u.WindowID, u.EventCount,
		u.TokenInput, u.TokenOutput, u.RequestCount, u.CostEstimate, createdAt,
	}
}

// UsageTotalsSince aggregates token and cost totals per run type since the
// cutoff. The result keys are the run type tags.
func (s *Store) UsageTotalsSince(ctx context.Context, since time.Time) (map[string]models.LlmUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_type,
			COALESCE(SUM(event_count), 0),
			COALESCE(SUM(token_input), 0),
			COALESCE(SUM(token_output), 0),
			COALESCE(SUM(request_count), 0),
			COALESCE(SUM(cost_estimate), 0)
		FROM llm_usage
		WHERE created_at >= $1
		GROUP BY run_type`, since)
	if err != nil {
		return nil, fmt.Errorf("fetch usage totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string]models.LlmUsage)
	for rows.Next() {
		var u models.LlmUsage
		if err := rows.Scan(&u.RunType, &u.EventCount, &u.TokenInput,
			&u.TokenOutput, &u.RequestCount, &u.CostEstimate); err != nil {
			return nil, fmt.Errorf("scan usage totals: %w", err)
		}
		totals[u.RunType] = u
	}
	return totals, rows.Err()
}

// DeleteUsageBefore trims old usage rows during retention cleanup.
func (s *Store) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM llm_usage WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old usage: %w", err)
	}
	return res.RowsAffected()
}
