package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

const findingColumns = `id, system_id, created_by_meta_id, resolved_by_meta_id,
	text, status, severity, original_severity, criterion_slug, fingerprint,
	occurrence_count, consecutive_misses, resolution_reason,
	created_at, last_seen_at, resolved_at`

// OpenFindings returns every open or acknowledged finding for a system in
// creation order. The slice order defines the stable 1-based indices the
// meta prompt exposes to the oracle.
func (s *Store) OpenFindings(ctx context.Context, systemID string) ([]models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+`
		FROM findings
		WHERE system_id = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC, id ASC`,
		systemID, models.FindingStatusOpen, models.FindingStatusAcknowledged)
	if err != nil {
		return nil, fmt.Errorf("fetch open findings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFindings(rows)
}

// RecentFindings returns the N most recently seen non-resolved findings,
// newest first — the candidate set for fuzzy dedup.
func (s *Store) RecentFindings(ctx context.Context, systemID string, n int) ([]models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+`
		FROM findings
		WHERE system_id = $1 AND status <> $2
		ORDER BY last_seen_at DESC
		LIMIT $3`, systemID, models.FindingStatusResolved, n)
	if err != nil {
		return nil, fmt.Errorf("fetch recent findings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFindings(rows)
}

// FindByFingerprint returns the non-resolved finding with the given
// fingerprint in the system, or nil.
func (s *Store) FindByFingerprint(ctx context.Context, systemID, fingerprint string) (*models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+`
		FROM findings
		WHERE system_id = $1 AND fingerprint = $2 AND status <> $3
		LIMIT 1`, systemID, fingerprint, models.FindingStatusResolved)
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	defer func() { _ = rows.Close() }()

	findings, err := scanFindings(rows)
	if err != nil {
		return nil, err
	}
	if len(findings) == 0 {
		return nil, nil
	}
	return &findings[0], nil
}

// InsertFinding persists a brand-new open finding.
func (s *Store) InsertFinding(ctx context.Context, f models.Finding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings
			(id, system_id, created_by_meta_id, text, status, severity,
			 original_severity, criterion_slug, fingerprint,
			 occurrence_count, consecutive_misses, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		f.ID, f.SystemID, f.CreatedByMetaID, f.Text, f.Status, f.Severity,
		nullString(f.OriginalSeverity), nullString(f.CriterionSlug),
		f.Fingerprint, f.OccurrenceCount, f.ConsecutiveMisses,
		f.CreatedAt, f.LastSeenAt)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// TouchFinding records a re-occurrence: occurrence_count+1, fresh
// last_seen_at, consecutive_misses reset.
func (s *Store) TouchFinding(ctx context.Context, findingID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET
			occurrence_count = occurrence_count + 1,
			last_seen_at = $1,
			consecutive_misses = 0
		WHERE id = $2 AND status <> $3`,
		seenAt, findingID, models.FindingStatusResolved)
	if err != nil {
		return fmt.Errorf("touch finding: %w", err)
	}
	return nil
}

// ResolveFinding moves a finding to its terminal state. Resolved findings
// never transition back; the status guard makes repeated calls no-ops.
func (s *Store) ResolveFinding(ctx context.Context, findingID string, metaID int64, reason string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET
			status = $1,
			resolved_at = $2,
			resolved_by_meta_id = $3,
			resolution_reason = $4
		WHERE id = $5 AND status <> $1`,
		models.FindingStatusResolved, at, metaID, reason, findingID)
	if err != nil {
		return fmt.Errorf("resolve finding: %w", err)
	}
	return nil
}

// IncrementMisses bumps consecutive_misses for findings that went unseen
// this window.
func (s *Store) IncrementMisses(ctx context.Context, findingIDs []string) error {
	if len(findingIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET consecutive_misses = consecutive_misses + 1
		WHERE id = ANY($1) AND status <> $2`,
		findingIDs, models.FindingStatusResolved)
	if err != nil {
		return fmt.Errorf("increment misses: %w", err)
	}
	return nil
}

// DecayFindingSeverity lowers the severity one rank, keeping the original
// severity on first decay.
func (s *Store) DecayFindingSeverity(ctx context.Context, findingID, newSeverity string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE findings SET
			original_severity = COALESCE(original_severity, severity),
			severity = $1
		WHERE id = $2 AND status <> $3`,
		newSeverity, findingID, models.FindingStatusResolved)
	if err != nil {
		return fmt.Errorf("decay finding severity: %w", err)
	}
	return nil
}

// CountOpenFindings returns the number of open findings in a system.
func (s *Store) CountOpenFindings(ctx context.Context, systemID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM findings WHERE system_id = $1 AND status = $2`,
		systemID, models.FindingStatusOpen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open findings: %w", err)
	}
	return n, nil
}

// OldestLowSeverityOpen returns up to limit open low/info findings,
// oldest first — the auto-close candidates when a system exceeds its open
// findings cap.
func (s *Store) OldestLowSeverityOpen(ctx context.Context, systemID string, limit int) ([]models.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+findingColumns+`
		FROM findings
		WHERE system_id = $1 AND status = $2 AND severity IN ($3, $4)
		ORDER BY created_at ASC
		LIMIT $5`,
		systemID, models.FindingStatusOpen,
		models.FindingSeverityLow, models.FindingSeverityInfo, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch low-severity findings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFindings(rows)
}

func scanFindings(rows *sql.Rows) ([]models.Finding, error) {
	var findings []models.Finding
	for rows.Next() {
		var f models.Finding
		var resolvedByMetaID sql.NullInt64
		var originalSeverity, criterionSlug, resolutionReason sql.NullString
		var resolvedAt sql.NullTime

		if err := rows.Scan(
			&f.ID, &f.SystemID, &f.CreatedByMetaID, &resolvedByMetaID,
			&f.Text, &f.Status, &f.Severity, &originalSeverity,
			&criterionSlug, &f.Fingerprint, &f.OccurrenceCount,
			&f.ConsecutiveMisses, &resolutionReason,
			&f.CreatedAt, &f.LastSeenAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}

		if resolvedByMetaID.Valid {
			f.ResolvedByMetaID = &resolvedByMetaID.Int64
		}
		f.OriginalSeverity = originalSeverity.String
		f.CriterionSlug = criterionSlug.String
		f.ResolutionReason = resolutionReason.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			f.ResolvedAt = &t
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}
