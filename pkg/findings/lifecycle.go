package findings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/models"
)

// Storage is the persistence surface the lifecycle engine needs.
type Storage interface {
	FindByFingerprint(ctx context.Context, systemID, fingerprint string) (*models.Finding, error)
	RecentFindings(ctx context.Context, systemID string, n int) ([]models.Finding, error)
	InsertFinding(ctx context.Context, f models.Finding) error
	TouchFinding(ctx context.Context, findingID string, seenAt time.Time) error
	ResolveFinding(ctx context.Context, findingID string, metaID int64, reason string, at time.Time) error
	IncrementMisses(ctx context.Context, findingIDs []string) error
	DecayFindingSeverity(ctx context.Context, findingID, newSeverity string) error
	CountOpenFindings(ctx context.Context, systemID string) (int, error)
	OldestLowSeverityOpen(ctx context.Context, systemID string, limit int) ([]models.Finding, error)
}

// Engine applies one window's meta output to the findings of a system.
type Engine struct {
	storage Storage
	logger  *slog.Logger
}

// NewEngine creates a lifecycle engine.
func NewEngine(storage Storage) *Engine {
	if storage == nil {
		panic("findings.NewEngine: storage must not be nil")
	}
	return &Engine{
		storage: storage,
		logger:  slog.Default().With("component", "finding-lifecycle"),
	}
}

// Result summarises one lifecycle pass.
type Result struct {
	Inserted     int
	Touched      int
	Resolved     int
	AutoResolved int
	Decayed      int
}

// Apply processes one window's output: resolution by index, dedup
// ingestion of new findings, staleness tracking, and severity decay.
// openAtStart must be the indexed snapshot the oracle saw (prompt order).
func (e *Engine) Apply(ctx context.Context, systemID string, metaID int64, out llm.MetaOutput, openAtStart []models.Finding, settings *config.PipelineSettings) (Result, error) {
	now := time.Now().UTC()
	res := Result{}
	logger := e.logger.With("system_id", systemID, "meta_id", metaID)

	// Resolution by the oracle's 1-based indices into the snapshot.
	resolvedIDs := make(map[string]bool)
	for _, idx := range out.ResolvedIndices {
		if idx < 1 || idx > len(openAtStart) {
			logger.Warn("Resolved index out of range, skipping", "index", idx, "open_findings", len(openAtStart))
			continue
		}
		f := openAtStart[idx-1]
		if err := e.storage.ResolveFinding(ctx, f.ID, metaID, models.FindingResolvedByAnalysis, now); err != nil {
			return res, fmt.Errorf("resolve finding %s: %w", f.ID, err)
		}
		resolvedIDs[f.ID] = true
		res.Resolved++
	}

	// Dedup ingestion. Exact fingerprint matches (and optionally fuzzy
	// matches) touch the existing row; only genuinely new findings insert,
	// capped per window keeping the highest severities.
	seenFingerprints := make(map[string]bool)
	var toInsert []models.NewFinding
	for _, nf := range out.NewFindings {
		fp := Fingerprint(nf.Text, nf.Severity, nf.CriterionSlug)
		seenFingerprints[fp] = true

		existing, err := e.storage.FindByFingerprint(ctx, systemID, fp)
		if err != nil {
			return res, fmt.Errorf("lookup fingerprint: %w", err)
		}
		if existing == nil && settings.FuzzyFindingDedup {
			existing, err = e.fuzzyMatch(ctx, systemID, nf.Text, settings)
			if err != nil {
				return res, err
			}
		}

		if existing != nil {
			seenFingerprints[existing.Fingerprint] = true
			if err := e.storage.TouchFinding(ctx, existing.ID, now); err != nil {
				return res, fmt.Errorf("touch finding %s: %w", existing.ID, err)
			}
			res.Touched++
			if decayed, err := e.maybeDecay(ctx, *existing, settings); err != nil {
				return res, err
			} else if decayed {
				res.Decayed++
			}
			continue
		}
		toInsert = append(toInsert, nf)
	}

	if len(toInsert) > settings.MaxNewFindingsPerWindow {
		sort.SliceStable(toInsert, func(i, j int) bool {
			return models.FindingSeverityRank(toInsert[i].Severity) < models.FindingSeverityRank(toInsert[j].Severity)
		})
		logger.Debug("New findings over per-window cap, dropping lowest severities",
			"candidates", len(toInsert), "cap", settings.MaxNewFindingsPerWindow)
		toInsert = toInsert[:settings.MaxNewFindingsPerWindow]
	}

	for _, nf := range toInsert {
		f := models.Finding{
			ID:               uuid.NewString(),
			SystemID:         systemID,
			CreatedByMetaID:  metaID,
			Text:             nf.Text,
			Status:           models.FindingStatusOpen,
			Severity:         nf.Severity,
			OriginalSeverity: nf.Severity,
			CriterionSlug:    nf.CriterionSlug,
			Fingerprint:      Fingerprint(nf.Text, nf.Severity, nf.CriterionSlug),
			OccurrenceCount:  1,
			CreatedAt:        now,
			LastSeenAt:       now,
		}
		if err := e.storage.InsertFinding(ctx, f); err != nil {
			return res, fmt.Errorf("insert finding: %w", err)
		}
		res.Inserted++
	}

	// Open-findings cap: auto-close the oldest low-severity overflow.
	if n, err := e.enforceOpenCap(ctx, systemID, metaID, settings, now); err != nil {
		return res, err
	} else {
		res.AutoResolved += n
	}

	// Staleness: findings open at the window start that neither re-occurred
	// nor were explicitly resolved accumulate misses until auto-resolution.
	var missed []string
	for _, f := range openAtStart {
		if resolvedIDs[f.ID] || seenFingerprints[f.Fingerprint] {
			continue
		}
		missed = append(missed, f.ID)
	}
	if err := e.storage.IncrementMisses(ctx, missed); err != nil {
		return res, fmt.Errorf("increment misses: %w", err)
	}
	for _, f := range openAtStart {
		if resolvedIDs[f.ID] || seenFingerprints[f.Fingerprint] {
			continue
		}
		if f.ConsecutiveMisses+1 >= settings.AutoResolveAfterMisses {
			if err := e.storage.ResolveFinding(ctx, f.ID, metaID, models.FindingResolvedStale, now); err != nil {
				return res, fmt.Errorf("auto-resolve stale finding %s: %w", f.ID, err)
			}
			res.AutoResolved++
		}
	}

	if res.Inserted+res.Touched+res.Resolved+res.AutoResolved+res.Decayed > 0 {
		logger.Info("Finding lifecycle applied",
			"inserted", res.Inserted,
			"touched", res.Touched,
			"resolved", res.Resolved,
			"auto_resolved", res.AutoResolved,
			"decayed", res.Decayed)
	}
	return res, nil
}

// fuzzyMatch scans the most recent findings for a token-set similarity
// above the dedup threshold.
func (e *Engine) fuzzyMatch(ctx context.Context, systemID, text string, settings *config.PipelineSettings) (*models.Finding, error) {
	recent, err := e.storage.RecentFindings(ctx, systemID, settings.FuzzyFindingWindow)
	if err != nil {
		return nil, fmt.Errorf("fetch recent findings: %w", err)
	}
	for i := range recent {
		if TokenSetSimilarity(text, recent[i].Text) >= settings.FindingDedupThreshold {
			return &recent[i], nil
		}
	}
	return nil, nil
}

// maybeDecay drops a re-occurring finding's severity one rank once its
// occurrence count passes the decay threshold.
func (e *Engine) maybeDecay(ctx context.Context, f models.Finding, settings *config.PipelineSettings) (bool, error) {
	if !settings.SeverityDecayEnabled {
		return false, nil
	}
	// The occurrence just recorded by TouchFinding.
	if f.OccurrenceCount+1 < settings.SeverityDecayAfterOccurrences {
		return false, nil
	}
	next := models.DecayedSeverity(f.Severity)
	if next == f.Severity {
		return false, nil
	}
	if err := e.storage.DecayFindingSeverity(ctx, f.ID, next); err != nil {
		return false, fmt.Errorf("decay finding %s: %w", f.ID, err)
	}
	return true, nil
}

// enforceOpenCap auto-closes the oldest low-severity open findings when a
// system exceeds its open cap.
func (e *Engine) enforceOpenCap(ctx context.Context, systemID string, metaID int64, settings *config.PipelineSettings, now time.Time) (int, error) {
	open, err := e.storage.CountOpenFindings(ctx, systemID)
	if err != nil {
		return 0, fmt.Errorf("count open findings: %w", err)
	}
	overflow := open - settings.MaxOpenFindingsPerSystem
	if overflow <= 0 {
		return 0, nil
	}

	victims, err := e.storage.OldestLowSeverityOpen(ctx, systemID, overflow)
	if err != nil {
		return 0, fmt.Errorf("fetch overflow candidates: %w", err)
	}
	closed := 0
	for _, f := range victims {
		if err := e.storage.ResolveFinding(ctx, f.ID, metaID, models.FindingResolvedOverflow, now); err != nil {
			return closed, fmt.Errorf("close overflow finding %s: %w", f.ID, err)
		}
		closed++
	}
	return closed, nil
}
