// Package meta runs the windowed meta-analysis: it assembles the
// window's deduplicated event groups plus sliding context, asks the
// oracle for meta scores and findings, and persists the blended
// effective scores transactionally.
package meta

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/models"
	"github.com/logsift/logsift/pkg/store"
)

// Oracle performs the windowed meta-analysis call.
type Oracle interface {
	AnalyzeWindow(ctx context.Context, req llm.MetaRequest) (llm.MetaOutput, llm.Usage, error)
	Model() string
}

// Storage is the persistence surface the analyser needs.
type Storage interface {
	EventsInRange(ctx context.Context, systemID string, from, to time.Time, limit int) ([]models.Event, error)
	ScoresForEvents(ctx context.Context, eventIDs []int64) (map[int64]models.ScoreVector, error)
	HasNonZeroScores(ctx context.Context, systemID string, window models.Window) (bool, error)
	RecentSummaries(ctx context.Context, systemID string, n int) ([]string, error)
	OpenFindings(ctx context.Context, systemID string) ([]models.Finding, error)
	SourceLabels(ctx context.Context, systemID string) (map[string]string, error)
	SaveMetaAnalysis(ctx context.Context, w store.MetaWrite) (int64, []models.EffectiveScore, error)
	MarkWindowFailed(ctx context.Context, windowID int64, at time.Time) error
}

// Analyzer produces one meta-result per window.
type Analyzer struct {
	storage Storage
	oracle  Oracle
	logger  *slog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(storage Storage, oracle Oracle) *Analyzer {
	if storage == nil {
		panic("meta.NewAnalyzer: storage must not be nil")
	}
	if oracle == nil {
		panic("meta.NewAnalyzer: oracle must not be nil")
	}
	return &Analyzer{
		storage: storage,
		oracle:  oracle,
		logger:  slog.Default().With("component", "meta-analyzer"),
	}
}

// Result is the outcome of analysing one window.
type Result struct {
	MetaID          int64
	EffectiveScores []models.EffectiveScore

	// Output holds the parsed oracle response for the finding lifecycle.
	// Nil when the window was skipped or failed.
	Output *llm.MetaOutput

	// OpenFindings is the indexed open-findings snapshot the oracle saw,
	// in prompt order (index i ↔ 1-based index i+1).
	OpenFindings []models.Finding

	// Skipped is true for the zero-score optimisation: a neutral
	// meta-result was written without an oracle call.
	Skipped bool

	// Failed is true when the oracle response was unparseable and the
	// window was recorded as failed. No effective scores exist and no
	// alert evaluation must run.
	Failed bool
}

// AnalyzeWindow runs the meta stage for one window.
func (a *Analyzer) AnalyzeWindow(ctx context.Context, system models.MonitoredSystem, window models.Window, settings *config.PipelineSettings) (Result, error) {
	logger := a.logger.With("system_id", system.ID, "window_id", window.ID)

	if settings.SkipZeroScoreMeta {
		hasScores, err := a.storage.HasNonZeroScores(ctx, system.ID, window)
		if err != nil {
			return Result{}, fmt.Errorf("check window scores: %w", err)
		}
		if !hasScores {
			metaID, effective, err := a.storage.SaveMetaAnalysis(ctx, store.MetaWrite{
				Window:     window,
				WMeta:      settings.WMeta,
				AnalyzedAt: time.Now().UTC(),
			})
			if err != nil {
				return Result{}, fmt.Errorf("write neutral meta result: %w", err)
			}
			logger.Debug("Window has no scored events, wrote neutral meta result")
			return Result{MetaID: metaID, EffectiveScores: effective, Skipped: true}, nil
		}
	}

	req, openFindings, err := a.assembleRequest(ctx, system, window, settings)
	if err != nil {
		return Result{}, err
	}

	out, usage, err := a.oracle.AnalyzeWindow(ctx, req)
	if err != nil {
		var parseErr *llm.MetaParseError
		if errors.As(err, &parseErr) {
			logger.Warn("Meta response unparseable, marking window failed", "error", err)
			if markErr := a.storage.MarkWindowFailed(ctx, window.ID, time.Now().UTC()); markErr != nil {
				return Result{}, fmt.Errorf("mark window failed: %w", markErr)
			}
			return Result{Failed: true}, nil
		}
		return Result{}, err
	}

	now := time.Now().UTC()
	metaID, effective, err := a.storage.SaveMetaAnalysis(ctx, store.MetaWrite{
		Window:            window,
		MetaScores:        out.MetaScores,
		Summary:           out.Summary,
		NewFindings:       out.NewFindings,
		RecommendedAction: out.RecommendedAction,
		KeyEventIDs:       out.KeyEventIDs,
		WMeta:             settings.WMeta,
		Usage:             a.usageRow(system.ID, window.ID, len(req.Groups), usage),
		AnalyzedAt:        now,
	})
	if err != nil {
		return Result{}, fmt.Errorf("save meta analysis: %w", err)
	}

	logger.Info("Window analysed",
		"meta_id", metaID,
		"event_groups", len(req.Groups),
		"new_findings", len(out.NewFindings),
		"resolved_indices", len(out.ResolvedIndices))

	return Result{
		MetaID:          metaID,
		EffectiveScores: effective,
		Output:          &out,
		OpenFindings:    openFindings,
	}, nil
}

// assembleRequest builds the oracle request: capped window events grouped
// by template, their folded scores, source labels, previous summaries,
// and the indexed open findings.
func (a *Analyzer) assembleRequest(ctx context.Context, system models.MonitoredSystem, window models.Window, settings *config.PipelineSettings) (llm.MetaRequest, []models.Finding, error) {
	events, err := a.storage.EventsInRange(ctx, system.ID, window.FromTS, window.ToTS, settings.MaxWindowEvents)
	if err != nil {
		return llm.MetaRequest{}, nil, fmt.Errorf("fetch window events: %w", err)
	}

	eventIDs := make([]int64, 0, len(events))
	for _, ev := range events {
		eventIDs = append(eventIDs, ev.ID)
	}
	scores, err := a.storage.ScoresForEvents(ctx, eventIDs)
	if err != nil {
		return llm.MetaRequest{}, nil, fmt.Errorf("fetch event scores: %w", err)
	}

	groups := groupByTemplate(events, scores, settings.FilterZeroScoreMetaEvents)

	summaries, err := a.storage.RecentSummaries(ctx, system.ID, settings.ContextSummaries)
	if err != nil {
		return llm.MetaRequest{}, nil, fmt.Errorf("fetch previous summaries: %w", err)
	}

	openFindings, err := a.storage.OpenFindings(ctx, system.ID)
	if err != nil {
		return llm.MetaRequest{}, nil, fmt.Errorf("fetch open findings: %w", err)
	}
	findingCtx := make([]llm.FindingContext, 0, len(openFindings))
	for i, f := range openFindings {
		findingCtx = append(findingCtx, llm.FindingContext{
			Index:         i + 1,
			Text:          f.Text,
			Severity:      f.Severity,
			CriterionSlug: f.CriterionSlug,
		})
	}

	labelsByID, err := a.storage.SourceLabels(ctx, system.ID)
	if err != nil {
		return llm.MetaRequest{}, nil, fmt.Errorf("fetch source labels: %w", err)
	}
	seen := map[string]bool{}
	var labels []string
	for _, ev := range events {
		label, ok := labelsByID[ev.LogSourceID]
		if ok && !seen[label] {
			seen[label] = true
			labels = append(labels, label)
		}
	}

	return llm.MetaRequest{
		SystemName:        system.Name,
		SystemSpec:        system.Description,
		WindowFrom:        window.FromTS,
		WindowTo:          window.ToTS,
		SourceLabels:      labels,
		PreviousSummaries: summaries,
		OpenFindings:      findingCtx,
		Groups:            groups,
	}, openFindings, nil
}

// groupByTemplate deduplicates window events by template id, folding each
// group's scores per criterion with max. Events without a template id
// fall back to grouping by message text.
func groupByTemplate(events []models.Event, scores map[int64]models.ScoreVector, dropZeroScored bool) []llm.EventGroup {
	type key struct {
		templateID int64
		message    string
	}
	index := make(map[key]int)
	var groups []llm.EventGroup

	for _, ev := range events {
		k := key{message: ev.Message}
		if ev.TemplateID != nil {
			k = key{templateID: *ev.TemplateID}
		}

		vec := scores[ev.ID]
		idx, ok := index[k]
		if !ok {
			index[k] = len(groups)
			groups = append(groups, llm.EventGroup{
				Message:         ev.Message,
				Severity:        ev.Severity,
				OccurrenceCount: 1,
				Scores:          vec,
				EventIDs:        []int64{ev.ID},
			})
			continue
		}
		g := &groups[idx]
		g.OccurrenceCount++
		g.EventIDs = append(g.EventIDs, ev.ID)
		for _, c := range models.Criteria() {
			if s := vec.Get(c.ID); s > g.Scores.Get(c.ID) {
				g.Scores.Set(c.ID, s)
			}
		}
	}

	if !dropZeroScored {
		return groups
	}
	filtered := groups[:0]
	for _, g := range groups {
		if !g.Scores.IsZero() {
			filtered = append(filtered, g)
		}
	}
	return filtered
}

func (a *Analyzer) usageRow(systemID string, windowID int64, groupCount int, usage llm.Usage) models.LlmUsage {
	return models.LlmUsage{
		RunType:      models.LlmRunMeta,
		Model:        a.oracle.Model(),
		SystemID:     systemID,
		WindowID:     &windowID,
		EventCount:   groupCount,
		TokenInput:   usage.PromptTokens,
		TokenOutput:  usage.CompletionTokens,
		RequestCount: usage.Requests,
		CostEstimate: llm.EstimateCost(a.oracle.Model(), usage.PromptTokens, usage.CompletionTokens),
	}
}
