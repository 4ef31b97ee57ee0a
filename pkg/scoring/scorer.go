// Package scoring turns unscored events into per-event criterion scores.
// Events are grouped by message template first; only one representative
// per template reaches the oracle, and several partitions (routine
// behaviour, orphan fragments, skipped severities, cache hits, known
// low scorers) skip the oracle entirely.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/models"
	"github.com/logsift/logsift/pkg/store"
	"github.com/logsift/logsift/pkg/template"
)

// Oracle scores batches of template representatives.
type Oracle interface {
	ScoreBatch(ctx context.Context, systemSpec string, inputs []llm.ScoringInput) ([]models.ScoreVector, llm.Usage, error)
	Model() string
}

// Storage is the persistence surface the scorer needs.
type Storage interface {
	FetchUnscoredEvents(ctx context.Context, systemID string, limit int) ([]models.Event, error)
	UpsertTemplates(ctx context.Context, systemID string, now time.Time, upserts []store.TemplateUpsert) (map[string]models.MessageTemplate, error)
	AssignEventTemplates(ctx context.Context, templateID int64, eventIDs []int64) error
	InsertEventScores(ctx context.Context, scores []models.EventScore) error
	MarkEventsScored(ctx context.Context, eventIDs []int64, scoredAt time.Time) error
	UpdateTemplateScores(ctx context.Context, updates []models.TemplateScoreUpdate) error
	NormalBehaviorTemplates(ctx context.Context, systemID string) ([]models.NormalBehaviorTemplate, error)
	InsertLlmUsage(ctx context.Context, u models.LlmUsage) error
}

// Scorer runs the per-event scoring stage for one system at a time.
type Scorer struct {
	storage Storage
	oracle  Oracle
	logger  *slog.Logger
}

// NewScorer creates a scorer.
func NewScorer(storage Storage, oracle Oracle) *Scorer {
	if storage == nil {
		panic("scoring.NewScorer: storage must not be nil")
	}
	if oracle == nil {
		panic("scoring.NewScorer: oracle must not be nil")
	}
	return &Scorer{
		storage: storage,
		oracle:  oracle,
		logger:  slog.Default().With("component", "scorer"),
	}
}

// Result summarises one scoring run for a system.
type Result struct {
	EventsFetched int
	Templates     int
	LlmBatches    int
	LlmTemplates  int
	CacheHits     int
	Skipped       int
	DeadlineHit   bool
}

// Run scores up to settings.ScoringChunkSize unscored events of one
// system. Partial progress is durable: every handled event gets
// scored_at stamped, so an aborted run resumes where it stopped.
func (s *Scorer) Run(ctx context.Context, system models.MonitoredSystem, settings *config.PipelineSettings) (Result, error) {
	started := time.Now()
	res := Result{}
	logger := s.logger.With("system_id", system.ID)

	events, err := s.storage.FetchUnscoredEvents(ctx, system.ID, settings.ScoringChunkSize)
	if err != nil {
		return res, fmt.Errorf("fetch unscored events: %w", err)
	}
	res.EventsFetched = len(events)
	if len(events) == 0 {
		return res, nil
	}

	groups := template.Extract(events)
	res.Templates = len(groups)

	upserts := make([]store.TemplateUpsert, 0, len(groups))
	for _, g := range groups {
		upserts = append(upserts, store.TemplateUpsert{
			PatternHash: g.PatternHash,
			Text:        g.Canonical,
			Occurrences: int64(len(g.EventIDs)),
		})
	}
	templates, err := s.storage.UpsertTemplates(ctx, system.ID, started.UTC(), upserts)
	if err != nil {
		return res, fmt.Errorf("upsert templates: %w", err)
	}
	for _, g := range groups {
		tpl, ok := templates[g.PatternHash]
		if !ok {
			continue
		}
		if err := s.storage.AssignEventTemplates(ctx, tpl.ID, g.EventIDs); err != nil {
			return res, fmt.Errorf("assign templates: %w", err)
		}
	}

	normals, err := s.storage.NormalBehaviorTemplates(ctx, system.ID)
	if err != nil {
		return res, fmt.Errorf("fetch normal behavior templates: %w", err)
	}
	matcher := compileNormalMatcher(normals, logger)

	byID := make(map[int64]models.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	var pending []models.TemplateRepresentative
	now := time.Now().UTC()

	for _, g := range groups {
		tpl := templates[g.PatternHash]
		rep := models.TemplateRepresentative{
			TemplateID:             tpl.ID,
			SystemID:               system.ID,
			PatternHash:            g.PatternHash,
			RepresentativeEventID:  g.Representative.ID,
			RepresentativeMessage:  g.Representative.Message,
			RepresentativeSeverity: g.Representative.Severity,
			EventIDs:               g.EventIDs,
		}

		// Routine behaviour is decided per event, not per template: a
		// host- or program-scoped normal template only covers the events
		// it actually matches, and the rest of the group still scores.
		var routine, active []int64
		for _, id := range g.EventIDs {
			if matcher.Matches(byID[id]) {
				routine = append(routine, id)
			} else {
				active = append(active, id)
			}
		}
		if len(routine) > 0 {
			res.Skipped++
			routineRep := rep
			routineRep.EventIDs = routine
			if err := s.finishGroup(ctx, routineRep, models.ScoreVector{}, now); err != nil {
				return res, err
			}
		}
		if len(active) == 0 {
			continue
		}
		rep.EventIDs = active
		if matcher.Matches(byID[rep.RepresentativeEventID]) {
			ev := byID[active[0]]
			rep.RepresentativeEventID = ev.ID
			rep.RepresentativeMessage = ev.Message
			rep.RepresentativeSeverity = ev.Severity
		}

		switch {
		case template.IsOrphanFragment(rep.RepresentativeMessage):
			res.Skipped++
			if err := s.finishGroup(ctx, rep, models.ScoreVector{}, now); err != nil {
				return res, err
			}

		case settings.SeverityFilterEnabled && severitySkipped(rep.RepresentativeSeverity, settings.SeveritySkipList):
			res.Skipped++
			if err := s.finishGroup(ctx, rep, uniformVector(settings.SeveritySkipValue), now); err != nil {
				return res, err
			}

		case cacheHit(tpl, now, settings):
			res.CacheHits++
			if err := s.finishGroup(ctx, rep, *tpl.CachedScores, now); err != nil {
				return res, err
			}

		case lowScoreSkip(tpl, settings):
			res.Skipped++
			if err := s.finishGroup(ctx, rep, models.ScoreVector{}, now); err != nil {
				return res, err
			}

		default:
			pending = append(pending, rep)
		}
	}

	totalUsage := llm.Usage{}
	llmEvents := 0
	batchSize := settings.EffectiveScoringBatchSize()

	for start := 0; start < len(pending); start += batchSize {
		if time.Since(started) > settings.MaxScoringJobDuration {
			logger.Warn("Scoring job deadline reached, deferring remainder to next run",
				"remaining_templates", len(pending)-start)
			res.DeadlineHit = true
			break
		}

		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		reps := pending[start:end]

		usage, err := s.scoreBatch(ctx, system, reps, settings)
		totalUsage.Add(usage)
		if err != nil {
			var callErr *llm.CallError
			if errors.As(err, &callErr) {
				// Transport failure: nothing was marked scored, the
				// whole batch retries next tick. Stop calling a broken
				// endpoint for this run.
				logger.Error("Oracle call failed, remaining batches deferred", "error", err)
				break
			}
			s.recordUsage(ctx, system.ID, llmEvents, totalUsage)
			return res, err
		}
		res.LlmBatches++
		res.LlmTemplates += len(reps)
		for _, rep := range reps {
			llmEvents += len(rep.EventIDs)
		}
	}

	s.recordUsage(ctx, system.ID, llmEvents, totalUsage)

	logger.Info("Scoring run finished",
		"events", res.EventsFetched,
		"templates", res.Templates,
		"llm_batches", res.LlmBatches,
		"cache_hits", res.CacheHits,
		"skipped", res.Skipped,
		"duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}

// scoreBatch sends one batch to the oracle and persists the outcome. A
// *ParseError zero-fills every template in the batch and still marks the
// events scored.
func (s *Scorer) scoreBatch(ctx context.Context, system models.MonitoredSystem, reps []models.TemplateRepresentative, settings *config.PipelineSettings) (llm.Usage, error) {
	inputs := make([]llm.ScoringInput, 0, len(reps))
	for _, rep := range reps {
		inputs = append(inputs, llm.ScoringInput{
			Message:  truncate(rep.RepresentativeMessage, settings.MessageMaxLength),
			Severity: rep.RepresentativeSeverity,
		})
	}

	vectors, usage, err := s.oracle.ScoreBatch(ctx, system.Description, inputs)
	if err != nil {
		var parseErr *llm.ParseError
		if !errors.As(err, &parseErr) {
			return usage, err
		}
		now := time.Now().UTC()
		for _, rep := range reps {
			if ferr := s.finishGroup(ctx, rep, models.ScoreVector{}, now); ferr != nil {
				return usage, ferr
			}
		}
		return usage, nil
	}

	now := time.Now().UTC()
	updates := make([]models.TemplateScoreUpdate, 0, len(reps))
	for i, rep := range reps {
		vec := vectors[i].Clamped()
		if err := s.finishGroup(ctx, rep, vec, now); err != nil {
			return usage, err
		}
		updates = append(updates, models.TemplateScoreUpdate{
			TemplateID: rep.TemplateID,
			Scores:     vec,
			ScoredAt:   now,
		})
	}
	if err := s.storage.UpdateTemplateScores(ctx, updates); err != nil {
		return usage, fmt.Errorf("update template caches: %w", err)
	}
	return usage, nil
}

// finishGroup fans one vector out to every event in the group: non-zero
// scores are inserted, then scored_at is stamped. Ordering matters — a
// crash between the two writes leaves events unscored and retried, never
// scored with missing rows.
func (s *Scorer) finishGroup(ctx context.Context, rep models.TemplateRepresentative, vec models.ScoreVector, scoredAt time.Time) error {
	var scores []models.EventScore
	for _, c := range models.Criteria() {
		value := vec.Get(c.ID)
		if value == 0 {
			continue
		}
		for _, eventID := range rep.EventIDs {
			scores = append(scores, models.EventScore{
				EventID:     eventID,
				CriterionID: c.ID,
				ScoreType:   models.ScoreTypeEvent,
				Score:       value,
			})
		}
	}
	if err := s.storage.InsertEventScores(ctx, scores); err != nil {
		return fmt.Errorf("insert event scores: %w", err)
	}
	if err := s.storage.MarkEventsScored(ctx, rep.EventIDs, scoredAt); err != nil {
		return fmt.Errorf("mark events scored: %w", err)
	}
	return nil
}

// recordUsage writes the scoring run's usage audit row. Accounting never
// fails a run.
func (s *Scorer) recordUsage(ctx context.Context, systemID string, eventCount int, usage llm.Usage) {
	if usage.Requests == 0 {
		return
	}
	u := models.LlmUsage{
		RunType:      models.LlmRunScoring,
		Model:        s.oracle.Model(),
		SystemID:     systemID,
		EventCount:   eventCount,
		TokenInput:   usage.PromptTokens,
		TokenOutput:  usage.CompletionTokens,
		RequestCount: usage.Requests,
		CostEstimate: llm.EstimateCost(s.oracle.Model(), usage.PromptTokens, usage.CompletionTokens),
	}
	if err := s.storage.InsertLlmUsage(ctx, u); err != nil {
		s.logger.Warn("Failed to record llm usage", "system_id", systemID, "error", err)
	}
}

func severitySkipped(severity string, skipList []string) bool {
	for _, skip := range skipList {
		if severity == skip {
			return true
		}
	}
	return false
}

func cacheHit(tpl models.MessageTemplate, now time.Time, settings *config.PipelineSettings) bool {
	if tpl.CachedScores == nil || tpl.LastScoredAt == nil {
		return false
	}
	ttl := time.Duration(settings.ScoreCacheTTLMinutes) * time.Minute
	return now.Sub(*tpl.LastScoredAt) < ttl
}

func lowScoreSkip(tpl models.MessageTemplate, settings *config.PipelineSettings) bool {
	return tpl.ScoreCount >= settings.LowScoreMinScorings &&
		tpl.AvgMaxScore < settings.LowScoreThreshold
}

func uniformVector(value float64) models.ScoreVector {
	var vec models.ScoreVector
	for _, c := range models.Criteria() {
		vec.Set(c.ID, value)
	}
	return vec.Clamped()
}

// truncate cuts s to at most max bytes without splitting a rune, so the
// oracle never receives invalid UTF-8.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
