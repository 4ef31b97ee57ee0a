package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/pkg/models"
)

func seedSystem(t *testing.T, s *Store, systemID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitored_systems (id, name) VALUES ($1, $1)`, systemID)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO log_sources (id, system_id, label, selector) VALUES ($1, $2, $1, '{}')`,
		systemID+"-src", systemID)
	require.NoError(t, err)
}

func seedRule(t *testing.T, s *Store, ruleID string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_channels (id, name, kind, config) VALUES ($1, $1, 'webhook', '{}')`,
		ruleID+"-ch")
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_rules (id, name, channel_id, trigger_config)
		 VALUES ($1, $1, $2, '{"type": "schedule", "cron": "0 12 * * *"}')`,
		ruleID, ruleID+"-ch")
	require.NoError(t, err)
}

func dbEvent(systemID string, ts time.Time, message string) models.Event {
	return models.Event{
		SystemID:       systemID,
		LogSourceID:    systemID + "-src",
		Timestamp:      ts,
		ReceivedAt:     ts,
		Message:        message,
		Severity:       models.SeverityInfo,
		Host:           "web-1",
		NormalizedHash: models.NormalizedHash(ts, message, "web-1", "", "", "", ""),
	}
}

func TestInsertEvents_Deduplicates(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	base := time.Now().UTC().Truncate(time.Second)

	events := []models.Event{
		dbEvent("web", base, "session opened"),
		dbEvent("web", base.Add(time.Second), "session closed"),
	}

	inserted, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// The same batch again is a no-op
	inserted, err = s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	// A mixed batch only inserts the new row
	inserted, err = s.InsertEvents(ctx, append(events,
		dbEvent("web", base.Add(2*time.Second), "session opened")))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	unscored, err := s.FetchUnscoredEvents(ctx, "web", 10)
	require.NoError(t, err)
	assert.Len(t, unscored, 3)
}

func TestInsertEvents_ChunksLargeBatches(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	base := time.Now().UTC().Truncate(time.Second)

	// More rows than fit in one statement under the parameter budget
	n := chunkRows(eventInsertCols) + 25
	events := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events,
			dbEvent("web", base.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("event %d", i)))
	}

	inserted, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, n, inserted)
}

func TestMarkEventsScored(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	base := time.Now().UTC().Truncate(time.Second)

	_, err := s.InsertEvents(ctx, []models.Event{
		dbEvent("web", base, "disk warning"),
		dbEvent("web", base.Add(time.Second), "disk failure"),
	})
	require.NoError(t, err)

	unscored, err := s.FetchUnscoredEvents(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, unscored, 2)

	scoredAt := base.Add(time.Minute)
	require.NoError(t, s.MarkEventsScored(ctx, []int64{unscored[0].ID}, scoredAt))

	remaining, err := s.FetchUnscoredEvents(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "disk failure", remaining[0].Message)

	all, err := s.EventsInRange(ctx, "web", base, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[0].ScoredAt)
	assert.WithinDuration(t, scoredAt, *all[0].ScoredAt, time.Millisecond)
	assert.Nil(t, all[1].ScoredAt)
}

func TestUpsertTemplates_AccumulatesOccurrences(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	now := time.Now().UTC().Truncate(time.Second)

	templates, err := s.UpsertTemplates(ctx, "web", now, []TemplateUpsert{
		{PatternHash: "h1", Text: "session opened for <*>", Occurrences: 3},
	})
	require.NoError(t, err)
	tpl := templates["h1"]
	assert.Equal(t, int64(3), tpl.OccurrenceCount)
	assert.Nil(t, tpl.CachedScores)

	// Cache a score vector, then upsert again: counters accumulate and
	// the cached scores come back for the cache-hit decision.
	scores := models.ScoreVector{ITSecurity: 0.7}
	require.NoError(t, s.UpdateTemplateScores(ctx, []models.TemplateScoreUpdate{
		{TemplateID: tpl.ID, Scores: scores, ScoredAt: now},
	}))

	templates, err = s.UpsertTemplates(ctx, "web", now.Add(time.Minute), []TemplateUpsert{
		{PatternHash: "h1", Text: "session opened for <*>", Occurrences: 2},
	})
	require.NoError(t, err)
	tpl = templates["h1"]
	assert.Equal(t, int64(5), tpl.OccurrenceCount)
	require.NotNil(t, tpl.CachedScores)
	assert.Equal(t, 0.7, tpl.CachedScores.ITSecurity)
	assert.Equal(t, 1, tpl.ScoreCount)
	assert.Equal(t, 0.7, tpl.AvgMaxScore)
}

func TestUpdateTemplateScores_RunningAverage(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	now := time.Now().UTC().Truncate(time.Second)

	templates, err := s.UpsertTemplates(ctx, "web", now, []TemplateUpsert{
		{PatternHash: "h1", Text: "login failed for <*>", Occurrences: 1},
	})
	require.NoError(t, err)
	id := templates["h1"].ID

	require.NoError(t, s.UpdateTemplateScores(ctx, []models.TemplateScoreUpdate{
		{TemplateID: id, Scores: models.ScoreVector{ITSecurity: 0.8}, ScoredAt: now},
	}))
	require.NoError(t, s.UpdateTemplateScores(ctx, []models.TemplateScoreUpdate{
		{TemplateID: id, Scores: models.ScoreVector{ITSecurity: 0.4}, ScoredAt: now.Add(time.Minute)},
	}))

	templates, err = s.UpsertTemplates(ctx, "web", now.Add(2*time.Minute), []TemplateUpsert{
		{PatternHash: "h1", Text: "login failed for <*>", Occurrences: 1},
	})
	require.NoError(t, err)
	tpl := templates["h1"]
	assert.Equal(t, 2, tpl.ScoreCount)
	assert.InDelta(t, 0.6, tpl.AvgMaxScore, 1e-9)
	require.NotNil(t, tpl.LastScoredAt)
	assert.WithinDuration(t, now.Add(time.Minute), *tpl.LastScoredAt, time.Millisecond)
}

func TestSaveMetaAnalysis(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSystem(t, s, "web")
	from := time.Now().UTC().Truncate(time.Hour)
	to := from.Add(time.Hour)

	_, err := s.InsertEvents(ctx, []models.Event{
		dbEvent("web", from.Add(time.Minute), "failed password for root"),
		dbEvent("web", from.Add(2*time.Minute), "unusual port scan"),
	})
	require.NoError(t, err)

	events, err := s.FetchUnscoredEvents(ctx, "web", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, s.InsertEventScores(ctx, []models.EventScore{
		{EventID: events[0].ID, CriterionID: models.CriterionITSecurity, ScoreType: models.ScoreTypeEvent, Score: 0.9},
		{EventID: events[1].ID, CriterionID: models.CriterionITSecurity, ScoreType: models.ScoreTypeEvent, Score: 0.5},
		{EventID: events[1].ID, CriterionID: models.CriterionAnomaly, ScoreType: models.ScoreTypeEvent, Score: 0.4},
	}))

	created, err := s.InsertWindow(ctx, "web", from, to, models.WindowTriggerTime)
	require.NoError(t, err)
	require.True(t, created)
	windows, err := s.UnanalyzedWindows(ctx, "web")
	require.NoError(t, err)
	require.Len(t, windows, 1)

	analyzedAt := to.Add(time.Minute)
	metaID, effective, err := s.SaveMetaAnalysis(ctx, MetaWrite{
		Window: windows[0],
		MetaScores: models.ScoreVector{
			ITSecurity:             0.8,
			PerformanceDegradation: 0.6, // no event evidence: must clamp to zero
		},
		Summary:    "repeated auth failures from one host",
		WMeta:      0.5,
		Usage:      models.LlmUsage{RunType: models.LlmRunMeta, Model: "gpt-4o", SystemID: "web", RequestCount: 1, CostEstimate: 0.01},
		AnalyzedAt: analyzedAt,
	})
	require.NoError(t, err)
	assert.NotZero(t, metaID)
	require.Len(t, effective, len(models.Criteria()))

	byID := make(map[models.CriterionID]models.EffectiveScore)
	for _, es := range effective {
		byID[es.CriterionID] = es
	}
	// effective = w_meta*meta + (1-w_meta)*max_event
	assert.InDelta(t, 0.85, byID[models.CriterionITSecurity].EffectiveValue, 1e-9)
	assert.InDelta(t, 0.9, byID[models.CriterionITSecurity].MaxEventScore, 1e-9)
	assert.InDelta(t, 0.2, byID[models.CriterionAnomaly].EffectiveValue, 1e-9)
	// Zero event evidence clamps both the meta score and the blend
	assert.Zero(t, byID[models.CriterionPerformanceDegradation].MetaScore)
	assert.Zero(t, byID[models.CriterionPerformanceDegradation].EffectiveValue)

	// The whole write committed: scores readable, window stamped, usage recorded
	stored, err := s.EffectiveScoresForWindow(ctx, windows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, effective, stored)

	windows, err = s.UnanalyzedWindows(ctx, "web")
	require.NoError(t, err)
	assert.Empty(t, windows)

	totals, err := s.UsageTotalsSince(ctx, from)
	require.NoError(t, err)
	require.Contains(t, totals, models.LlmRunMeta)
	assert.Equal(t, 1, totals[models.LlmRunMeta].RequestCount)

	summaries, err := s.RecentSummaries(ctx, "web", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"repeated auth failures from one host"}, summaries)
}

func TestAlertHistory_ScheduleRuleWithoutCriterion(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedRule(t, s, "daily-report")
	now := time.Now().UTC().Truncate(time.Second)

	// A schedule rule has no criterion scope: the row keys on NULL.
	dispatched := now.Add(-time.Hour)
	require.NoError(t, s.InsertAlertHistory(ctx, models.AlertHistory{
		RuleID:       "daily-report",
		SystemID:     "web",
		State:        models.AlertStateFiring,
		DispatchedAt: &dispatched,
		CreatedAt:    now.Add(-time.Hour),
	}))

	// A criterion-scoped row for the same rule must not leak into the
	// NULL key.
	later := now.Add(-time.Minute)
	require.NoError(t, s.InsertAlertHistory(ctx, models.AlertHistory{
		RuleID:       "daily-report",
		SystemID:     "web",
		CriterionID:  models.CriterionITSecurity,
		State:        models.AlertStateFiring,
		Value:        0.9,
		DispatchedAt: &later,
		CreatedAt:    later,
	}))

	state, err := s.LatestAlertState(ctx, "daily-report", "web", 0)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.CriterionID(0), state.CriterionID)
	assert.Equal(t, models.AlertStateFiring, state.State)

	last, err := s.LastDispatchAt(ctx, "daily-report", "web", 0)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, dispatched, *last, time.Millisecond)

	last, err = s.LastDispatchAt(ctx, "daily-report", "web", models.CriterionITSecurity)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.WithinDuration(t, later, *last, time.Millisecond)
}
