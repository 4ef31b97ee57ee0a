package meta

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/models"
	"github.com/logsift/logsift/pkg/store"
)

type fakeStorage struct {
	events       []models.Event
	scores       map[int64]models.ScoreVector
	hasScores    bool
	summaries    []string
	openFindings []models.Finding
	sourceLabels map[string]string

	saved       []store.MetaWrite
	failedAt    map[int64]time.Time
	savedMetaID int64
	effective   []models.EffectiveScore
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		scores:       make(map[int64]models.ScoreVector),
		sourceLabels: make(map[string]string),
		failedAt:     make(map[int64]time.Time),
		savedMetaID:  42,
	}
}

func (f *fakeStorage) EventsInRange(ctx context.Context, systemID string, from, to time.Time, limit int) ([]models.Event, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeStorage) ScoresForEvents(ctx context.Context, eventIDs []int64) (map[int64]models.ScoreVector, error) {
	return f.scores, nil
}

func (f *fakeStorage) HasNonZeroScores(ctx context.Context, systemID string, window models.Window) (bool, error) {
	return f.hasScores, nil
}

func (f *fakeStorage) RecentSummaries(ctx context.Context, systemID string, n int) ([]string, error) {
	return f.summaries, nil
}

func (f *fakeStorage) OpenFindings(ctx context.Context, systemID string) ([]models.Finding, error) {
	return f.openFindings, nil
}

func (f *fakeStorage) SourceLabels(ctx context.Context, systemID string) (map[string]string, error) {
	return f.sourceLabels, nil
}

func (f *fakeStorage) SaveMetaAnalysis(ctx context.Context, w store.MetaWrite) (int64, []models.EffectiveScore, error) {
	f.saved = append(f.saved, w)
	return f.savedMetaID, f.effective, nil
}

func (f *fakeStorage) MarkWindowFailed(ctx context.Context, windowID int64, at time.Time) error {
	f.failedAt[windowID] = at
	return nil
}

type fakeOracle struct {
	out    llm.MetaOutput
	err    error
	calls  int
	lastReq llm.MetaRequest
}

func (f *fakeOracle) AnalyzeWindow(ctx context.Context, req llm.MetaRequest) (llm.MetaOutput, llm.Usage, error) {
	f.calls++
	f.lastReq = req
	return f.out, llm.Usage{PromptTokens: 200, CompletionTokens: 80, Requests: 1}, f.err
}

func (f *fakeOracle) Model() string { return "gpt-4o-mini" }

func testWindow() models.Window {
	from := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.Window{ID: 9, SystemID: "web", FromTS: from, ToTS: from.Add(5 * time.Minute)}
}

func testSystem() models.MonitoredSystem {
	return models.MonitoredSystem{ID: "web", Name: "Web", Description: "frontend cluster"}
}

func TestAnalyzeWindow_SkipZeroScore(t *testing.T) {
	st := newFakeStorage()
	st.hasScores = false
	oracle := &fakeOracle{}
	a := NewAnalyzer(st, oracle)

	res, err := a.AnalyzeWindow(context.Background(), testSystem(), testWindow(), config.DefaultPipelineSettings())
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Nil(t, res.Output)
	assert.Zero(t, oracle.calls)

	// A neutral meta result is still written so the window counts as
	// analysed and alerting can observe the all-zero scores.
	require.Len(t, st.saved, 1)
	w := st.saved[0]
	assert.True(t, w.MetaScores.IsZero())
	assert.Empty(t, w.Summary)
	assert.Zero(t, w.Usage.RequestCount)
	assert.Equal(t, 0.7, w.WMeta)
}

func TestAnalyzeWindow_Success(t *testing.T) {
	tid := int64(5)
	st := newFakeStorage()
	st.hasScores = true
	st.events = []models.Event{
		{ID: 1, TemplateID: &tid, LogSourceID: "src-a", Message: "auth failure for root", Severity: "warning"},
		{ID: 2, TemplateID: &tid, LogSourceID: "src-a", Message: "auth failure for admin", Severity: "warning"},
		{ID: 3, LogSourceID: "src-b", Message: "disk 91 percent full", Severity: "warning"},
	}
	st.scores = map[int64]models.ScoreVector{
		1: {ITSecurity: 0.4},
		2: {ITSecurity: 0.9},
		3: {FailurePrediction: 0.5},
	}
	st.summaries = []string{"previous window summary"}
	st.openFindings = []models.Finding{
		{ID: "f-1", Text: "repeated auth failures", Severity: "high"},
	}
	st.sourceLabels = map[string]string{"src-a": "syslog", "src-b": "node-exporter"}
	st.effective = []models.EffectiveScore{{WindowID: 9, CriterionID: models.CriterionITSecurity, EffectiveValue: 0.8}}

	oracle := &fakeOracle{out: llm.MetaOutput{
		MetaScores:      models.ScoreVector{ITSecurity: 0.8},
		Summary:         "Auth failures continue",
		ResolvedIndices: []int{1},
	}}
	a := NewAnalyzer(st, oracle)

	res, err := a.AnalyzeWindow(context.Background(), testSystem(), testWindow(), config.DefaultPipelineSettings())
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.MetaID)
	require.NotNil(t, res.Output)
	assert.Equal(t, "Auth failures continue", res.Output.Summary)
	require.Len(t, res.OpenFindings, 1)
	assert.Equal(t, "f-1", res.OpenFindings[0].ID)
	assert.Equal(t, st.effective, res.EffectiveScores)

	// Template-sharing events fold into one group with max-folded scores.
	req := oracle.lastReq
	require.Len(t, req.Groups, 2)
	assert.Equal(t, 2, req.Groups[0].OccurrenceCount)
	assert.Equal(t, 0.9, req.Groups[0].Scores.ITSecurity)
	assert.Equal(t, []int64{1, 2}, req.Groups[0].EventIDs)
	assert.Equal(t, 1, req.Groups[1].OccurrenceCount)

	assert.Equal(t, []string{"syslog", "node-exporter"}, req.SourceLabels)
	assert.Equal(t, []string{"previous window summary"}, req.PreviousSummaries)
	require.Len(t, req.OpenFindings, 1)
	assert.Equal(t, 1, req.OpenFindings[0].Index)
	assert.Equal(t, "repeated auth failures", req.OpenFindings[0].Text)

	require.Len(t, st.saved, 1)
	w := st.saved[0]
	assert.Equal(t, 0.8, w.MetaScores.ITSecurity)
	assert.Equal(t, models.LlmRunMeta, w.Usage.RunType)
	assert.Equal(t, 2, w.Usage.EventCount)
	require.NotNil(t, w.Usage.WindowID)
	assert.Equal(t, int64(9), *w.Usage.WindowID)
}

func TestAnalyzeWindow_MetaParseErrorMarksFailed(t *testing.T) {
	st := newFakeStorage()
	st.hasScores = true
	st.events = []models.Event{{ID: 1, Message: "something odd"}}
	oracle := &fakeOracle{err: &llm.MetaParseError{Err: fmt.Errorf("not json")}}
	a := NewAnalyzer(st, oracle)

	res, err := a.AnalyzeWindow(context.Background(), testSystem(), testWindow(), config.DefaultPipelineSettings())
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Nil(t, res.Output)
	assert.Empty(t, st.saved)
	assert.Contains(t, st.failedAt, int64(9))
}

func TestAnalyzeWindow_CallErrorPropagates(t *testing.T) {
	st := newFakeStorage()
	st.hasScores = true
	st.events = []models.Event{{ID: 1, Message: "something odd"}}
	oracle := &fakeOracle{err: &llm.CallError{Model: "m", Err: errors.New("unreachable")}}
	a := NewAnalyzer(st, oracle)

	_, err := a.AnalyzeWindow(context.Background(), testSystem(), testWindow(), config.DefaultPipelineSettings())
	require.Error(t, err)
	assert.Empty(t, st.saved)
	assert.Empty(t, st.failedAt)
}

func TestGroupByTemplate_MessageFallback(t *testing.T) {
	events := []models.Event{
		{ID: 1, Message: "same text"},
		{ID: 2, Message: "same text"},
		{ID: 3, Message: "different"},
	}

	groups := groupByTemplate(events, nil, false)
	require.Len(t, groups, 2)
	assert.Equal(t, 2, groups[0].OccurrenceCount)
}

func TestGroupByTemplate_DropZeroScored(t *testing.T) {
	events := []models.Event{
		{ID: 1, Message: "scored"},
		{ID: 2, Message: "unscored"},
	}
	scores := map[int64]models.ScoreVector{1: {Anomaly: 0.3}}

	groups := groupByTemplate(events, scores, true)
	require.Len(t, groups, 1)
	assert.Equal(t, "scored", groups[0].Message)
}

func TestAnalyzeWindow_CapsWindowEvents(t *testing.T) {
	st := newFakeStorage()
	st.hasScores = true
	for i := 0; i < 10; i++ {
		st.events = append(st.events, models.Event{ID: int64(i + 1), Message: fmt.Sprintf("unique message %c", 'a'+i)})
	}
	oracle := &fakeOracle{}
	a := NewAnalyzer(st, oracle)

	settings := config.DefaultPipelineSettings()
	settings.MaxWindowEvents = 3

	_, err := a.AnalyzeWindow(context.Background(), testSystem(), testWindow(), settings)
	require.NoError(t, err)
	assert.Len(t, oracle.lastReq.Groups, 3)
}
