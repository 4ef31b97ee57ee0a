package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/models"
)

type eventDelete struct {
	systemID  string
	cutoff    time.Time
	chunkSize int
}

type fakeStorage struct {
	mu         sync.Mutex
	systems    []models.MonitoredSystem
	systemsErr error

	// chunkReturns holds the per-call results of DeleteEventsBefore for
	// each system, consumed in order.
	chunkReturns map[string][]int64
	eventErr     map[string]error

	eventCalls    []eventDelete
	windowCutoffs map[string]time.Time
	usageCutoff   *time.Time
}

func newFakeStorage(systems ...models.MonitoredSystem) *fakeStorage {
	return &fakeStorage{
		systems:       systems,
		chunkReturns:  make(map[string][]int64),
		eventErr:      make(map[string]error),
		windowCutoffs: make(map[string]time.Time),
	}
}

func (f *fakeStorage) ListSystems(ctx context.Context) ([]models.MonitoredSystem, error) {
	return f.systems, f.systemsErr
}

func (f *fakeStorage) DeleteEventsBefore(ctx context.Context, systemID string, cutoff time.Time, chunkSize int) (int64, error) {
	f.eventCalls = append(f.eventCalls, eventDelete{systemID, cutoff, chunkSize})
	if err := f.eventErr[systemID]; err != nil {
		return 0, err
	}
	queue := f.chunkReturns[systemID]
	if len(queue) == 0 {
		return 0, nil
	}
	f.chunkReturns[systemID] = queue[1:]
	return queue[0], nil
}

func (f *fakeStorage) DeleteWindowsBefore(ctx context.Context, systemID string, cutoff time.Time) (int64, error) {
	f.windowCutoffs[systemID] = cutoff
	return 0, nil
}

func (f *fakeStorage) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usageCutoff = &cutoff
	return 0, nil
}

func (f *fakeStorage) usageRan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usageCutoff != nil
}

func retentionConfig() *config.RetentionConfig {
	return &config.RetentionConfig{
		DefaultRetentionDays: 30,
		CleanupInterval:      time.Hour,
		DeleteChunkSize:      1000,
	}
}

func intPtr(n int) *int { return &n }

func TestRunOnce_PerSystemRetention(t *testing.T) {
	st := newFakeStorage(
		models.MonitoredSystem{ID: "web"},
		models.MonitoredSystem{ID: "db", RetentionDays: intPtr(7)},
	)

	NewService(retentionConfig(), st).RunOnce(context.Background())

	now := time.Now().UTC()
	require.Len(t, st.eventCalls, 2)

	// "web" falls back to the default; "db" uses its own override.
	assert.Equal(t, "web", st.eventCalls[0].systemID)
	assert.WithinDuration(t, now.AddDate(0, 0, -30), st.eventCalls[0].cutoff, time.Minute)
	assert.Equal(t, "db", st.eventCalls[1].systemID)
	assert.WithinDuration(t, now.AddDate(0, 0, -7), st.eventCalls[1].cutoff, time.Minute)

	assert.Contains(t, st.windowCutoffs, "web")
	assert.Contains(t, st.windowCutoffs, "db")

	// Usage rows are kept until the oldest cutoff across all systems.
	require.NotNil(t, st.usageCutoff)
	assert.WithinDuration(t, now.AddDate(0, 0, -30), *st.usageCutoff, time.Minute)
}

func TestRunOnce_ChunkedEventDeletes(t *testing.T) {
	st := newFakeStorage(models.MonitoredSystem{ID: "web"})
	st.chunkReturns["web"] = []int64{1000, 1000, 250}

	NewService(retentionConfig(), st).RunOnce(context.Background())

	// Three full-or-partial chunks plus the final empty one that stops
	// the loop.
	require.Len(t, st.eventCalls, 4)
	for _, call := range st.eventCalls {
		assert.Equal(t, 1000, call.chunkSize)
	}
	assert.Contains(t, st.windowCutoffs, "web")
}

func TestRunOnce_EventErrorSkipsWindowCleanup(t *testing.T) {
	st := newFakeStorage(
		models.MonitoredSystem{ID: "web"},
		models.MonitoredSystem{ID: "db"},
	)
	st.eventErr["web"] = errors.New("deadlock detected")

	NewService(retentionConfig(), st).RunOnce(context.Background())

	// The broken system stops before its window cleanup; the other
	// system is unaffected.
	assert.NotContains(t, st.windowCutoffs, "web")
	assert.Contains(t, st.windowCutoffs, "db")
}

func TestRunOnce_ZeroRetentionDisables(t *testing.T) {
	st := newFakeStorage(models.MonitoredSystem{ID: "web"})
	cfg := retentionConfig()
	cfg.DefaultRetentionDays = 0

	NewService(cfg, st).RunOnce(context.Background())

	assert.Empty(t, st.eventCalls)
	assert.Empty(t, st.windowCutoffs)
	// With no retention horizon the usage cutoff stays at now, deleting
	// nothing that any system still retains.
	require.NotNil(t, st.usageCutoff)
	assert.WithinDuration(t, time.Now().UTC(), *st.usageCutoff, time.Minute)
}

func TestRunOnce_ListSystemsError(t *testing.T) {
	st := newFakeStorage()
	st.systemsErr = errors.New("connection refused")

	NewService(retentionConfig(), st).RunOnce(context.Background())

	assert.Empty(t, st.eventCalls)
	assert.Nil(t, st.usageCutoff)
}

func TestStartStop(t *testing.T) {
	st := newFakeStorage(models.MonitoredSystem{ID: "web"})
	svc := NewService(retentionConfig(), st)

	svc.Start(context.Background())

	require.Eventually(t, st.usageRan, time.Second, time.Millisecond)

	svc.Stop()

	// Stop is idempotent.
	svc.Stop()
}
