// Package pipeline ties the stages together: scoring, windowing, meta
// analysis, finding lifecycle, and alert evaluation, executed as one
// periodic, non-overlapping run.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/findings"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/meta"
	"github.com/logsift/logsift/pkg/models"
	"github.com/logsift/logsift/pkg/scoring"
)

// Storage is the persistence surface the orchestrator itself needs;
// stages carry their own narrower interfaces.
type Storage interface {
	LoadOverrides(ctx context.Context) (map[string]json.RawMessage, error)
	ListSystems(ctx context.Context) ([]models.MonitoredSystem, error)
	UnanalyzedWindows(ctx context.Context, systemID string) ([]models.Window, error)
}

// Scorer runs the per-event scoring stage for one system.
type Scorer interface {
	Run(ctx context.Context, system models.MonitoredSystem, settings *config.PipelineSettings) (scoring.Result, error)
}

// Windower creates missing analysis windows for one system.
type Windower interface {
	Run(ctx context.Context, systemID string, width time.Duration, now time.Time) (int, error)
}

// Analyzer runs the meta stage for one window.
type Analyzer interface {
	AnalyzeWindow(ctx context.Context, system models.MonitoredSystem, w models.Window, settings *config.PipelineSettings) (meta.Result, error)
}

// FindingEngine applies one window's meta output to the finding set.
type FindingEngine interface {
	Apply(ctx context.Context, systemID string, metaID int64, out llm.MetaOutput, openAtStart []models.Finding, settings *config.PipelineSettings) (findings.Result, error)
}

// AlertEvaluator evaluates notification rules for one analysed window.
type AlertEvaluator interface {
	EvaluateWindow(ctx context.Context, system models.MonitoredSystem, w models.Window, effective []models.EffectiveScore) error
}

// Orchestrator owns the periodic pipeline run.
type Orchestrator struct {
	storage  Storage
	scorer   Scorer
	windower Windower
	analyzer Analyzer
	findings FindingEngine
	alerts   AlertEvaluator
	settings *config.PipelineSettings
	logger   *slog.Logger

	// runMu serialises pipeline runs; cancelMu guards runCancel.
	runMu     sync.Mutex
	cancelMu  sync.Mutex
	runCancel context.CancelFunc
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates an orchestrator. settings are the YAML deployment defaults;
// app_config overrides are re-read at the start of every run.
func New(storage Storage, scorer Scorer, windower Windower, analyzer Analyzer, engine FindingEngine, alerts AlertEvaluator, settings *config.PipelineSettings) *Orchestrator {
	if storage == nil {
		panic("pipeline.New: storage must not be nil")
	}
	if settings == nil {
		panic("pipeline.New: settings must not be nil")
	}
	return &Orchestrator{
		storage:  storage,
		scorer:   scorer,
		windower: windower,
		analyzer: analyzer,
		findings: engine,
		alerts:   alerts,
		settings: settings,
		logger:   slog.Default().With("component", "orchestrator"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the scheduler loop. One run executes immediately.
func (o *Orchestrator) Start(ctx context.Context) {
	go func() {
		defer close(o.done)

		o.RunOnce(ctx)

		ticker := time.NewTicker(o.settings.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-ticker.C:
				o.RunOnce(ctx)
			}
		}
	}()
	o.logger.Info("Orchestrator started", "interval", o.settings.Interval)
}

// Stop cancels any in-flight run and stops the scheduler.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.cancelMu.Lock()
		if o.runCancel != nil {
			o.runCancel()
		}
		o.cancelMu.Unlock()
		<-o.done
		o.logger.Info("Orchestrator stopped")
	})
}

// RunOnce executes one full pipeline pass. At most one run executes at a
// time; an overlapping call returns immediately.
func (o *Orchestrator) RunOnce(ctx context.Context) {
	if !o.runMu.TryLock() {
		o.logger.Warn("Previous pipeline run still in progress, skipping tick")
		return
	}
	defer o.runMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	o.cancelMu.Lock()
	o.runCancel = cancel
	o.cancelMu.Unlock()
	defer func() {
		cancel()
		o.cancelMu.Lock()
		o.runCancel = nil
		o.cancelMu.Unlock()
	}()

	o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) {
	started := time.Now()

	settings := o.currentSettings(ctx)

	systems, err := o.storage.ListSystems(ctx)
	if err != nil {
		o.logger.Error("Pipeline run aborted: listing systems failed", "error", err)
		return
	}

	analysed, failed := 0, 0
	for _, system := range systems {
		if ctx.Err() != nil {
			o.logger.Warn("Pipeline run cancelled")
			return
		}
		a, f := o.runSystem(ctx, system, settings)
		analysed += a
		failed += f
	}

	o.logger.Info("Pipeline run finished",
		"systems", len(systems),
		"windows_analysed", analysed,
		"windows_failed", failed,
		"duration", time.Since(started).Round(time.Millisecond))
}

// runSystem executes scoring → windowing → per-window meta, findings and
// alerts for one system. Every stage failure is logged and isolated.
func (o *Orchestrator) runSystem(ctx context.Context, system models.MonitoredSystem, settings *config.PipelineSettings) (analysed, failed int) {
	logger := o.logger.With("system_id", system.ID)

	if _, err := o.scorer.Run(ctx, system, settings); err != nil {
		logger.Error("Scoring stage failed", "error", err)
	}

	if _, err := o.windower.Run(ctx, system.ID, settings.WindowWidth(), time.Now().UTC()); err != nil {
		logger.Error("Windowing stage failed", "error", err)
		return 0, 0
	}

	windows, err := o.storage.UnanalyzedWindows(ctx, system.ID)
	if err != nil {
		logger.Error("Fetching unanalyzed windows failed", "error", err)
		return 0, 0
	}

	for _, w := range windows {
		if ctx.Err() != nil {
			return analysed, failed
		}

		res, err := o.analyzer.AnalyzeWindow(ctx, system, w, settings)
		if err != nil {
			logger.Error("Meta analysis failed", "window_id", w.ID, "error", err)
			failed++
			continue
		}
		if res.Failed {
			failed++
			continue
		}
		analysed++

		// Findings and alerts fan out best-effort: their failures never
		// roll back the meta result they derive from.
		if res.Output != nil {
			if _, err := o.findings.Apply(ctx, system.ID, res.MetaID, *res.Output, res.OpenFindings, settings); err != nil {
				logger.Error("Finding lifecycle failed", "window_id", w.ID, "error", err)
			}
		}
		if err := o.alerts.EvaluateWindow(ctx, system, w, res.EffectiveScores); err != nil {
			logger.Error("Alert evaluation failed", "window_id", w.ID, "error", err)
		}
	}
	return analysed, failed
}

// currentSettings overlays the app_config rows on the YAML defaults. A
// read failure falls back to the defaults: tuning must never stop runs.
func (o *Orchestrator) currentSettings(ctx context.Context) *config.PipelineSettings {
	overrides, err := o.storage.LoadOverrides(ctx)
	if err != nil {
		o.logger.Warn("Reading app_config overrides failed, using defaults", "error", err)
		return o.settings
	}
	return o.settings.ApplyOverrides(overrides)
}
