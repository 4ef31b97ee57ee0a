// Package cleanup enforces per-system data retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/models"
)

// Storage is the persistence surface the retention loop needs.
type Storage interface {
	ListSystems(ctx context.Context) ([]models.MonitoredSystem, error)
	DeleteEventsBefore(ctx context.Context, systemID string, cutoff time.Time, chunkSize int) (int64, error)
	DeleteWindowsBefore(ctx context.Context, systemID string, cutoff time.Time) (int64, error)
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service periodically deletes events, windows (with their meta results
// via cascade), and usage rows past each system's retention horizon.
// Event deletes run in chunks, one transaction per chunk, so retention
// never holds long locks over the hot events table.
type Service struct {
	config  *config.RetentionConfig
	storage Storage

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg *config.RetentionConfig, storage Storage) *Service {
	if cfg == nil {
		panic("cleanup.NewService: cfg must not be nil")
	}
	if storage == nil {
		panic("cleanup.NewService: storage must not be nil")
	}
	return &Service{
		config:  cfg,
		storage: storage,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"default_retention_days", s.config.DefaultRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce enforces retention across all systems. Failures are logged per
// system; one broken system never blocks the others.
func (s *Service) RunOnce(ctx context.Context) {
	systems, err := s.storage.ListSystems(ctx)
	if err != nil {
		slog.Error("Retention: listing systems failed", "error", err)
		return
	}

	now := time.Now().UTC()
	oldestCutoff := now

	for _, sys := range systems {
		days := s.config.DefaultRetentionDays
		if sys.RetentionDays != nil && *sys.RetentionDays > 0 {
			days = *sys.RetentionDays
		}
		if days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -days)
		if cutoff.Before(oldestCutoff) {
			oldestCutoff = cutoff
		}
		s.cleanSystem(ctx, sys.ID, cutoff)
	}

	if count, err := s.storage.DeleteUsageBefore(ctx, oldestCutoff); err != nil {
		slog.Error("Retention: usage cleanup failed", "error", err)
	} else if count > 0 {
		slog.Info("Retention: deleted old usage rows", "count", count)
	}
}

func (s *Service) cleanSystem(ctx context.Context, systemID string, cutoff time.Time) {
	var total int64
	for {
		count, err := s.storage.DeleteEventsBefore(ctx, systemID, cutoff, s.config.DeleteChunkSize)
		if err != nil {
			slog.Error("Retention: event cleanup failed", "system_id", systemID, "error", err)
			return
		}
		total += count
		if count == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if total > 0 {
		slog.Info("Retention: deleted old events", "system_id", systemID, "count", total)
	}

	if count, err := s.storage.DeleteWindowsBefore(ctx, systemID, cutoff); err != nil {
		slog.Error("Retention: window cleanup failed", "system_id", systemID, "error", err)
	} else if count > 0 {
		slog.Info("Retention: deleted old windows", "system_id", systemID, "count", count)
	}
}
