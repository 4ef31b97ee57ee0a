// Package window materialises fixed-width, epoch-aligned analysis
// windows. A window is created only for fully-elapsed buckets that
// contain at least one event, so idle periods cost nothing downstream.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// Storage is the persistence surface the windower needs.
type Storage interface {
	EventBucketStarts(ctx context.Context, systemID string, width time.Duration, before time.Time) ([]time.Time, error)
	InsertWindow(ctx context.Context, systemID string, from, to time.Time, trigger string) (bool, error)
}

// Windower creates missing windows for each system.
type Windower struct {
	storage Storage
	logger  *slog.Logger
}

// NewWindower creates a windower.
func NewWindower(storage Storage) *Windower {
	if storage == nil {
		panic("window.NewWindower: storage must not be nil")
	}
	return &Windower{
		storage: storage,
		logger:  slog.Default().With("component", "windower"),
	}
}

// Align floors t to the epoch-aligned bucket of the given width.
func Align(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// Run creates windows for every elapsed bucket of the system that holds
// events and has no window yet. Returns the number of windows created.
// Creation is idempotent: the (system, from, to) uniqueness makes
// re-runs no-ops.
func (w *Windower) Run(ctx context.Context, systemID string, width time.Duration, now time.Time) (int, error) {
	buckets, err := w.storage.EventBucketStarts(ctx, systemID, width, now)
	if err != nil {
		return 0, fmt.Errorf("list event buckets: %w", err)
	}

	created := 0
	for _, from := range buckets {
		ok, err := w.storage.InsertWindow(ctx, systemID, from, from.Add(width), models.WindowTriggerTime)
		if err != nil {
			return created, fmt.Errorf("create window: %w", err)
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		w.logger.Debug("Windows created", "system_id", systemID, "count", created)
	}
	return created, nil
}
