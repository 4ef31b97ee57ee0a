package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/logsift/logsift/pkg/models"
)

// SourceLister loads the active routing rules, ordered by
// (system_id, priority asc, id asc).
type SourceLister interface {
	ListEnabledLogSources(ctx context.Context) ([]models.LogSource, error)
}

// compiledSource is one log source with its selector regexes pre-compiled.
type compiledSource struct {
	source   models.LogSource
	matchers map[string]*regexp.Regexp
}

// Router assigns each normalised event to exactly one (system, log source)
// pair. It holds a process-local immutable snapshot of the compiled
// sources; Invalidate swaps it out atomically on source CRUD.
type Router struct {
	lister SourceLister

	mu   sync.RWMutex
	snap []compiledSource
}

// NewRouter creates a router over the given source lister.
func NewRouter(lister SourceLister) *Router {
	if lister == nil {
		panic("NewRouter: lister must not be nil")
	}
	return &Router{lister: lister}
}

// Invalidate discards the cached snapshot. The next Route call reloads.
func (r *Router) Invalidate() {
	r.mu.Lock()
	r.snap = nil
	r.mu.Unlock()
}

// Route returns the first matching log source for the event, in
// (system_id, priority, id) order. A source matches iff every selector
// field is a regex matching the corresponding non-empty event field.
// The second return value is false when no source matches.
func (r *Router) Route(ctx context.Context, n Normalized) (models.LogSource, bool, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return models.LogSource{}, false, err
	}

	for _, cs := range snap {
		if matches(cs, n) {
			return cs.source, true, nil
		}
	}
	return models.LogSource{}, false, nil
}

func matches(cs compiledSource, n Normalized) bool {
	for field, re := range cs.matchers {
		value := selectorValue(n, field)
		if value == "" || !re.MatchString(value) {
			return false
		}
	}
	return len(cs.matchers) > 0
}

func selectorValue(n Normalized, field string) string {
	switch field {
	case models.SelectorHost:
		return n.Host
	case models.SelectorSourceIP:
		return n.SourceIP
	case models.SelectorProgram:
		return n.Program
	case models.SelectorService:
		return n.Service
	case models.SelectorFacility:
		return n.Facility
	}
	return ""
}

func (r *Router) snapshot(ctx context.Context) ([]compiledSource, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snap != nil {
		return r.snap, nil
	}

	sources, err := r.lister.ListEnabledLogSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load log sources: %w", err)
	}

	compiled := make([]compiledSource, 0, len(sources))
	for _, src := range sources {
		cs := compiledSource{source: src, matchers: make(map[string]*regexp.Regexp, len(src.Selector))}
		ok := true
		for field, pattern := range src.Selector {
			re, err := regexp.Compile(pattern)
			if err != nil {
				slog.Error("Skipping log source with invalid selector pattern",
					"source_id", src.ID, "field", field, "error", err)
				ok = false
				break
			}
			cs.matchers[field] = re
		}
		if ok && len(cs.matchers) > 0 {
			compiled = append(compiled, cs)
		}
	}

	r.snap = compiled
	return compiled, nil
}
