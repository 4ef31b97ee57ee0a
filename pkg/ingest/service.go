package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/logsift/logsift/pkg/models"
)

// EventWriter persists normalised events. InsertEvents deduplicates on
// (normalized_hash, timestamp) and returns the number of rows actually
// inserted.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []models.Event) (int, error)
}

// SystemInfoProvider supplies per-system timezone offsets (minutes).
type SystemInfoProvider interface {
	TimezoneOffsets(ctx context.Context) (map[string]int, error)
}

// Result summarises one ingest batch.
type Result struct {
	Ingested int `json:"ingested"`
	Deduped  int `json:"deduped"`
	Rejected int `json:"rejected"`
}

// Service runs the full ingest path: multiline reassembly, normalisation,
// routing, timezone adjustment, and deduplicated persistence.
type Service struct {
	writer  EventWriter
	systems SystemInfoProvider
	router  *Router
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates the ingest service.
func NewService(writer EventWriter, systems SystemInfoProvider, router *Router) *Service {
	if writer == nil {
		panic("ingest.NewService: writer must not be nil")
	}
	if systems == nil {
		panic("ingest.NewService: systems must not be nil")
	}
	if router == nil {
		panic("ingest.NewService: router must not be nil")
	}
	return &Service{
		writer:  writer,
		systems: systems,
		router:  router,
		logger:  slog.Default().With("component", "ingest"),
		now:     time.Now,
	}
}

// Ingest processes one raw batch. Invalid entries are dropped silently
// (counted as rejected); unmatched events are dropped; duplicate events are
// counted as deduped. A storage failure fails the whole batch.
func (s *Service) Ingest(ctx context.Context, records []Record) (Result, error) {
	var res Result

	records = Reassemble(records)

	offsets, err := s.systems.TimezoneOffsets(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to load system timezone offsets: %w", err)
	}

	now := s.now().UTC()
	events := make([]models.Event, 0, len(records))
	for _, rec := range records {
		n, err := Normalize(rec, now)
		if err != nil {
			res.Rejected++
			continue
		}

		source, ok, err := s.router.Route(ctx, n)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Rejected++
			continue
		}

		ts := ApplyTimezoneOffset(n.Timestamp, offsets[source.SystemID])
		events = append(events, models.Event{
			SystemID:       source.SystemID,
			LogSourceID:    source.ID,
			Timestamp:      ts,
			ReceivedAt:     now,
			Message:        n.Message,
			Severity:       n.Severity,
			Host:           n.Host,
			SourceIP:       n.SourceIP,
			Service:        n.Service,
			Facility:       n.Facility,
			Program:        n.Program,
			TraceID:        n.TraceID,
			SpanID:         n.SpanID,
			ExternalID:     n.ExternalID,
			Raw:            n.Raw,
			NormalizedHash: models.NormalizedHash(ts, n.Message, n.Host, n.SourceIP, n.Service, n.Program, n.Facility),
		})
	}

	if len(events) == 0 {
		return res, nil
	}

	inserted, err := s.writer.InsertEvents(ctx, events)
	if err != nil {
		return res, fmt.Errorf("failed to insert events: %w", err)
	}
	res.Ingested = inserted
	res.Deduped = len(events) - inserted

	s.logger.Debug("Ingest batch processed",
		"ingested", res.Ingested,
		"deduped", res.Deduped,
		"rejected", res.Rejected)
	return res, nil
}

// InvalidateRoutes discards the router's source snapshot after source CRUD.
func (s *Service) InvalidateRoutes() {
	s.router.Invalidate()
}
