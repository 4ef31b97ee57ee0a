// Package api is the HTTP surface: the ingest endpoint and the health
// check.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/ingest"
	"github.com/logsift/logsift/pkg/models"
)

// Ingester accepts raw record batches.
type Ingester interface {
	Ingest(ctx context.Context, records []ingest.Record) (ingest.Result, error)
}

// AdminStore is the read/tune surface behind the operational endpoints.
type AdminStore interface {
	SystemByID(ctx context.Context, id string) (*models.MonitoredSystem, error)
	UsageTotalsSince(ctx context.Context, since time.Time) (map[string]models.LlmUsage, error)
	SetOverride(ctx context.Context, key string, value json.RawMessage) error
	EffectiveScoresForWindow(ctx context.Context, windowID int64) ([]models.EffectiveScore, error)
}

// Server is the HTTP API server.
type Server struct {
	ingester Ingester
	admin    AdminStore
	db       *sql.DB
	limiter  *rate.Limiter
	cfg      *config.IngestConfig
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates the API server. admin may be nil, which disables the
// operational endpoints.
func NewServer(ingester Ingester, admin AdminStore, db *sql.DB, cfg *config.IngestConfig) *Server {
	if ingester == nil {
		panic("api.NewServer: ingester must not be nil")
	}
	if cfg == nil {
		panic("api.NewServer: cfg must not be nil")
	}
	return &Server{
		ingester: ingester,
		admin:    admin,
		db:       db,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:      cfg,
		logger:   slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.healthHandler)
	r.POST("/api/v1/ingest", s.ingestHandler)

	if s.admin != nil {
		r.GET("/api/v1/systems/:id", s.systemHandler)
		r.GET("/api/v1/usage", s.usageHandler)
		r.PUT("/api/v1/config/:key", s.setConfigHandler)
		r.GET("/api/v1/windows/:id/scores", s.windowScoresHandler)
	}

	return r
}

// Start serves on addr until Shutdown is called. Blocks.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
