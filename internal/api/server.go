// Package api exposes the failover control plane over HTTP for the
// dashboard and operator tooling.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Orchestrator is the failover surface the API needs.
type Orchestrator interface {
	ExecuteFailover(ctx context.Context, fromRegionID, toRegionID string,
		reason region.Reason, triggeredBy string) (*failover.Result, error)
	CheckAndTriggerFailover(ctx context.Context, regionID string) (*failover.Result, error)
	RollbackFailover(ctx context.Context, eventID uuid.UUID) (*failover.Result, error)
	ScheduleMaintenanceFailover(ctx context.Context, regionID string,
		scheduledTime time.Time, estimatedDuration time.Duration) (*failover.ScheduleResult, error)
	CancelFailover(ctx context.Context, eventID uuid.UUID) (bool, error)
	Status(ctx context.Context) (*failover.StatusReport, error)
	History(ctx context.Context, limit int) ([]*region.FailoverEvent, error)
}

// Server serves the control-plane API.
type Server struct {
	logger       *zap.Logger
	router       *mux.Router
	httpServer   *http.Server
	orchestrator Orchestrator
	store        region.Store
	startTime    time.Time
}

// NewServer builds the server and its routes.
func NewServer(port int, orchestrator Orchestrator, store region.Store, logger *zap.Logger) *Server {
	s := &Server{
		logger:       logger,
		router:       mux.NewRouter(),
		orchestrator: orchestrator,
		store:        store,
		startTime:    time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/regions", s.handleListRegions).Methods(http.MethodGet)
	api.HandleFunc("/regions/{id}", s.handleGetRegion).Methods(http.MethodGet)
	api.HandleFunc("/regions/{id}/checks", s.handleRegionChecks).Methods(http.MethodGet)
	api.HandleFunc("/regions/{id}/failover-check", s.handleCheckAndTrigger).Methods(http.MethodPost)

	api.HandleFunc("/failover", s.handleExecuteFailover).Methods(http.MethodPost)
	api.HandleFunc("/failover/status", s.handleFailoverStatus).Methods(http.MethodGet)
	api.HandleFunc("/failover/history", s.handleFailoverHistory).Methods(http.MethodGet)
	api.HandleFunc("/failover/schedule", s.handleScheduleFailover).Methods(http.MethodPost)
	api.HandleFunc("/failover/{id}/rollback", s.handleRollbackFailover).Methods(http.MethodPost)
	api.HandleFunc("/failover/{id}/cancel", s.handleCancelFailover).Methods(http.MethodPost)
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
