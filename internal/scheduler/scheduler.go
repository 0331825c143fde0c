// Package scheduler drives the recurring work: the health-check batch, the
// automatic failover evaluation that follows it, and the promotion of due
// scheduled maintenance failovers.
package scheduler

import (
	"context"
	"time"

	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/prober"
	"github.com/FairForge/meridian/internal/region"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds the cron specs for the recurring jobs.
type Config struct {
	ProbeSpec   string
	PromoteSpec string
}

// Scheduler owns the cron instance.
type Scheduler struct {
	cron         *cron.Cron
	prober       *prober.Prober
	orchestrator *failover.Orchestrator
	store        region.RegionStore
	logger       *zap.Logger
}

// New wires the jobs onto a fresh cron. Start begins execution.
func New(p *prober.Prober, o *failover.Orchestrator, store region.RegionStore,
	cfg Config, logger *zap.Logger) (*Scheduler, error) {

	s := &Scheduler{
		prober:       p,
		orchestrator: o,
		store:        store,
		logger:       logger,
	}
	cronLogger := &zapCronLogger{logger: logger}
	s.cron = cron.New(cron.WithChain(cron.Recover(cronLogger)))

	if _, err := s.cron.AddFunc(cfg.ProbeSpec, s.probeJob); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.PromoteSpec, s.promoteJob); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// probeJob runs the health-check batch, then evaluates the automatic
// failover path for every primary region. Each run is bounded.
func (s *Scheduler) probeJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.prober.RunAllHealthChecks(ctx); err != nil {
		s.logger.Error("health-check batch failed", zap.Error(err))
		return
	}

	regions, err := s.store.ListRegions(ctx)
	if err != nil {
		s.logger.Error("list regions failed", zap.Error(err))
		return
	}
	for _, r := range regions {
		if !r.IsPrimary {
			continue
		}
		result, err := s.orchestrator.CheckAndTriggerFailover(ctx, r.ID)
		if err != nil {
			s.logger.Error("automatic failover failed",
				zap.String("region", r.ID), zap.Error(err))
			continue
		}
		if result != nil {
			s.logger.Info("automatic failover executed",
				zap.String("region", r.ID),
				zap.String("event", result.Event.ID.String()))
		}
	}
}

// promoteJob executes pending scheduled failovers whose time has arrived.
func (s *Scheduler) promoteJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.orchestrator.PromoteDue(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("promote due failovers failed", zap.Error(err))
	}
}

// zapCronLogger adapts zap to cron's logger interface.
type zapCronLogger struct {
	logger *zap.Logger
}

func (l *zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Infow(msg, keysAndValues...)
}

func (l *zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
