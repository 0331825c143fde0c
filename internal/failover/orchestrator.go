// Package failover implements the cutover state machine: deciding when a
// primary region must be evacuated, executing the traffic shift through the
// DNS/load-balancer adapter, and keeping auditable history.
//
// Exclusivity is the core correctness property: at most one non-terminal
// failover event exists platform-wide. The store's CreateEvent enforces it
// atomically; this package never relies on a read-then-write check.
package failover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/meridian/internal/dns"
	"github.com/FairForge/meridian/internal/metrics"
	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HealthAdvisor answers the two health questions the orchestrator asks:
// should a region be evacuated, and where should traffic go. The prober
// implements it.
type HealthAdvisor interface {
	ShouldTriggerFailover(ctx context.Context, regionID string) (bool, string, error)
	BestFailoverTarget(ctx context.Context, excludeRegionID string) (*region.Region, error)
}

// AuditSink receives an activity record when a failover finishes. Writes are
// fire-and-forget: a sink failure is logged and never fails the failover.
type AuditSink interface {
	RecordFailover(ctx context.Context, e *region.FailoverEvent) error
}

// Config tunes the propagation poll loop.
type Config struct {
	PropagationInterval time.Duration `yaml:"propagation_interval"`
	PropagationBudget   time.Duration `yaml:"propagation_budget"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PropagationInterval: 2 * time.Second,
		PropagationBudget:   30 * time.Second,
	}
}

// Result is the outcome of an executed failover.
type Result struct {
	Event *region.FailoverEvent `json:"event"`
	// PropagationWarning is set when the cutover completed without the
	// DNS/LB change being confirmed within the poll budget.
	PropagationWarning bool `json:"propagation_warning,omitempty"`
}

// ScheduleResult is the outcome of scheduling a maintenance failover.
type ScheduleResult struct {
	Scheduled bool       `json:"scheduled"`
	EventID   *uuid.UUID `json:"event_id,omitempty"`
}

// StatusReport is the polling view for UIs.
type StatusReport struct {
	InProgress   bool                  `json:"in_progress"`
	CurrentEvent *region.FailoverEvent `json:"current_event,omitempty"`
}

// Orchestrator executes the failover protocol. Steps within one event run
// strictly sequentially; across events the store's exclusivity check is the
// only global lock.
type Orchestrator struct {
	store     region.Store
	traffic   dns.TrafficManager
	advisor   HealthAdvisor
	audit     AuditSink
	collector *metrics.Collector
	logger    *zap.Logger
	cfg       Config
}

// New creates an orchestrator. audit and collector may be nil.
func New(store region.Store, traffic dns.TrafficManager, advisor HealthAdvisor,
	audit AuditSink, collector *metrics.Collector, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.PropagationInterval <= 0 {
		cfg.PropagationInterval = 2 * time.Second
	}
	if cfg.PropagationBudget <= 0 {
		cfg.PropagationBudget = 30 * time.Second
	}
	return &Orchestrator{
		store:     store,
		traffic:   traffic,
		advisor:   advisor,
		audit:     audit,
		collector: collector,
		logger:    logger,
		cfg:       cfg,
	}
}

// ExecuteFailover runs the full cutover protocol from one region to another.
// It fails with a ConflictError when another failover is pending or in
// progress, and with a ValidationError on bad input.
func (o *Orchestrator) ExecuteFailover(ctx context.Context, fromRegionID, toRegionID string,
	reason region.Reason, triggeredBy string) (*Result, error) {

	// Step 1: validate input and load both regions.
	if !reason.Valid() {
		return nil, region.Validationf("unknown failover reason: %q", reason)
	}
	if fromRegionID == toRegionID {
		return nil, region.Validationf("source and target region are the same: %s", fromRegionID)
	}
	from, err := o.store.GetRegion(ctx, fromRegionID)
	if err != nil {
		return nil, err
	}
	to, err := o.store.GetRegion(ctx, toRegionID)
	if err != nil {
		return nil, err
	}

	// Step 2: the create is the exclusivity enforcement point. The store
	// refuses a second non-terminal event atomically.
	event := &region.FailoverEvent{
		ID:           uuid.New(),
		FromRegionID: from.ID,
		ToRegionID:   to.ID,
		Reason:       reason,
		TriggeredBy:  triggeredBy,
		Status:       region.EventInProgress,
		StartedAt:    time.Now().UTC(),
	}
	if err := o.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	o.logger.Info("failover started",
		zap.String("event", event.ID.String()),
		zap.String("from", from.ID),
		zap.String("to", to.ID),
		zap.String("reason", string(reason)),
		zap.String("triggered_by", triggeredBy))

	return o.runProtocol(ctx, event, from, to, event.StartedAt)
}

// runProtocol executes steps 3-8 against an already-created in_progress
// event. Shared by direct and scheduled execution.
func (o *Orchestrator) runProtocol(ctx context.Context, event *region.FailoverEvent,
	from, to *region.Region, start time.Time) (*Result, error) {

	// Step 3: take the source out of rotation.
	if err := o.store.SetOverride(ctx, from.ID, region.OverrideUnhealthy); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}
	if err := o.store.SetPrimary(ctx, from.ID, false); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}

	// Step 4: record affected resource counts for the audit trail.
	projects, err := o.store.CountProjects(ctx, from.ID)
	if err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}
	deployments, err := o.store.CountDeployments(ctx, from.ID)
	if err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}
	event.ProjectsAffected = projects
	event.DeploymentsAffected = deployments
	if err := o.store.UpdateEvent(ctx, event); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}

	// Step 5: shift traffic. Adapter failures abort the protocol; no
	// compensation of partially applied vendor changes is attempted.
	if err := o.traffic.Redirect(ctx, from, to); err != nil {
		extErr := &region.ExternalServiceError{Service: "dns/load-balancer", Err: err}
		return nil, o.fail(ctx, event, from, start, extErr)
	}

	// Step 6: promote the target. Clearing the override lets the target's
	// probe-derived health show through again.
	if err := o.store.SetPrimary(ctx, to.ID, true); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}
	if err := o.store.SetOverride(ctx, to.ID, region.OverrideNone); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}

	// Step 7: wait for propagation. Exhausting the budget is a warning,
	// never a failure.
	warning := !o.waitForPropagation(ctx, to)

	// Step 8: complete the event and write the audit record.
	now := time.Now().UTC()
	event.Status = region.EventCompleted
	event.CompletedAt = &now
	event.Duration = now.Sub(start)
	if warning {
		if event.Metadata == nil {
			event.Metadata = make(map[string]string)
		}
		event.Metadata["propagation_warning"] = "true"
	}
	if err := o.store.UpdateEvent(ctx, event); err != nil {
		return nil, o.fail(ctx, event, from, start, err)
	}

	if o.collector != nil {
		o.collector.FailoverTotal.WithLabelValues(string(event.Reason), "completed").Inc()
		o.collector.FailoverDuration.Observe(event.Duration.Seconds())
	}
	o.recordAudit(ctx, event)

	o.logger.Info("failover completed",
		zap.String("event", event.ID.String()),
		zap.Duration("duration", event.Duration),
		zap.Int("projects_affected", event.ProjectsAffected),
		zap.Int("deployments_affected", event.DeploymentsAffected),
		zap.Bool("propagation_warning", warning))

	return &Result{Event: event, PropagationWarning: warning}, nil
}

// fail marks the event failed and sets the source region degraded rather
// than unhealthy, so it can recover on the next healthy probe cycle instead
// of staying stuck. The original step error is returned to the caller.
func (o *Orchestrator) fail(ctx context.Context, event *region.FailoverEvent,
	from *region.Region, start time.Time, stepErr error) error {

	now := time.Now().UTC()
	event.Status = region.EventFailed
	event.Error = stepErr.Error()
	event.CompletedAt = &now
	event.Duration = now.Sub(start)
	if err := o.store.UpdateEvent(ctx, event); err != nil {
		o.logger.Error("failed to record failover failure",
			zap.String("event", event.ID.String()), zap.Error(err))
	}

	if err := o.store.SetOverride(ctx, from.ID, region.OverrideDegraded); err != nil {
		o.logger.Error("failed to degrade source region",
			zap.String("region", from.ID), zap.Error(err))
	}

	if o.collector != nil {
		o.collector.FailoverTotal.WithLabelValues(string(event.Reason), "failed").Inc()
	}
	o.recordAudit(ctx, event)

	o.logger.Error("failover failed",
		zap.String("event", event.ID.String()),
		zap.String("from", from.ID),
		zap.Error(stepErr))

	return stepErr
}

// waitForPropagation polls the adapter until the change is confirmed or the
// budget runs out. Poll errors are warnings, not failures.
func (o *Orchestrator) waitForPropagation(ctx context.Context, to *region.Region) bool {
	deadline := time.Now().Add(o.cfg.PropagationBudget)
	ticker := time.NewTicker(o.cfg.PropagationInterval)
	defer ticker.Stop()

	for {
		ok, err := o.traffic.Propagated(ctx, to)
		if err != nil {
			o.logger.Warn("propagation check failed",
				zap.String("region", to.ID), zap.Error(err))
		} else if ok {
			return true
		}

		if time.Now().After(deadline) {
			if o.collector != nil {
				o.collector.PropagationTimeouts.Inc()
			}
			o.logger.Warn("propagation not confirmed within budget",
				zap.String("region", to.ID),
				zap.Error(&region.TimeoutError{Op: "propagation", Budget: o.cfg.PropagationBudget}))
			return false
		}

		select {
		case <-ctx.Done():
			o.logger.Warn("propagation wait cancelled", zap.Error(ctx.Err()))
			return false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, event *region.FailoverEvent) {
	if o.audit == nil {
		return
	}
	if err := o.audit.RecordFailover(ctx, event); err != nil {
		o.logger.Warn("audit write failed",
			zap.String("event", event.ID.String()), zap.Error(err))
	}
}

// RollbackFailover reverses a completed failover by running the same
// protocol in the opposite direction, under the same exclusivity guarantee.
func (o *Orchestrator) RollbackFailover(ctx context.Context, eventID uuid.UUID) (*Result, error) {
	event, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status != region.EventCompleted {
		return nil, region.Conflictf("cannot roll back event %s with status %s", eventID, event.Status)
	}
	return o.ExecuteFailover(ctx, event.ToRegionID, event.FromRegionID, region.ReasonRollback, "system")
}

// ScheduleMaintenanceFailover puts a region into maintenance and pre-creates
// a pending event carrying the schedule. When no healthy target exists it
// returns scheduled=false with no side effects.
func (o *Orchestrator) ScheduleMaintenanceFailover(ctx context.Context, regionID string,
	scheduledTime time.Time, estimatedDuration time.Duration) (*ScheduleResult, error) {

	r, err := o.store.GetRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}

	target, err := o.advisor.BestFailoverTarget(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		o.logger.Warn("no healthy failover target for maintenance",
			zap.String("region", regionID))
		return &ScheduleResult{Scheduled: false}, nil
	}

	event := &region.FailoverEvent{
		ID:           uuid.New(),
		FromRegionID: r.ID,
		ToRegionID:   target.ID,
		Reason:       region.ReasonScheduledMaintenance,
		TriggeredBy:  "scheduler",
		Status:       region.EventPending,
		StartedAt:    time.Now().UTC(),
		ScheduledAt:  &scheduledTime,
		Metadata: map[string]string{
			"scheduled_time":     scheduledTime.UTC().Format(time.RFC3339),
			"estimated_duration": estimatedDuration.String(),
		},
	}
	if err := o.store.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	// Maintenance excludes the region from probing and from automatic
	// health-triggered failover until the window ends.
	if err := o.store.SetOverride(ctx, regionID, region.OverrideMaintenance); err != nil {
		return nil, err
	}

	o.logger.Info("maintenance failover scheduled",
		zap.String("event", event.ID.String()),
		zap.String("region", regionID),
		zap.String("target", target.ID),
		zap.Time("scheduled_time", scheduledTime))

	return &ScheduleResult{Scheduled: true, EventID: &event.ID}, nil
}

// ExecuteScheduled promotes a pending event to in_progress and runs the
// cutover protocol against it. The compare-and-swap transition keeps a
// concurrent cancel or duplicate promotion from racing the execution.
func (o *Orchestrator) ExecuteScheduled(ctx context.Context, eventID uuid.UUID) (*Result, error) {
	event, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := o.store.TransitionEvent(ctx, eventID, region.EventPending, region.EventInProgress); err != nil {
		return nil, err
	}
	event.Status = region.EventInProgress

	from, err := o.store.GetRegion(ctx, event.FromRegionID)
	if err != nil {
		return nil, o.fail(ctx, event, &region.Region{ID: event.FromRegionID}, time.Now().UTC(), err)
	}
	to, err := o.store.GetRegion(ctx, event.ToRegionID)
	if err != nil {
		return nil, o.fail(ctx, event, from, time.Now().UTC(), err)
	}

	o.logger.Info("scheduled failover promoted",
		zap.String("event", event.ID.String()),
		zap.String("from", from.ID),
		zap.String("to", to.ID))

	return o.runProtocol(ctx, event, from, to, time.Now().UTC())
}

// CancelFailover cancels a pending event. It returns false without error
// when the event is in any other state.
func (o *Orchestrator) CancelFailover(ctx context.Context, eventID uuid.UUID) (bool, error) {
	err := o.store.TransitionEvent(ctx, eventID, region.EventPending, region.EventCancelled)
	var conflict *region.ConflictError
	if errors.As(err, &conflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	event, err := o.store.GetEvent(ctx, eventID)
	if err != nil {
		return true, err
	}
	now := time.Now().UTC()
	event.CompletedAt = &now
	if err := o.store.UpdateEvent(ctx, event); err != nil {
		return true, err
	}

	// Cancelling a maintenance window releases the source region.
	if event.Reason == region.ReasonScheduledMaintenance {
		if err := o.store.SetOverride(ctx, event.FromRegionID, region.OverrideNone); err != nil {
			o.logger.Warn("failed to clear maintenance override",
				zap.String("region", event.FromRegionID), zap.Error(err))
		}
	}

	o.logger.Info("failover cancelled", zap.String("event", eventID.String()))
	return true, nil
}

// CheckAndTriggerFailover is the automatic path: it consults the health
// advisor and executes a failover when warranted. It returns nil when no
// failover is needed or no target is available.
func (o *Orchestrator) CheckAndTriggerFailover(ctx context.Context, regionID string) (*Result, error) {
	should, why, err := o.advisor.ShouldTriggerFailover(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if !should {
		return nil, nil
	}

	target, err := o.advisor.BestFailoverTarget(ctx, regionID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		o.logger.Error("failover warranted but no healthy target",
			zap.String("region", regionID), zap.String("why", why))
		return nil, nil
	}

	return o.ExecuteFailover(ctx, regionID, target.ID, region.ReasonHealthCheckFailed, "health-monitor")
}

// Status returns the polling view: whether a failover is currently running
// and the single non-terminal event, if any.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	event, err := o.store.ActiveEvent(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		InProgress:   event != nil && event.Status == region.EventInProgress,
		CurrentEvent: event,
	}, nil
}

// History lists recent failover events, newest first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*region.FailoverEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.store.ListEvents(ctx, limit)
}

// PromoteDue executes every pending event whose scheduled time has arrived.
// Called by the scheduler; errors on one event do not block the others.
func (o *Orchestrator) PromoteDue(ctx context.Context, now time.Time) error {
	due, err := o.store.DuePending(ctx, now)
	if err != nil {
		return fmt.Errorf("list due events: %w", err)
	}
	for _, e := range due {
		if _, err := o.ExecuteScheduled(ctx, e.ID); err != nil {
			o.logger.Error("scheduled failover failed",
				zap.String("event", e.ID.String()), zap.Error(err))
		}
	}
	return nil
}
