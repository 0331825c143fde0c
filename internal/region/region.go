// Package region holds the domain model shared by the prober, the failover
// orchestrator and the stores: regions, health-check records and failover
// events, plus the pure derivation rules over them.
package region

import (
	"time"

	"github.com/google/uuid"
)

// HealthState is the prober-owned health signal for a region, derived from
// recent health checks. The orchestrator never writes it.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Override is the orchestration-owned operational state. It is empty under
// steady state; during a cutover or maintenance window it takes precedence
// over the probe-derived signal. The prober never writes it.
type Override string

const (
	OverrideNone        Override = ""
	OverrideDegraded    Override = "degraded"
	OverrideUnhealthy   Override = "unhealthy"
	OverrideMaintenance Override = "maintenance"
)

// Status is the externally visible region status, the combination of the
// health signal and the operational override.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
	StatusMaintenance Status = "maintenance"
)

// Region is a deployable location capable of serving traffic.
type Region struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Endpoint          string      `json:"endpoint"`
	HealthState       HealthState `json:"health_state"`
	Override          Override    `json:"override,omitempty"`
	IsPrimary         bool        `json:"is_primary"`
	Priority          int         `json:"priority"`
	ActiveDeployments int         `json:"active_deployments"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
}

// Status combines the probe-derived signal with the orchestration override,
// override taking precedence.
func (r *Region) Status() Status {
	switch r.Override {
	case OverrideMaintenance:
		return StatusMaintenance
	case OverrideUnhealthy:
		return StatusUnhealthy
	case OverrideDegraded:
		return StatusDegraded
	}
	switch r.HealthState {
	case HealthDegraded:
		return StatusDegraded
	case HealthUnhealthy:
		return StatusUnhealthy
	default:
		return StatusHealthy
	}
}

// CheckStatus is the outcome of one probe cycle for one region.
type CheckStatus string

const (
	CheckHealthy   CheckStatus = "healthy"
	CheckDegraded  CheckStatus = "degraded"
	CheckUnhealthy CheckStatus = "unhealthy"
	CheckTimeout   CheckStatus = "timeout"
)

// Unhealthy reports whether the check counts against the region when deciding
// whether to trigger a failover.
func (s CheckStatus) Unhealthy() bool {
	return s == CheckUnhealthy || s == CheckTimeout
}

// SubsystemStatus is the outcome of a single sub-check within a probe cycle.
type SubsystemStatus string

const (
	SubsystemOK      SubsystemStatus = "ok"
	SubsystemError   SubsystemStatus = "error"
	SubsystemTimeout SubsystemStatus = "timeout"
)

// HealthCheck is an immutable record of one probe cycle for one region.
// Rows are append-only; retention is handled by an external job.
type HealthCheck struct {
	ID        int64           `json:"id"`
	RegionID  string          `json:"region_id"`
	Status    CheckStatus     `json:"status"`
	LatencyMS int64           `json:"latency_ms"`
	API       SubsystemStatus `json:"api"`
	Database  SubsystemStatus `json:"database"`
	Storage   SubsystemStatus `json:"storage"`
	Cache     SubsystemStatus `json:"cache"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Reason is the closed set of causes for a failover. Unknown values are
// rejected at the orchestrator boundary.
type Reason string

const (
	ReasonHealthCheckFailed    Reason = "health_check_failed"
	ReasonScheduledMaintenance Reason = "scheduled_maintenance"
	ReasonRollback             Reason = "rollback"
	ReasonManual               Reason = "manual"
)

// Valid reports whether the reason is one of the four known causes.
func (r Reason) Valid() bool {
	switch r {
	case ReasonHealthCheckFailed, ReasonScheduledMaintenance, ReasonRollback, ReasonManual:
		return true
	}
	return false
}

// EventStatus is the failover event state machine position.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
	EventCancelled  EventStatus = "cancelled"
)

// Terminal reports whether the status is final. At most one non-terminal
// event may exist platform-wide; the stores enforce that on create.
func (s EventStatus) Terminal() bool {
	return s == EventCompleted || s == EventFailed || s == EventCancelled
}

// FailoverEvent records a single cutover attempt. Terminal events are
// immutable history used for rollback and auditing.
type FailoverEvent struct {
	ID                  uuid.UUID         `json:"id"`
	FromRegionID        string            `json:"from_region_id"`
	ToRegionID          string            `json:"to_region_id"`
	Reason              Reason            `json:"reason"`
	TriggeredBy         string            `json:"triggered_by"`
	Status              EventStatus       `json:"status"`
	StartedAt           time.Time         `json:"started_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	Duration            time.Duration     `json:"duration"`
	ProjectsAffected    int               `json:"projects_affected"`
	DeploymentsAffected int               `json:"deployments_affected"`
	Error               string            `json:"error,omitempty"`
	ScheduledAt         *time.Time        `json:"scheduled_at,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// DeriveHealthState computes the region health signal from the most recent
// checks, newest first. Thresholds over the last five checks: three or more
// non-healthy rows mean unhealthy, one or more mean degraded. A single
// transient failure therefore degrades rather than flaps the region.
func DeriveHealthState(recent []*HealthCheck) HealthState {
	if len(recent) > 5 {
		recent = recent[:5]
	}
	bad := 0
	for _, c := range recent {
		if c.Status != CheckHealthy {
			bad++
		}
	}
	switch {
	case bad >= 3:
		return HealthUnhealthy
	case bad >= 1:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// AggregateCheck computes the overall check status from the number of failed
// sub-checks: zero failures is healthy, one is degraded, two or more is
// unhealthy.
func AggregateCheck(failed int) CheckStatus {
	switch {
	case failed == 0:
		return CheckHealthy
	case failed == 1:
		return CheckDegraded
	default:
		return CheckUnhealthy
	}
}
