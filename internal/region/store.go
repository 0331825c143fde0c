package region

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract consumed by the prober and the
// orchestrator. Implementations live in internal/store.
type Store interface {
	RegionStore
	CheckStore
	EventStore
}

// RegionStore is durable state for regions. Regions are created by operator
// configuration and never deleted here; the prober writes only the health
// signal and the orchestrator writes only the override and primary flag.
type RegionStore interface {
	GetRegion(ctx context.Context, id string) (*Region, error)
	ListRegions(ctx context.Context) ([]*Region, error)
	CreateRegion(ctx context.Context, r *Region) error

	// UpdateHealth records the probe-derived signal and check time.
	UpdateHealth(ctx context.Context, id string, state HealthState, at time.Time) error
	// SetOverride records the orchestration-owned operational state.
	SetOverride(ctx context.Context, id string, o Override) error
	SetPrimary(ctx context.Context, id string, primary bool) error

	// Counts of resources attached to a region, persisted on the event for
	// audit purposes during a cutover.
	CountProjects(ctx context.Context, regionID string) (int, error)
	CountDeployments(ctx context.Context, regionID string) (int, error)
}

// CheckStore is append-only health-check history, read newest first.
type CheckStore interface {
	AppendCheck(ctx context.Context, c *HealthCheck) error
	RecentChecks(ctx context.Context, regionID string, limit int) ([]*HealthCheck, error)
}

// EventStore is durable failover history. CreateEvent is the enforcement
// point for the exclusivity invariant: it must atomically refuse a second
// non-terminal event with a ConflictError, not rely on a prior read.
type EventStore interface {
	CreateEvent(ctx context.Context, e *FailoverEvent) error
	UpdateEvent(ctx context.Context, e *FailoverEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*FailoverEvent, error)

	// TransitionEvent is a compare-and-swap on event status; it returns a
	// ConflictError when the event is not in the expected state.
	TransitionEvent(ctx context.Context, id uuid.UUID, from, to EventStatus) error

	// ActiveEvent returns the single non-terminal event, or nil.
	ActiveEvent(ctx context.Context) (*FailoverEvent, error)
	ListEvents(ctx context.Context, limit int) ([]*FailoverEvent, error)

	// DuePending lists pending events whose scheduled time has passed.
	DuePending(ctx context.Context, now time.Time) ([]*FailoverEvent, error)
}
