package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
)

// Memory is an in-memory store for development mode and tests. The
// exclusivity invariant is enforced under the store mutex, so concurrent
// CreateEvent calls behave exactly like the postgres partial unique index.
type Memory struct {
	mu          sync.Mutex
	regions     map[string]*region.Region
	checks      map[string][]*region.HealthCheck // newest first
	events      map[uuid.UUID]*region.FailoverEvent
	eventOrder  []uuid.UUID // insertion order, oldest first
	projects    map[string]int
	deployments map[string]int
	nextCheckID int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		regions:     make(map[string]*region.Region),
		checks:      make(map[string][]*region.HealthCheck),
		events:      make(map[uuid.UUID]*region.FailoverEvent),
		projects:    make(map[string]int),
		deployments: make(map[string]int),
	}
}

// SetCounts seeds project/deployment counts for a region.
func (m *Memory) SetCounts(regionID string, projects, deployments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[regionID] = projects
	m.deployments[regionID] = deployments
}

func (m *Memory) GetRegion(_ context.Context, id string) (*region.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return nil, region.Validationf("region not found: %s", id)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListRegions(_ context.Context) ([]*region.Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*region.Region, 0, len(m.regions))
	for _, r := range m.regions {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateRegion(_ context.Context, r *region.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[r.ID]; ok {
		return region.Conflictf("region already exists: %s", r.ID)
	}
	cp := *r
	m.regions[r.ID] = &cp
	return nil
}

func (m *Memory) UpdateHealth(_ context.Context, id string, state region.HealthState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return region.Validationf("region not found: %s", id)
	}
	r.HealthState = state
	r.LastHealthCheck = at
	return nil
}

func (m *Memory) SetOverride(_ context.Context, id string, o region.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return region.Validationf("region not found: %s", id)
	}
	r.Override = o
	return nil
}

func (m *Memory) SetPrimary(_ context.Context, id string, primary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return region.Validationf("region not found: %s", id)
	}
	r.IsPrimary = primary
	return nil
}

func (m *Memory) CountProjects(_ context.Context, regionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[regionID], nil
}

func (m *Memory) CountDeployments(_ context.Context, regionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deployments[regionID], nil
}

func (m *Memory) AppendCheck(_ context.Context, c *region.HealthCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCheckID++
	cp := *c
	cp.ID = m.nextCheckID
	m.checks[c.RegionID] = append([]*region.HealthCheck{&cp}, m.checks[c.RegionID]...)
	return nil
}

func (m *Memory) RecentChecks(_ context.Context, regionID string, limit int) ([]*region.HealthCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recent := m.checks[regionID]
	if limit > 0 && limit < len(recent) {
		recent = recent[:limit]
	}
	out := make([]*region.HealthCheck, len(recent))
	for i, c := range recent {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, e *region.FailoverEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !e.Status.Terminal() {
		for _, existing := range m.events {
			if !existing.Status.Terminal() {
				return region.Conflictf("a failover is already active: %s (%s)", existing.ID, existing.Status)
			}
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := copyEvent(e)
	m.events[e.ID] = cp
	m.eventOrder = append(m.eventOrder, e.ID)
	return nil
}

func (m *Memory) UpdateEvent(_ context.Context, e *region.FailoverEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return region.Validationf("event not found: %s", e.ID)
	}
	m.events[e.ID] = copyEvent(e)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id uuid.UUID) (*region.FailoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, region.Validationf("event not found: %s", id)
	}
	return copyEvent(e), nil
}

func (m *Memory) TransitionEvent(_ context.Context, id uuid.UUID, from, to region.EventStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return region.Validationf("event not found: %s", id)
	}
	if e.Status != from {
		return region.Conflictf("event %s is %s, not %s", id, e.Status, from)
	}
	e.Status = to
	return nil
}

func (m *Memory) ActiveEvent(_ context.Context) (*region.FailoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if !e.Status.Terminal() {
			return copyEvent(e), nil
		}
	}
	return nil, nil
}

func (m *Memory) ListEvents(_ context.Context, limit int) ([]*region.FailoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*region.FailoverEvent
	for i := len(m.eventOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyEvent(m.events[m.eventOrder[i]]))
	}
	return out, nil
}

func (m *Memory) DuePending(_ context.Context, now time.Time) ([]*region.FailoverEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*region.FailoverEvent
	for _, e := range m.events {
		if e.Status == region.EventPending && e.ScheduledAt != nil && !e.ScheduledAt.After(now) {
			out = append(out, copyEvent(e))
		}
	}
	return out, nil
}

func copyEvent(e *region.FailoverEvent) *region.FailoverEvent {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	if e.ScheduledAt != nil {
		t := *e.ScheduledAt
		cp.ScheduledAt = &t
	}
	return &cp
}
