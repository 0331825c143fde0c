package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(status region.EventStatus) *region.FailoverEvent {
	return &region.FailoverEvent{
		ID:           uuid.New(),
		FromRegionID: "us-east",
		ToRegionID:   "us-west",
		Reason:       region.ReasonManual,
		TriggeredBy:  "test",
		Status:       status,
		StartedAt:    time.Now().UTC(),
	}
}

func TestMemory_CreateEventExclusivity(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateEvent(ctx, newEvent(region.EventInProgress)))

	err := m.CreateEvent(ctx, newEvent(region.EventInProgress))
	var conflict *region.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Pending counts as active too.
	err = m.CreateEvent(ctx, newEvent(region.EventPending))
	require.ErrorAs(t, err, &conflict)

	// Terminal events never block a new one.
	require.NoError(t, m.CreateEvent(ctx, newEvent(region.EventCompleted)))
}

func TestMemory_CreateEventConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	created, conflicts := 0, 0

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := m.CreateEvent(ctx, newEvent(region.EventInProgress))
			mu.Lock()
			defer mu.Unlock()
			var conflict *region.ConflictError
			switch {
			case err == nil:
				created++
			case errors.As(err, &conflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one caller may create the active event")
	assert.Equal(t, callers-1, conflicts)

	active, err := m.ActiveEvent(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
}

func TestMemory_TransitionEvent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := newEvent(region.EventPending)
	require.NoError(t, m.CreateEvent(ctx, e))

	require.NoError(t, m.TransitionEvent(ctx, e.ID, region.EventPending, region.EventInProgress))

	// Second promotion loses the compare-and-swap.
	err := m.TransitionEvent(ctx, e.ID, region.EventPending, region.EventInProgress)
	var conflict *region.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Unknown event is a validation error.
	err = m.TransitionEvent(ctx, uuid.New(), region.EventPending, region.EventCancelled)
	var validation *region.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestMemory_RecentChecksNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, status := range []region.CheckStatus{region.CheckHealthy, region.CheckDegraded, region.CheckUnhealthy} {
		require.NoError(t, m.AppendCheck(ctx, &region.HealthCheck{
			RegionID:  "us-east",
			Status:    status,
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	checks, err := m.RecentChecks(ctx, "us-east", 2)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.Equal(t, region.CheckUnhealthy, checks[0].Status)
	assert.Equal(t, region.CheckDegraded, checks[1].Status)
}

func TestMemory_DuePending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	e := newEvent(region.EventPending)
	e.ScheduledAt = &past
	require.NoError(t, m.CreateEvent(ctx, e))

	due, err := m.DuePending(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, e.ID, due[0].ID)

	// Future events are not due yet.
	require.NoError(t, m.TransitionEvent(ctx, e.ID, region.EventPending, region.EventCancelled))
	future := now.Add(time.Hour)
	e2 := newEvent(region.EventPending)
	e2.ScheduledAt = &future
	require.NoError(t, m.CreateEvent(ctx, e2))

	due, err = m.DuePending(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemory_RegionWriters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.CreateRegion(ctx, &region.Region{
		ID: "us-east", Name: "US East", Endpoint: "https://us-east.example.com",
		HealthState: region.HealthHealthy, IsPrimary: true, Priority: 1,
	}))

	require.NoError(t, m.UpdateHealth(ctx, "us-east", region.HealthDegraded, time.Now()))
	require.NoError(t, m.SetOverride(ctx, "us-east", region.OverrideMaintenance))
	require.NoError(t, m.SetPrimary(ctx, "us-east", false))

	r, err := m.GetRegion(ctx, "us-east")
	require.NoError(t, err)
	assert.Equal(t, region.HealthDegraded, r.HealthState)
	assert.Equal(t, region.StatusMaintenance, r.Status())
	assert.False(t, r.IsPrimary)

	// Returned regions are copies; mutating them must not leak back.
	r.HealthState = region.HealthUnhealthy
	again, err := m.GetRegion(ctx, "us-east")
	require.NoError(t, err)
	assert.Equal(t, region.HealthDegraded, again.HealthState)
}

func TestMemory_ListEventsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e := newEvent(region.EventCompleted)
		require.NoError(t, m.CreateEvent(ctx, e))
		ids = append(ids, e.ID)
	}

	events, err := m.ListEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ids[2], events[0].ID)
	assert.Equal(t, ids[1], events[1].ID)
}
