package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/dns"
	"github.com/FairForge/meridian/internal/failover"
	"github.com/FairForge/meridian/internal/prober"
	"github.com/FairForge/meridian/internal/region"
	"github.com/FairForge/meridian/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testHostname = "app.example.com"

type fixture struct {
	sched *Scheduler
	store *store.Memory
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := store.NewMemory()
	p := prober.New(m, prober.Config{ProbeTimeout: 2 * time.Second, Concurrency: 5, WindowSize: 5}, nil, zap.NewNop())
	t.Cleanup(p.Stop)

	vendor := dns.NewStaticClient()
	vendor.AddRecord(dns.Record{ID: "rec-1", Name: testHostname, Value: "old.example.com", TTL: 3600})
	traffic := dns.NewManager(vendor, dns.Config{Hostname: testHostname, CutoverTTL: 60}, zap.NewNop())

	orch := failover.New(m, traffic, p, nil, nil, failover.Config{
		PropagationInterval: 5 * time.Millisecond,
		PropagationBudget:   50 * time.Millisecond,
	}, zap.NewNop())

	sched, err := New(p, orch, m, Config{ProbeSpec: "@every 1h", PromoteSpec: "@every 1h"}, zap.NewNop())
	require.NoError(t, err)

	return &fixture{sched: sched, store: m, srv: srv}
}

func (f *fixture) addRegion(t *testing.T, r *region.Region) {
	t.Helper()
	require.NoError(t, f.store.CreateRegion(context.Background(), r))
}

func (f *fixture) seedUnhealthy(t *testing.T, regionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.AppendCheck(context.Background(), &region.HealthCheck{
			RegionID: regionID, Status: region.CheckUnhealthy, Timestamp: time.Now(),
		}))
	}
}

func TestProbeJob_FailsOverUnhealthyPrimary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Port 1 refuses connections, so the batch adds a third unhealthy check.
	f.addRegion(t, &region.Region{ID: "us-east", Name: "US East", Endpoint: "http://127.0.0.1:1", IsPrimary: true, Priority: 1})
	f.addRegion(t, &region.Region{ID: "us-west", Name: "US West", Endpoint: f.srv.URL, HealthState: region.HealthHealthy, Priority: 2})
	f.seedUnhealthy(t, "us-east", 2)

	f.sched.probeJob()

	events, err := f.store.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, region.EventCompleted, events[0].Status)
	assert.Equal(t, "us-east", events[0].FromRegionID)
	assert.Equal(t, "us-west", events[0].ToRegionID)
	assert.Equal(t, region.ReasonHealthCheckFailed, events[0].Reason)

	source, err := f.store.GetRegion(ctx, "us-east")
	require.NoError(t, err)
	assert.False(t, source.IsPrimary)
	target, err := f.store.GetRegion(ctx, "us-west")
	require.NoError(t, err)
	assert.True(t, target.IsPrimary)
}

func TestProbeJob_HealthyPrimaryStaysPut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addRegion(t, &region.Region{ID: "us-east", Endpoint: f.srv.URL, IsPrimary: true, Priority: 1})
	f.addRegion(t, &region.Region{ID: "us-west", Endpoint: f.srv.URL, HealthState: region.HealthHealthy, Priority: 2})

	// An unhealthy non-primary must not be evaluated for failover.
	f.addRegion(t, &region.Region{ID: "eu-west", Endpoint: "http://127.0.0.1:1", Priority: 3})
	f.seedUnhealthy(t, "eu-west", 3)

	f.sched.probeJob()

	events, err := f.store.ListEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	primary, err := f.store.GetRegion(ctx, "us-east")
	require.NoError(t, err)
	assert.True(t, primary.IsPrimary)
}

func TestPromoteJob_ExecutesDueScheduledFailover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addRegion(t, &region.Region{ID: "us-east", Endpoint: f.srv.URL, IsPrimary: true, Priority: 1})
	f.addRegion(t, &region.Region{ID: "us-west", Endpoint: f.srv.URL, HealthState: region.HealthHealthy, Priority: 2})

	result, err := f.sched.orchestrator.ScheduleMaintenanceFailover(ctx, "us-east",
		time.Now().Add(-time.Minute), time.Hour)
	require.NoError(t, err)
	require.True(t, result.Scheduled)

	f.sched.promoteJob()

	event, err := f.store.GetEvent(ctx, *result.EventID)
	require.NoError(t, err)
	assert.Equal(t, region.EventCompleted, event.Status)

	target, err := f.store.GetRegion(ctx, "us-west")
	require.NoError(t, err)
	assert.True(t, target.IsPrimary)
	source, err := f.store.GetRegion(ctx, "us-east")
	require.NoError(t, err)
	assert.False(t, source.IsPrimary)
}
