package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/FairForge/meridian/internal/store"
	"go.uber.org/zap"
)

func healthServer(t *testing.T, failing map[string]bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing[r.URL.Path] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProber(t *testing.T) (*Prober, *store.Memory) {
	t.Helper()
	m := store.NewMemory()
	p := New(m, Config{ProbeTimeout: 2 * time.Second, Concurrency: 5, WindowSize: 5}, nil, zap.NewNop())
	t.Cleanup(p.Stop)
	return p, m
}

func addRegion(t *testing.T, m *store.Memory, r *region.Region) {
	t.Helper()
	if err := m.CreateRegion(context.Background(), r); err != nil {
		t.Fatalf("create region: %v", err)
	}
}

func TestCheckRegionHealth_AllHealthy(t *testing.T) {
	p, m := newTestProber(t)
	srv := healthServer(t, nil)
	addRegion(t, m, &region.Region{ID: "us-east", Name: "US East", Endpoint: srv.URL})

	r, _ := m.GetRegion(context.Background(), "us-east")
	check, err := p.CheckRegionHealth(context.Background(), r)
	if err != nil {
		t.Fatalf("CheckRegionHealth: %v", err)
	}

	if check.Status != region.CheckHealthy {
		t.Errorf("status = %v, want healthy", check.Status)
	}
	for name, s := range map[string]region.SubsystemStatus{
		"api": check.API, "database": check.Database, "storage": check.Storage, "cache": check.Cache,
	} {
		if s != region.SubsystemOK {
			t.Errorf("%s = %v, want ok", name, s)
		}
	}

	// One row persisted, health signal recomputed.
	checks, _ := m.RecentChecks(context.Background(), "us-east", 10)
	if len(checks) != 1 {
		t.Fatalf("persisted %d checks, want 1", len(checks))
	}
	updated, _ := m.GetRegion(context.Background(), "us-east")
	if updated.HealthState != region.HealthHealthy {
		t.Errorf("health state = %v, want healthy", updated.HealthState)
	}
	if updated.LastHealthCheck.IsZero() {
		t.Error("last health check not recorded")
	}
}

func TestCheckRegionHealth_OneFailedSubCheck(t *testing.T) {
	p, m := newTestProber(t)
	srv := healthServer(t, map[string]bool{"/health/redis": true})
	addRegion(t, m, &region.Region{ID: "us-east", Endpoint: srv.URL})

	r, _ := m.GetRegion(context.Background(), "us-east")
	check, err := p.CheckRegionHealth(context.Background(), r)
	if err != nil {
		t.Fatalf("CheckRegionHealth: %v", err)
	}

	if check.Status != region.CheckDegraded {
		t.Errorf("status = %v, want degraded", check.Status)
	}
	if check.Cache != region.SubsystemError {
		t.Errorf("cache = %v, want error", check.Cache)
	}
	if check.Error == "" {
		t.Error("expected captured sub-check error")
	}
}

func TestCheckRegionHealth_TwoFailedSubChecks(t *testing.T) {
	p, m := newTestProber(t)
	srv := healthServer(t, map[string]bool{"/health/db": true, "/health/storage": true})
	addRegion(t, m, &region.Region{ID: "us-east", Endpoint: srv.URL})

	r, _ := m.GetRegion(context.Background(), "us-east")
	check, err := p.CheckRegionHealth(context.Background(), r)
	if err != nil {
		t.Fatalf("CheckRegionHealth: %v", err)
	}
	if check.Status != region.CheckUnhealthy {
		t.Errorf("status = %v, want unhealthy", check.Status)
	}
}

func TestCheckRegionHealth_UnreachableEndpoint(t *testing.T) {
	p, m := newTestProber(t)
	// Port 1 refuses connections on any sane test host.
	addRegion(t, m, &region.Region{ID: "us-east", Endpoint: "http://127.0.0.1:1"})

	r, _ := m.GetRegion(context.Background(), "us-east")
	check, err := p.CheckRegionHealth(context.Background(), r)
	if err != nil {
		t.Fatalf("probe failures must not surface as errors: %v", err)
	}
	if check.Status != region.CheckUnhealthy && check.Status != region.CheckTimeout {
		t.Errorf("status = %v, want unhealthy or timeout", check.Status)
	}
	if check.ErrorType == "" {
		t.Error("expected classified error type")
	}
}

func appendChecks(t *testing.T, m *store.Memory, regionID string, statuses ...region.CheckStatus) {
	t.Helper()
	for _, s := range statuses {
		if err := m.AppendCheck(context.Background(), &region.HealthCheck{
			RegionID: regionID, Status: s, Timestamp: time.Now(),
		}); err != nil {
			t.Fatalf("append check: %v", err)
		}
	}
}

func TestShouldTriggerFailover(t *testing.T) {
	p, m := newTestProber(t)
	addRegion(t, m, &region.Region{ID: "primary", IsPrimary: true})
	addRegion(t, m, &region.Region{ID: "secondary"})

	// Not enough history yet.
	should, _, err := p.ShouldTriggerFailover(context.Background(), "primary")
	if err != nil || should {
		t.Fatalf("should=%v err=%v, want false/nil with no history", should, err)
	}

	appendChecks(t, m, "primary", region.CheckUnhealthy, region.CheckTimeout, region.CheckUnhealthy)
	should, reason, err := p.ShouldTriggerFailover(context.Background(), "primary")
	if err != nil {
		t.Fatal(err)
	}
	if !should {
		t.Error("3 consecutive unhealthy checks on primary must trigger")
	}
	if reason == "" {
		t.Error("expected a reason")
	}

	// Non-primary never triggers, even when unhealthy.
	appendChecks(t, m, "secondary", region.CheckUnhealthy, region.CheckUnhealthy, region.CheckUnhealthy)
	should, _, err = p.ShouldTriggerFailover(context.Background(), "secondary")
	if err != nil || should {
		t.Errorf("non-primary region triggered failover")
	}

	// A single healthy check in the window resets the decision.
	appendChecks(t, m, "primary", region.CheckHealthy)
	should, _, _ = p.ShouldTriggerFailover(context.Background(), "primary")
	if should {
		t.Error("healthy check in last 3 must not trigger")
	}
}

func TestShouldTriggerFailover_MaintenanceExcluded(t *testing.T) {
	p, m := newTestProber(t)
	addRegion(t, m, &region.Region{ID: "primary", IsPrimary: true, Override: region.OverrideMaintenance})
	appendChecks(t, m, "primary", region.CheckUnhealthy, region.CheckUnhealthy, region.CheckUnhealthy)

	should, reason, err := p.ShouldTriggerFailover(context.Background(), "primary")
	if err != nil {
		t.Fatal(err)
	}
	if should {
		t.Error("maintenance region must never trigger automatic failover")
	}
	if reason == "" {
		t.Error("expected a reason")
	}
}

func TestBestFailoverTarget(t *testing.T) {
	p, m := newTestProber(t)
	ctx := context.Background()

	addRegion(t, m, &region.Region{ID: "a", HealthState: region.HealthHealthy, Priority: 1, ActiveDeployments: 9})
	addRegion(t, m, &region.Region{ID: "b", HealthState: region.HealthHealthy, Priority: 2, ActiveDeployments: 0})
	addRegion(t, m, &region.Region{ID: "c", HealthState: region.HealthUnhealthy, Priority: 0})
	addRegion(t, m, &region.Region{ID: "d", HealthState: region.HealthHealthy, Priority: 1, ActiveDeployments: 2, Override: region.OverrideMaintenance})

	target, err := p.BestFailoverTarget(ctx, "z")
	if err != nil {
		t.Fatal(err)
	}
	if target == nil || target.ID != "a" {
		t.Errorf("target = %v, want a (lowest priority wins)", target)
	}

	// The excluded region never comes back, unhealthy and maintenance
	// regions never qualify.
	target, err = p.BestFailoverTarget(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if target == nil || target.ID != "b" {
		t.Errorf("target = %v, want b", target)
	}

	// Ties on priority break by load.
	addRegion(t, m, &region.Region{ID: "e", HealthState: region.HealthHealthy, Priority: 1, ActiveDeployments: 1})
	target, _ = p.BestFailoverTarget(ctx, "z")
	if target == nil || target.ID != "e" {
		t.Errorf("target = %v, want e (same priority, lower load)", target)
	}
}

func TestBestFailoverTarget_NoCandidate(t *testing.T) {
	p, m := newTestProber(t)
	addRegion(t, m, &region.Region{ID: "a", HealthState: region.HealthUnhealthy})

	target, err := p.BestFailoverTarget(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if target != nil {
		t.Errorf("target = %v, want nil", target)
	}
}

func TestRunAllHealthChecks_SkipsMaintenance(t *testing.T) {
	p, m := newTestProber(t)
	srv := healthServer(t, nil)

	addRegion(t, m, &region.Region{ID: "active", Endpoint: srv.URL})
	addRegion(t, m, &region.Region{ID: "maint", Endpoint: srv.URL, Override: region.OverrideMaintenance})

	if err := p.RunAllHealthChecks(context.Background()); err != nil {
		t.Fatalf("RunAllHealthChecks: %v", err)
	}

	active, _ := m.RecentChecks(context.Background(), "active", 10)
	if len(active) != 1 {
		t.Errorf("active region got %d checks, want 1", len(active))
	}
	maint, _ := m.RecentChecks(context.Background(), "maint", 10)
	if len(maint) != 0 {
		t.Errorf("maintenance region got %d checks, want 0", len(maint))
	}
}

func TestRunAllHealthChecks_IsolatesFailures(t *testing.T) {
	p, m := newTestProber(t)
	srv := healthServer(t, nil)

	addRegion(t, m, &region.Region{ID: "broken", Endpoint: "http://127.0.0.1:1"})
	addRegion(t, m, &region.Region{ID: "fine", Endpoint: srv.URL})

	if err := p.RunAllHealthChecks(context.Background()); err != nil {
		t.Fatalf("batch must not fail on per-region errors: %v", err)
	}

	fine, _ := m.RecentChecks(context.Background(), "fine", 10)
	if len(fine) != 1 {
		t.Errorf("healthy region got %d checks, want 1", len(fine))
	}
}
