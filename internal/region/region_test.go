package region

import (
	"testing"
	"time"
)

func checksWithStatuses(statuses ...CheckStatus) []*HealthCheck {
	out := make([]*HealthCheck, len(statuses))
	for i, s := range statuses {
		out[i] = &HealthCheck{Status: s, Timestamp: time.Now()}
	}
	return out
}

func TestDeriveHealthState(t *testing.T) {
	tests := []struct {
		name     string
		statuses []CheckStatus
		want     HealthState
	}{
		{"no checks", nil, HealthHealthy},
		{"all healthy", []CheckStatus{CheckHealthy, CheckHealthy, CheckHealthy, CheckHealthy, CheckHealthy}, HealthHealthy},
		{"one transient failure", []CheckStatus{CheckUnhealthy, CheckHealthy, CheckHealthy, CheckHealthy, CheckHealthy}, HealthDegraded},
		{"two failures", []CheckStatus{CheckUnhealthy, CheckHealthy, CheckTimeout, CheckHealthy, CheckHealthy}, HealthDegraded},
		{"three failures", []CheckStatus{CheckUnhealthy, CheckUnhealthy, CheckUnhealthy, CheckHealthy, CheckHealthy}, HealthUnhealthy},
		{"degraded counts as non-healthy", []CheckStatus{CheckDegraded, CheckDegraded, CheckDegraded, CheckHealthy, CheckHealthy}, HealthUnhealthy},
		{"only newest five considered", []CheckStatus{CheckHealthy, CheckHealthy, CheckHealthy, CheckHealthy, CheckHealthy, CheckUnhealthy, CheckUnhealthy, CheckUnhealthy}, HealthHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveHealthState(checksWithStatuses(tt.statuses...))
			if got != tt.want {
				t.Errorf("DeriveHealthState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateCheck(t *testing.T) {
	if got := AggregateCheck(0); got != CheckHealthy {
		t.Errorf("0 failures = %v, want healthy", got)
	}
	if got := AggregateCheck(1); got != CheckDegraded {
		t.Errorf("1 failure = %v, want degraded", got)
	}
	for failed := 2; failed <= 4; failed++ {
		if got := AggregateCheck(failed); got != CheckUnhealthy {
			t.Errorf("%d failures = %v, want unhealthy", failed, got)
		}
	}
}

func TestRegionStatusOverridePrecedence(t *testing.T) {
	r := &Region{HealthState: HealthHealthy}
	if r.Status() != StatusHealthy {
		t.Errorf("expected healthy, got %v", r.Status())
	}

	r.Override = OverrideMaintenance
	if r.Status() != StatusMaintenance {
		t.Errorf("maintenance override must win, got %v", r.Status())
	}

	r.Override = OverrideUnhealthy
	if r.Status() != StatusUnhealthy {
		t.Errorf("unhealthy override must win, got %v", r.Status())
	}

	r.Override = OverrideNone
	r.HealthState = HealthDegraded
	if r.Status() != StatusDegraded {
		t.Errorf("expected probe-derived degraded, got %v", r.Status())
	}
}

func TestReasonValid(t *testing.T) {
	for _, r := range []Reason{ReasonHealthCheckFailed, ReasonScheduledMaintenance, ReasonRollback, ReasonManual} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Reason("because").Valid() {
		t.Error("unknown reason accepted")
	}
	if Reason("").Valid() {
		t.Error("empty reason accepted")
	}
}

func TestEventStatusTerminal(t *testing.T) {
	terminal := map[EventStatus]bool{
		EventPending:    false,
		EventInProgress: false,
		EventCompleted:  true,
		EventFailed:     true,
		EventCancelled:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestCheckStatusUnhealthy(t *testing.T) {
	if !CheckUnhealthy.Unhealthy() || !CheckTimeout.Unhealthy() {
		t.Error("unhealthy/timeout must count against the region")
	}
	if CheckHealthy.Unhealthy() || CheckDegraded.Unhealthy() {
		t.Error("healthy/degraded must not trigger failover")
	}
}
