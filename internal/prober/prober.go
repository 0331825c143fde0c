// Package prober periodically determines each region's health and maintains
// the probe-derived health signal on the region. Region status is a derived
// value here, never set directly.
package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/FairForge/meridian/internal/metrics"
	"github.com/FairForge/meridian/internal/region"
	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// Sub-check probe paths, probed relative to the region endpoint.
var subChecks = []struct {
	name string
	path string
}{
	{"api", "/health"},
	{"database", "/health/db"},
	{"storage", "/health/storage"},
	{"cache", "/health/redis"},
}

// Config tunes probe timeouts and batch parallelism.
type Config struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Concurrency  int           `yaml:"concurrency"`
	WindowSize   int           `yaml:"window_size"`
}

// DefaultConfig returns the default prober configuration.
func DefaultConfig() Config {
	return Config{
		ProbeTimeout: 5 * time.Second,
		Concurrency:  5,
		WindowSize:   5,
	}
}

// Prober probes regions and records results.
type Prober struct {
	store     region.Store
	client    *http.Client
	pool      pond.Pool
	collector *metrics.Collector
	logger    *zap.Logger
	cfg       Config
}

// New creates a prober over the given store. collector may be nil.
func New(store region.Store, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Prober {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 5
	}
	return &Prober{
		store:     store,
		client:    &http.Client{Timeout: cfg.ProbeTimeout},
		pool:      pond.NewPool(cfg.Concurrency),
		collector: collector,
		logger:    logger,
		cfg:       cfg,
	}
}

// Stop releases the worker pool.
func (p *Prober) Stop() {
	p.pool.StopAndWait()
}

// CheckRegionHealth probes every sub-system of one region, persists the
// resulting health-check row and recomputes the region's health signal.
// Probe failures are captured as structured status on the returned check,
// never as an error; the error return covers persistence only.
func (p *Prober) CheckRegionHealth(ctx context.Context, r *region.Region) (*region.HealthCheck, error) {
	start := time.Now()
	check := p.probe(ctx, r)
	check.LatencyMS = time.Since(start).Milliseconds()

	if p.collector != nil {
		p.collector.ProbeTotal.WithLabelValues(r.ID, string(check.Status)).Inc()
		p.collector.ProbeDuration.WithLabelValues(r.ID).Observe(time.Since(start).Seconds())
	}

	if err := p.store.AppendCheck(ctx, check); err != nil {
		return nil, fmt.Errorf("append check: %w", err)
	}

	recent, err := p.store.RecentChecks(ctx, r.ID, p.cfg.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("recent checks: %w", err)
	}
	state := region.DeriveHealthState(recent)
	if err := p.store.UpdateHealth(ctx, r.ID, state, check.Timestamp); err != nil {
		return nil, fmt.Errorf("update health: %w", err)
	}

	if p.collector != nil {
		healthy := 0.0
		if state == region.HealthHealthy {
			healthy = 1.0
		}
		p.collector.RegionHealthy.WithLabelValues(r.ID).Set(healthy)
	}

	p.logger.Debug("region probed",
		zap.String("region", r.ID),
		zap.String("check_status", string(check.Status)),
		zap.String("health_state", string(state)),
		zap.Int64("latency_ms", check.LatencyMS))

	return check, nil
}

// probe runs the four sub-checks concurrently under the per-region timeout.
func (p *Prober) probe(ctx context.Context, r *region.Region) *region.HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	results := make([]region.SubsystemStatus, len(subChecks))
	errs := make([]error, len(subChecks))

	var wg sync.WaitGroup
	for i, sc := range subChecks {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i], errs[i] = p.probeOne(ctx, r.Endpoint+path)
		}(i, sc.path)
	}
	wg.Wait()

	check := &region.HealthCheck{
		RegionID:  r.ID,
		API:       results[0],
		Database:  results[1],
		Storage:   results[2],
		Cache:     results[3],
		Timestamp: time.Now().UTC(),
	}

	failed := 0
	for i, res := range results {
		if res == region.SubsystemOK {
			continue
		}
		failed++
		if check.Error == "" && errs[i] != nil {
			check.Error = fmt.Sprintf("%s: %v", subChecks[i].name, errs[i])
			check.ErrorType = classifyError(errs[i])
		}
	}

	if ctx.Err() != nil && failed >= len(subChecks) {
		check.Status = region.CheckTimeout
		if check.ErrorType == "" {
			check.ErrorType = "timeout"
		}
		return check
	}

	check.Status = region.AggregateCheck(failed)
	return check
}

func (p *Prober) probeOne(ctx context.Context, url string) (region.SubsystemStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return region.SubsystemError, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return region.SubsystemTimeout, err
		}
		return region.SubsystemError, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return region.SubsystemError, fmt.Errorf("status %d", resp.StatusCode)
	}
	return region.SubsystemOK, nil
}

// RunAllHealthChecks probes all non-maintenance regions as a batched fan-out
// with bounded parallelism. Per-region failures are logged and isolated; they
// never abort the batch.
func (p *Prober) RunAllHealthChecks(ctx context.Context) error {
	regions, err := p.store.ListRegions(ctx)
	if err != nil {
		return fmt.Errorf("list regions: %w", err)
	}

	group := p.pool.NewGroupContext(ctx)
	for _, r := range regions {
		if r.Status() == region.StatusMaintenance {
			continue
		}
		r := r
		group.SubmitErr(func() error {
			if _, err := p.CheckRegionHealth(ctx, r); err != nil {
				p.logger.Warn("probe failed",
					zap.String("region", r.ID), zap.Error(err))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ShouldTriggerFailover reports whether the region warrants an automatic
// failover: it must be primary and its last three checks all unhealthy or
// timed out. Non-primary regions never trigger failover from this path.
func (p *Prober) ShouldTriggerFailover(ctx context.Context, regionID string) (bool, string, error) {
	r, err := p.store.GetRegion(ctx, regionID)
	if err != nil {
		return false, "", err
	}
	if !r.IsPrimary {
		return false, "region is not primary", nil
	}
	if r.Status() == region.StatusMaintenance {
		return false, "region is in maintenance", nil
	}

	recent, err := p.store.RecentChecks(ctx, regionID, 3)
	if err != nil {
		return false, "", err
	}
	if len(recent) < 3 {
		return false, "insufficient health-check history", nil
	}
	for _, c := range recent {
		if !c.Status.Unhealthy() {
			return false, "recent checks not consistently unhealthy", nil
		}
	}
	return true, "last 3 health checks unhealthy", nil
}

// BestFailoverTarget selects the preferred failover target: a healthy region
// other than the excluded one, by ascending priority then ascending load.
// Returns nil when no candidate qualifies.
func (p *Prober) BestFailoverTarget(ctx context.Context, excludeRegionID string) (*region.Region, error) {
	regions, err := p.store.ListRegions(ctx)
	if err != nil {
		return nil, err
	}

	var best *region.Region
	for _, r := range regions {
		if r.ID == excludeRegionID || r.Status() != region.StatusHealthy {
			continue
		}
		if best == nil || r.Priority < best.Priority ||
			(r.Priority == best.Priority && r.ActiveDeployments < best.ActiveDeployments) {
			best = r
		}
	}
	return best, nil
}

// classifyError distinguishes the probe failure modes recorded on the check.
func classifyError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var certErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) {
		return "tls"
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection_refused"
	}
	if isTimeout(err) {
		return "timeout"
	}
	return "error"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
