// Package dns hides the vendor-specific mechanics of traffic redirection.
// The Manager tries a weighted traffic pool first and falls back to
// rewriting the platform's DNS record directly when no pool is configured.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/FairForge/meridian/internal/region"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrPoolNotFound is returned by vendor clients when the named pool does not
// exist; the Manager then falls back to the direct-record strategy.
var ErrPoolNotFound = errors.New("traffic pool not found")

// ErrRecordNotFound is returned when no DNS record exists for the hostname.
var ErrRecordNotFound = errors.New("dns record not found")

// Origin is one member of a traffic pool.
type Origin struct {
	Name    string
	Address string
	Weight  float64
	Enabled bool
}

// Pool is a vendor traffic pool.
type Pool struct {
	ID      string
	Name    string
	Origins []Origin
}

// Record is a vendor DNS record.
type Record struct {
	ID    string
	Name  string
	Value string
	TTL   int
}

// VendorClient is the vendor API surface the Manager needs. Its concrete
// implementation is out of core scope; any client honoring this contract
// works.
type VendorClient interface {
	GetPool(ctx context.Context, name string) (*Pool, error)
	UpdatePoolOrigin(ctx context.Context, poolID string, origin Origin) error
	GetRecord(ctx context.Context, hostname string) (*Record, error)
	UpdateRecord(ctx context.Context, rec Record) error

	// ResolveAnswer returns the currently observed answer for the hostname.
	ResolveAnswer(ctx context.Context, hostname string) (string, error)
}

// TrafficManager is the contract the orchestrator depends on.
type TrafficManager interface {
	// Redirect shifts traffic from one region to another.
	Redirect(ctx context.Context, from, to *region.Region) error
	// Propagated reports whether the change is observable for the target.
	Propagated(ctx context.Context, target *region.Region) (bool, error)
}

// Config tunes the default Manager.
type Config struct {
	// PoolName selects the pool strategy when non-empty.
	PoolName string `yaml:"pool_name"`
	// Hostname is the platform's logical DNS name for the record strategy.
	Hostname string `yaml:"hostname"`
	// CutoverTTL shortens the record TTL during a cutover window.
	CutoverTTL int `yaml:"cutover_ttl"`
	// RateLimit caps vendor API calls per second.
	RateLimit float64 `yaml:"rate_limit"`
}

// Manager is the default TrafficManager over a VendorClient.
type Manager struct {
	client  VendorClient
	limiter *rate.Limiter
	logger  *zap.Logger
	cfg     Config
}

// NewManager creates a Manager. A zero RateLimit defaults to 10 calls/s.
func NewManager(client VendorClient, cfg Config, logger *zap.Logger) *Manager {
	if cfg.CutoverTTL <= 0 {
		cfg.CutoverTTL = 60
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	return &Manager{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:  logger,
		cfg:     cfg,
	}
}

// Redirect shifts traffic from one region to another, preferring the pool
// strategy and falling back to a direct record rewrite. Weight and record
// writes are idempotent, so a retried redirect converges on the same state.
func (m *Manager) Redirect(ctx context.Context, from, to *region.Region) error {
	if m.cfg.PoolName != "" {
		err := m.redirectPool(ctx, from, to)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrPoolNotFound) {
			return err
		}
		m.logger.Warn("traffic pool not found, falling back to direct record",
			zap.String("pool", m.cfg.PoolName))
	}
	return m.redirectRecord(ctx, to)
}

func (m *Manager) redirectPool(ctx context.Context, from, to *region.Region) error {
	pool, err := m.getPool(ctx)
	if err != nil {
		return err
	}

	fromOrigin := findOrigin(pool, from)
	toOrigin := findOrigin(pool, to)
	if fromOrigin == nil || toOrigin == nil {
		return fmt.Errorf("pool %q missing origin for %s or %s", pool.Name, from.Name, to.Name)
	}

	fromOrigin.Weight = 0
	fromOrigin.Enabled = false
	toOrigin.Weight = 1
	toOrigin.Enabled = true

	for _, origin := range []*Origin{fromOrigin, toOrigin} {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := m.client.UpdatePoolOrigin(ctx, pool.ID, *origin); err != nil {
			return fmt.Errorf("update origin %s: %w", origin.Name, err)
		}
	}

	m.logger.Info("traffic pool updated",
		zap.String("pool", pool.Name),
		zap.String("from", from.Name),
		zap.String("to", to.Name))
	return nil
}

func (m *Manager) redirectRecord(ctx context.Context, to *region.Region) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	rec, err := m.client.GetRecord(ctx, m.cfg.Hostname)
	if err != nil {
		return fmt.Errorf("get record %s: %w", m.cfg.Hostname, err)
	}

	rec.Value = endpointHost(to.Endpoint)
	rec.TTL = m.cfg.CutoverTTL

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := m.client.UpdateRecord(ctx, *rec); err != nil {
		return fmt.Errorf("update record %s: %w", m.cfg.Hostname, err)
	}

	m.logger.Info("dns record rewritten",
		zap.String("hostname", m.cfg.Hostname),
		zap.String("value", rec.Value),
		zap.Int("ttl", rec.TTL))
	return nil
}

// Propagated compares the observed vendor state against the expected target.
func (m *Manager) Propagated(ctx context.Context, target *region.Region) (bool, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return false, err
	}

	if m.cfg.PoolName != "" {
		pool, err := m.getPool(ctx)
		if err == nil {
			origin := findOrigin(pool, target)
			return origin != nil && origin.Enabled && origin.Weight > 0, nil
		}
		if !errors.Is(err, ErrPoolNotFound) {
			return false, err
		}
	}

	answer, err := m.client.ResolveAnswer(ctx, m.cfg.Hostname)
	if err != nil {
		return false, err
	}
	return answer == endpointHost(target.Endpoint), nil
}

func (m *Manager) getPool(ctx context.Context) (*Pool, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.client.GetPool(ctx, m.cfg.PoolName)
}

// findOrigin matches a pool origin by region name or endpoint host.
func findOrigin(pool *Pool, r *region.Region) *Origin {
	host := endpointHost(r.Endpoint)
	for i := range pool.Origins {
		o := &pool.Origins[i]
		if strings.EqualFold(o.Name, r.Name) || o.Address == host {
			return o
		}
	}
	return nil
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
