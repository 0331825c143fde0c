// Package store provides the persistence implementations behind the
// region.Store contract: postgres for production, memory for dev and tests.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Config holds postgres connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Postgres implements region.Store on PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens a connection pool against the configured database.
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB exposes the underlying handle for collaborators sharing the pool,
// such as the audit service.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Ping verifies the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// CreateTables creates the schema. The partial unique index on
// failover_events is the enforcement point for the exclusivity invariant:
// the database refuses a second non-terminal event no matter how many
// processes race on the insert.
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS regions (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			endpoint VARCHAR(1024) NOT NULL,
			health_state VARCHAR(32) NOT NULL DEFAULT 'healthy',
			override VARCHAR(32) NOT NULL DEFAULT '',
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			priority INT NOT NULL DEFAULT 100,
			active_deployments INT NOT NULL DEFAULT 0,
			last_health_check TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS region_health_checks (
			id BIGSERIAL PRIMARY KEY,
			region_id VARCHAR(255) NOT NULL REFERENCES regions(id),
			status VARCHAR(32) NOT NULL,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			api_status VARCHAR(16) NOT NULL,
			database_status VARCHAR(16) NOT NULL,
			storage_status VARCHAR(16) NOT NULL,
			cache_status VARCHAR(16) NOT NULL,
			error TEXT,
			error_type VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS region_health_checks_region_time_idx
			ON region_health_checks (region_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS failover_events (
			id UUID PRIMARY KEY,
			from_region_id VARCHAR(255) NOT NULL,
			to_region_id VARCHAR(255) NOT NULL,
			reason VARCHAR(64) NOT NULL,
			triggered_by VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			projects_affected INT NOT NULL DEFAULT 0,
			deployments_affected INT NOT NULL DEFAULT 0,
			error TEXT,
			scheduled_at TIMESTAMPTZ,
			metadata JSONB
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS failover_events_single_active_idx
			ON failover_events ((TRUE))
			WHERE status IN ('pending', 'in_progress')`,
		`CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR(255) PRIMARY KEY,
			region_id VARCHAR(255) NOT NULL REFERENCES regions(id),
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id VARCHAR(255) PRIMARY KEY,
			project_id VARCHAR(255) NOT NULL REFERENCES projects(id),
			region_id VARCHAR(255) NOT NULL REFERENCES regions(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, q := range queries {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

const regionColumns = `id, name, endpoint, health_state, override, is_primary,
	priority, active_deployments, COALESCE(last_health_check, 'epoch'::timestamptz)`

func (p *Postgres) GetRegion(ctx context.Context, id string) (*region.Region, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+regionColumns+` FROM regions WHERE id = $1`, id)
	r, err := scanRegion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, region.Validationf("region not found: %s", id)
	}
	if err != nil {
		return nil, &region.PersistenceError{Op: "get region", Err: err}
	}
	return r, nil
}

func (p *Postgres) ListRegions(ctx context.Context) ([]*region.Region, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+regionColumns+` FROM regions ORDER BY id`)
	if err != nil {
		return nil, &region.PersistenceError{Op: "list regions", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*region.Region
	for rows.Next() {
		r, err := scanRegion(rows)
		if err != nil {
			return nil, &region.PersistenceError{Op: "list regions", Err: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateRegion(ctx context.Context, r *region.Region) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO regions (id, name, endpoint, health_state, override, is_primary, priority, active_deployments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.Name, r.Endpoint, orDefault(string(r.HealthState), string(region.HealthHealthy)),
		string(r.Override), r.IsPrimary, r.Priority, r.ActiveDeployments)
	if isUniqueViolation(err) {
		return region.Conflictf("region already exists: %s", r.ID)
	}
	if err != nil {
		return &region.PersistenceError{Op: "create region", Err: err}
	}
	return nil
}

func (p *Postgres) UpdateHealth(ctx context.Context, id string, state region.HealthState, at time.Time) error {
	return p.updateRegion(ctx, "update health",
		`UPDATE regions SET health_state = $2, last_health_check = $3 WHERE id = $1`,
		id, string(state), at)
}

func (p *Postgres) SetOverride(ctx context.Context, id string, o region.Override) error {
	return p.updateRegion(ctx, "set override",
		`UPDATE regions SET override = $2 WHERE id = $1`, id, string(o))
}

func (p *Postgres) SetPrimary(ctx context.Context, id string, primary bool) error {
	return p.updateRegion(ctx, "set primary",
		`UPDATE regions SET is_primary = $2 WHERE id = $1`, id, primary)
}

func (p *Postgres) updateRegion(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &region.PersistenceError{Op: op, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return region.Validationf("region not found: %v", args[0])
	}
	return nil
}

func (p *Postgres) CountProjects(ctx context.Context, regionID string) (int, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM projects WHERE region_id = $1`, regionID)
}

func (p *Postgres) CountDeployments(ctx context.Context, regionID string) (int, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM deployments WHERE region_id = $1`, regionID)
}

func (p *Postgres) count(ctx context.Context, query, regionID string) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, query, regionID).Scan(&n); err != nil {
		return 0, &region.PersistenceError{Op: "count", Err: err}
	}
	return n, nil
}

func (p *Postgres) AppendCheck(ctx context.Context, c *region.HealthCheck) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO region_health_checks
			(region_id, status, latency_ms, api_status, database_status, storage_status, cache_status, error, error_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		c.RegionID, string(c.Status), c.LatencyMS,
		string(c.API), string(c.Database), string(c.Storage), string(c.Cache),
		nullString(c.Error), nullString(c.ErrorType), c.Timestamp,
	).Scan(&c.ID)
	if err != nil {
		return &region.PersistenceError{Op: "append check", Err: err}
	}
	return nil
}

func (p *Postgres) RecentChecks(ctx context.Context, regionID string, limit int) ([]*region.HealthCheck, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, region_id, status, latency_ms, api_status, database_status, storage_status, cache_status,
			COALESCE(error, ''), COALESCE(error_type, ''), created_at
		FROM region_health_checks
		WHERE region_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, regionID, limit)
	if err != nil {
		return nil, &region.PersistenceError{Op: "recent checks", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []*region.HealthCheck
	for rows.Next() {
		var c region.HealthCheck
		var status, api, db, storage, cache string
		if err := rows.Scan(&c.ID, &c.RegionID, &status, &c.LatencyMS,
			&api, &db, &storage, &cache, &c.Error, &c.ErrorType, &c.Timestamp); err != nil {
			return nil, &region.PersistenceError{Op: "recent checks", Err: err}
		}
		c.Status = region.CheckStatus(status)
		c.API = region.SubsystemStatus(api)
		c.Database = region.SubsystemStatus(db)
		c.Storage = region.SubsystemStatus(storage)
		c.Cache = region.SubsystemStatus(cache)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateEvent(ctx context.Context, e *region.FailoverEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return &region.PersistenceError{Op: "create event", Err: err}
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO failover_events
			(id, from_region_id, to_region_id, reason, triggered_by, status, started_at,
			 completed_at, duration_ms, projects_affected, deployments_affected, error, scheduled_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.FromRegionID, e.ToRegionID, string(e.Reason), e.TriggeredBy, string(e.Status),
		e.StartedAt, e.CompletedAt, e.Duration.Milliseconds(),
		e.ProjectsAffected, e.DeploymentsAffected, nullString(e.Error), e.ScheduledAt, metadata)
	if isUniqueViolation(err) {
		return region.Conflictf("a failover is already active")
	}
	if err != nil {
		return &region.PersistenceError{Op: "create event", Err: err}
	}
	return nil
}

func (p *Postgres) UpdateEvent(ctx context.Context, e *region.FailoverEvent) error {
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return &region.PersistenceError{Op: "update event", Err: err}
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE failover_events SET
			status = $2, completed_at = $3, duration_ms = $4,
			projects_affected = $5, deployments_affected = $6, error = $7, metadata = $8
		WHERE id = $1`,
		e.ID, string(e.Status), e.CompletedAt, e.Duration.Milliseconds(),
		e.ProjectsAffected, e.DeploymentsAffected, nullString(e.Error), metadata)
	if err != nil {
		return &region.PersistenceError{Op: "update event", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return region.Validationf("event not found: %s", e.ID)
	}
	return nil
}

func (p *Postgres) GetEvent(ctx context.Context, id uuid.UUID) (*region.FailoverEvent, error) {
	row := p.db.QueryRowContext(ctx, eventSelect+` WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, region.Validationf("event not found: %s", id)
	}
	if err != nil {
		return nil, &region.PersistenceError{Op: "get event", Err: err}
	}
	return e, nil
}

func (p *Postgres) TransitionEvent(ctx context.Context, id uuid.UUID, from, to region.EventStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE failover_events SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return &region.PersistenceError{Op: "transition event", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := p.GetEvent(ctx, id); err != nil {
			return err
		}
		return region.Conflictf("event %s is not %s", id, from)
	}
	return nil
}

func (p *Postgres) ActiveEvent(ctx context.Context) (*region.FailoverEvent, error) {
	row := p.db.QueryRowContext(ctx,
		eventSelect+` WHERE status IN ('pending', 'in_progress') LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &region.PersistenceError{Op: "active event", Err: err}
	}
	return e, nil
}

func (p *Postgres) ListEvents(ctx context.Context, limit int) ([]*region.FailoverEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		eventSelect+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, &region.PersistenceError{Op: "list events", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (p *Postgres) DuePending(ctx context.Context, now time.Time) ([]*region.FailoverEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		eventSelect+` WHERE status = 'pending' AND scheduled_at IS NOT NULL AND scheduled_at <= $1`, now)
	if err != nil {
		return nil, &region.PersistenceError{Op: "due pending", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

const eventSelect = `SELECT id, from_region_id, to_region_id, reason, triggered_by, status,
	started_at, completed_at, duration_ms, projects_affected, deployments_affected,
	COALESCE(error, ''), scheduled_at, metadata
	FROM failover_events`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRegion(row scanner) (*region.Region, error) {
	var r region.Region
	var health, override string
	if err := row.Scan(&r.ID, &r.Name, &r.Endpoint, &health, &override,
		&r.IsPrimary, &r.Priority, &r.ActiveDeployments, &r.LastHealthCheck); err != nil {
		return nil, err
	}
	r.HealthState = region.HealthState(health)
	r.Override = region.Override(override)
	return &r, nil
}

func scanEvent(row scanner) (*region.FailoverEvent, error) {
	var e region.FailoverEvent
	var reason, status string
	var durationMS int64
	var metadata []byte
	if err := row.Scan(&e.ID, &e.FromRegionID, &e.ToRegionID, &reason, &e.TriggeredBy, &status,
		&e.StartedAt, &e.CompletedAt, &durationMS, &e.ProjectsAffected, &e.DeploymentsAffected,
		&e.Error, &e.ScheduledAt, &metadata); err != nil {
		return nil, err
	}
	e.Reason = region.Reason(reason)
	e.Status = region.EventStatus(status)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*region.FailoverEvent, error) {
	var out []*region.FailoverEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, &region.PersistenceError{Op: "scan event", Err: err}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
