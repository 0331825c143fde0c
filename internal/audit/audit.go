// Package audit writes append-only activity records for completed failovers.
// Writes are fire-and-forget from the orchestrator's perspective: a failed
// audit write never fails the failover.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FairForge/meridian/internal/region"
	"github.com/google/uuid"
)

// Activity is one append-only audit row.
type Activity struct {
	ID          uuid.UUID         `json:"id"`
	EventID     uuid.UUID         `json:"event_id"`
	Action      string            `json:"action"`
	FromRegion  string            `json:"from_region"`
	ToRegion    string            `json:"to_region"`
	Reason      string            `json:"reason"`
	TriggeredBy string            `json:"triggered_by"`
	Result      string            `json:"result"`
	DurationMS  int64             `json:"duration_ms"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Service writes activity records to postgres.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service over an open database handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateTable creates the activity table.
func (s *Service) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS failover_activity (
			id UUID PRIMARY KEY,
			event_id UUID NOT NULL,
			action VARCHAR(64) NOT NULL,
			from_region VARCHAR(255) NOT NULL,
			to_region VARCHAR(255) NOT NULL,
			reason VARCHAR(64) NOT NULL,
			triggered_by VARCHAR(255) NOT NULL,
			result VARCHAR(32) NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			metadata JSONB,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// RecordFailover appends an activity row for a finished failover event.
func (s *Service) RecordFailover(ctx context.Context, e *region.FailoverEvent) error {
	a := Activity{
		ID:          uuid.New(),
		EventID:     e.ID,
		Action:      "failover." + string(e.Status),
		FromRegion:  e.FromRegionID,
		ToRegion:    e.ToRegionID,
		Reason:      string(e.Reason),
		TriggeredBy: e.TriggeredBy,
		Result:      string(e.Status),
		DurationMS:  e.Duration.Milliseconds(),
		Metadata:    e.Metadata,
		Timestamp:   time.Now().UTC(),
	}

	var metadata []byte
	if a.Metadata != nil {
		var err error
		metadata, err = json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failover_activity
			(id, event_id, action, from_region, to_region, reason, triggered_by, result, duration_ms, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.EventID, a.Action, a.FromRegion, a.ToRegion, a.Reason,
		a.TriggeredBy, a.Result, a.DurationMS, nullBytes(metadata), a.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
