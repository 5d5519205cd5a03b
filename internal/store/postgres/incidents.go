package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/vigil/internal/incident"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// IncidentStore persists incidents in the incidents table.
type IncidentStore struct {
	pool *pgxpool.Pool
}

func NewIncidentStore(pool *pgxpool.Pool) *IncidentStore {
	return &IncidentStore{pool: pool}
}

func (s *IncidentStore) Create(ctx context.Context, in *incident.Incident) error {
	var eventID interface{}
	if in.EventID != "" {
		eventID = in.EventID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO incidents (id, user_id, event_id, category, type, severity, consequence, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID, in.UserID, eventID, in.Category, in.Type, in.Severity, in.Consequence, string(in.State), in.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert incident %s: %w", in.ID, err)
	}
	return nil
}

func (s *IncidentStore) Get(ctx context.Context, id string) (*incident.Incident, error) {
	var (
		in    incident.Incident
		state string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, COALESCE(event_id, ''), category, type, severity, consequence,
		       state, COALESCE(resolution_note, ''), resolved_at, created_at
		FROM incidents WHERE id = $1`, id).
		Scan(&in.ID, &in.UserID, &in.EventID, &in.Category, &in.Type, &in.Severity,
			&in.Consequence, &state, &in.ResolutionNote, &in.ResolvedAt, &in.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select incident %s: %w", id, err)
	}
	in.State = incident.State(state)
	return &in, nil
}

func (s *IncidentStore) HasActiveForEvent(ctx context.Context, eventID, incType string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM incidents
			WHERE event_id = $1 AND type = $2 AND state NOT IN ('RESOLVED', 'CANCELLED')
		)`, eventID, incType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active incident: %w", err)
	}
	return exists, nil
}

// UpdateState moves an incident from one state to another in a single
// conditional update. It reports false when the incident was no longer
// in the expected state.
func (s *IncidentStore) UpdateState(ctx context.Context, id string, from, to incident.State, note string, resolvedAt *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE incidents
		SET state = $3,
		    resolution_note = CASE WHEN $4 <> '' THEN $4 ELSE resolution_note END,
		    resolved_at = COALESCE($5, resolved_at)
		WHERE id = $1 AND state = $2`,
		id, string(from), string(to), note, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("update incident %s state: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
