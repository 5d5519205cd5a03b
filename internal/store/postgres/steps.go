package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/vigil/internal/escalation"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// StepStore persists escalation steps in the escalation_steps table.
type StepStore struct {
	pool *pgxpool.Pool
}

func NewStepStore(pool *pgxpool.Pool) *StepStore {
	return &StepStore{pool: pool}
}

func (s *StepStore) Create(ctx context.Context, st *escalation.Step) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escalation_steps (id, incident_id, level, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.IncidentID, st.Level, string(st.Status), st.ScheduledAt, st.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert escalation step %s: %w", st.ID, err)
	}
	return nil
}

func (s *StepStore) Get(ctx context.Context, id string) (*escalation.Step, error) {
	st, err := scanStep(s.pool.QueryRow(ctx, `
		SELECT id, incident_id, level, status, scheduled_at, executed_at, created_at
		FROM escalation_steps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select escalation step %s: %w", id, err)
	}
	return st, nil
}

func (s *StepStore) UpdateStatus(ctx context.Context, id string, from, to escalation.StepStatus, executedAt *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE escalation_steps
		SET status = $3, executed_at = COALESCE($4, executed_at)
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), executedAt)
	if err != nil {
		return false, fmt.Errorf("update escalation step %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelPending cancels every pending step for an incident and returns
// the ids of the steps it cancelled.
func (s *StepStore) CancelPending(ctx context.Context, incidentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE escalation_steps SET status = 'CANCELLED'
		WHERE incident_id = $1 AND status = 'PENDING'
		RETURNING id`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("cancel pending steps for %s: %w", incidentID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled step id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *StepStore) Pending(ctx context.Context) ([]*escalation.Step, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, incident_id, level, status, scheduled_at, executed_at, created_at
		FROM escalation_steps
		WHERE status = 'PENDING'
		ORDER BY scheduled_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("select pending steps: %w", err)
	}
	defer rows.Close()

	var pending []*escalation.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation step: %w", err)
		}
		pending = append(pending, st)
	}
	return pending, rows.Err()
}

func scanStep(row pgx.Row) (*escalation.Step, error) {
	var (
		st     escalation.Step
		status string
	)
	err := row.Scan(&st.ID, &st.IncidentID, &st.Level, &status,
		&st.ScheduledAt, &st.ExecutedAt, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	st.Status = escalation.StepStatus(status)
	return &st, nil
}
