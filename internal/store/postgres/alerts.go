package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/vigil/internal/alert"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// AlertStore persists alerts in the alerts table.
type AlertStore struct {
	pool *pgxpool.Pool
}

func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

func (s *AlertStore) Create(ctx context.Context, a *alert.Alert) error {
	var eventID interface{}
	if a.EventID != "" {
		eventID = a.EventID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, user_id, event_id, category, alert_type, scheduled_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, eventID, a.Category, a.AlertType, a.ScheduledAt, string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *AlertStore) Get(ctx context.Context, id string) (*alert.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `
		SELECT id, user_id, COALESCE(event_id, ''), category, alert_type,
		       scheduled_at, status, delivered_at, cancelled_at, created_at
		FROM alerts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select alert %s: %w", id, err)
	}
	return a, nil
}

func (s *AlertStore) HasActive(ctx context.Context, eventID, alertType string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE event_id = $1 AND alert_type = $2 AND status IN ('PENDING', 'DELIVERED')
		)`, eventID, alertType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active alert: %w", err)
	}
	return exists, nil
}

func (s *AlertStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*alert.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, COALESCE(event_id, ''), category, alert_type,
		       scheduled_at, status, delivered_at, cancelled_at, created_at
		FROM alerts
		WHERE status = 'PENDING' AND delivered_at IS NULL AND cancelled_at IS NULL
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due alerts: %w", err)
	}
	defer rows.Close()

	var due []*alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		due = append(due, a)
	}
	return due, rows.Err()
}

func (s *AlertStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = 'DELIVERED', delivered_at = $2
		WHERE id = $1 AND status = 'PENDING'`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark alert %s delivered: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *AlertStore) MarkCancelled(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = 'CANCELLED', cancelled_at = $2
		WHERE id = $1 AND status = 'PENDING'`, id, at)
	if err != nil {
		return false, fmt.Errorf("mark alert %s cancelled: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a      alert.Alert
		status string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.EventID, &a.Category, &a.AlertType,
		&a.ScheduledAt, &status, &a.DeliveredAt, &a.CancelledAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = alert.Status(status)
	return &a, nil
}
