package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/vigil/internal/event"
	"github.com/gyaneshwarpardhi/vigil/internal/store"
)

// EventStore persists events in the events table.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Create(ctx context.Context, ev *event.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, user_id, source, category, type, payload, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.UserID, ev.Source, string(ev.Category), ev.Type, payload, ev.OccurredAt, ev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("event %s: %w", ev.ID, store.ErrAlreadyExists)
		}
		return fmt.Errorf("insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	var (
		ev       event.Event
		category string
		payload  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, source, category, type, payload, occurred_at, created_at
		FROM events WHERE id = $1`, id).
		Scan(&ev.ID, &ev.UserID, &ev.Source, &category, &ev.Type, &payload, &ev.OccurredAt, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select event %s: %w", id, err)
	}
	ev.Category = event.Category(category)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for event %s: %w", id, err)
		}
	}
	return &ev, nil
}
