package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gyaneshwarpardhi/vigil/internal/channel"
)

// Directory resolves user contact details from the users table. Missing
// users and empty contact columns both surface as skippable errors so
// the delivery worker files them as skips rather than failures.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Email(ctx context.Context, userID string) (string, error) {
	return d.contact(ctx, userID, "email")
}

func (d *Directory) Phone(ctx context.Context, userID string) (string, error) {
	return d.contact(ctx, userID, "phone")
}

func (d *Directory) contact(ctx context.Context, userID, column string) (string, error) {
	var value *string
	err := d.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, column), userID).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &channel.SkippableError{Reason: "unknown user " + userID}
	}
	if err != nil {
		return "", fmt.Errorf("select user %s: %w", userID, err)
	}
	if value == nil || *value == "" {
		return "", &channel.SkippableError{Reason: "user " + userID + " has no " + column}
	}
	return *value, nil
}
