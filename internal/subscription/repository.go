package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vidtube-backend/internal/db"
)

var ErrChannelNotFound = errors.New("channel not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Toggle removes the subscription when it exists and creates it otherwise.
// It reports whether the subscriber is subscribed afterwards.
func (r *Repository) Toggle(ctx context.Context, subscriberID, channelID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin subscription tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, channelID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query channel: %w", err)
	}
	if !exists {
		return false, ErrChannelNotFound
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE subscriber_id = $1 AND channel_id = $2
	`, subscriberID, channelID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("subscription rows affected: %w", err)
	}

	subscribed := removed == 0
	if subscribed {
		id, err := uuid.NewV7()
		if err != nil {
			return false, fmt.Errorf("generate uuid v7: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, subscriber_id, channel_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (subscriber_id, channel_id) DO NOTHING
		`, id.String(), subscriberID, channelID, time.Now().UTC())
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return false, ErrChannelNotFound
			}
			return false, fmt.Errorf("insert subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit subscription tx: %w", err)
	}

	return subscribed, nil
}
