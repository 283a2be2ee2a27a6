// Package notify persists trivial notifications for acting users.
// Dispatch is fire-and-forget: failures are logged and retried with
// bounded backoff, never surfaced to the mutation that triggered them.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification is a trivial per-user notification record.
type Notification struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ContextID int64     `json:"contextId"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager stores and lists notifications.
type Manager struct {
	db *sql.DB

	maxRetries int
	baseDelay  time.Duration
}

// NewManager creates a new notification manager
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:         db,
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
	}
}

// Notify persists a notification for the acting user. Errors are
// retried with exponential backoff and jitter; the final failure is
// logged and swallowed.
func (m *Manager) Notify(ctx context.Context, userID, contextID int64, kind string) {
	delay := m.baseDelay
	for attempt := 0; ; attempt++ {
		err := m.insert(ctx, userID, contextID, kind)
		if err == nil {
			return
		}
		if attempt >= m.maxRetries {
			log.Error().
				Err(err).
				Int64("userId", userID).
				Str("kind", kind).
				Int("attempts", attempt+1).
				Msg("dropping notification after retries")
			return
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("notification insert failed, retrying")

		// Full jitter on the exponential delay.
		sleep := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		delay *= 2
	}
}

func (m *Manager) insert(ctx context.Context, userID, contextID int64, kind string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, context_id, kind, created_at)
		VALUES ($1, $2, $3, $4)
	`, userID, contextID, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// List returns the most recent notifications for a user, newest first.
func (m *Manager) List(ctx context.Context, userID int64, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, context_id, kind, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	notifications := make([]*Notification, 0)
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.ID, &n.UserID, &n.ContextID, &n.Kind, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}
