// Package store implements the durable notification queue: claiming pending
// rows, recording delivery outcomes through stored procedures, and resolving
// a recipient's registered push devices.
package store

import (
	"context"
	"fmt"

	"github.com/aman1117/notifyd/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the notification store backing the delivery engine. All queries
// run against the activity schema maintained by the originating service;
// this package only reads the queue and calls the two outcome procedures,
// it never writes notification rows directly.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store bound to the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const fetchUnprocessedQuery = `
SELECT
	id,
	user_id,
	actor_user_id,
	notification_type::text,
	target_type,
	target_id,
	title,
	message,
	payload,
	deep_link,
	priority,
	created_at,
	scheduled_at
FROM activity.notifications
WHERE is_processed = false
  AND (scheduled_at IS NULL OR scheduled_at <= now())
ORDER BY created_at ASC
LIMIT $1
`

// ClaimBatch returns up to limit unprocessed notifications, oldest first.
// Rows are not locked here; the delivery engine's caller runs single-threaded
// against this store, so a second claim never races the first.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]models.Notification, error) {
	rows, err := s.pool.Query(ctx, fetchUnprocessedQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.ActorUserID,
			&n.Kind,
			&n.TargetType,
			&n.TargetID,
			&n.Title,
			&n.Message,
			&n.Payload,
			&n.DeepLink,
			&n.Priority,
			&n.CreatedAt,
			&n.ScheduledAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return out, nil
}

// MarkSuccess calls activity.sp_notification_success, which flips
// is_processed and returns whether the row existed.
func (s *Store) MarkSuccess(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT activity.sp_notification_success($1)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("mark success %s: %w", id, err)
	}
	return ok, nil
}

// MarkFailure calls activity.sp_notification_failure, incrementing the
// notification's retry count and recording errText. It returns true if the
// call caused the notification to reach maxRetries and give up.
func (s *Store) MarkFailure(ctx context.Context, id uuid.UUID, errText string, maxRetries int) (bool, error) {
	var maxReached bool
	err := s.pool.QueryRow(
		ctx,
		`SELECT activity.sp_notification_failure($1, $2, $3)`,
		id, errText, maxRetries,
	).Scan(&maxReached)
	if err != nil {
		return false, fmt.Errorf("mark failure %s: %w", id, err)
	}
	return maxReached, nil
}

// GetUserDevices returns the FCM-registered devices for a user.
func (s *Store) GetUserDevices(ctx context.Context, userID uuid.UUID) ([]models.UserDevice, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT fcm_token, device_type FROM activity.user_devices WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get user devices %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.UserDevice
	for rows.Next() {
		var d models.UserDevice
		if err := rows.Scan(&d.FCMToken, &d.DeviceType); err != nil {
			return nil, fmt.Errorf("scan user device row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RemoveDevice deletes a device registration by its FCM token. Called when
// the push sink reports a token as unregistered or invalid.
func (s *Store) RemoveDevice(ctx context.Context, fcmToken string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM activity.user_devices WHERE fcm_token = $1`, fcmToken)
	if err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}

// ErrNoRows is returned by lookups that expect exactly one row.
var ErrNoRows = pgx.ErrNoRows
