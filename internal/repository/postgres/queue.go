package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/repository"
)

type queueRepository struct {
	BaseRepository
}

func NewQueueRepository(base BaseRepository) repository.QueueRepository {
	return &queueRepository{base}
}

func (r *queueRepository) Enqueue(ctx context.Context, n *model.QueuedNotification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.Status = model.QueueStatusPending
	if n.Channel == "" {
		n.Channel = model.ChannelPush
	}
	if n.ScheduledFor.IsZero() {
		n.ScheduledFor = n.CreatedAt
	}

	query := `
		INSERT INTO notification_queue (
			id, user_id, notification_type, channel, title, body, data,
			deep_link, scheduled_for, status, attempts, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.NotificationType,
		n.Channel,
		n.Title,
		n.Body,
		n.Data,
		n.DeepLink,
		n.ScheduledFor,
		n.Status,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// ClaimDue is the single CAS step of the drainer: rows move pending ->
// processing inside one statement, so two overlapping invocations cannot
// claim the same row. SKIP LOCKED keeps concurrent claimants from blocking
// each other.
func (r *queueRepository) ClaimDue(ctx context.Context, claimedBy string, limit int, lease time.Duration) ([]*model.QueuedNotification, error) {
	query := `
		UPDATE notification_queue
		SET status = $1,
			claimed_by = $2,
			lease_expires_at = NOW() + $3 * INTERVAL '1 second'
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = $4 AND scheduled_for <= NOW()
			ORDER BY created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, user_id, notification_type, channel, title, body, data,
			deep_link, scheduled_for, status, attempts, claimed_by,
			lease_expires_at, last_error, created_at, sent_at
	`

	var rows []*model.QueuedNotification
	err := r.db.SelectContext(ctx, &rows, query,
		model.QueueStatusProcessing,
		claimedBy,
		int(lease.Seconds()),
		model.QueueStatusPending,
		limit,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	return rows, nil
}

func (r *queueRepository) ReleaseExpiredLeases(ctx context.Context) (int64, error) {
	query := `
		UPDATE notification_queue
		SET status = $1, claimed_by = NULL, lease_expires_at = NULL
		WHERE status = $2 AND lease_expires_at < NOW()
	`
	result, err := r.db.ExecContext(ctx, query, model.QueueStatusPending, model.QueueStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired leases: %w", err)
	}
	return result.RowsAffected()
}

func (r *queueRepository) MarkSent(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notification_queue
		SET status = $1,
			attempts = attempts + 1,
			sent_at = NOW(),
			claimed_by = NULL,
			lease_expires_at = NULL,
			last_error = NULL
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query, model.QueueStatusSent, id, model.QueueStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

func (r *queueRepository) MarkFailedAttempt(ctx context.Context, id uuid.UUID, sendErr string, terminal bool) error {
	status := model.QueueStatusPending
	if terminal {
		status = model.QueueStatusFailed
	}

	query := `
		UPDATE notification_queue
		SET status = $1,
			attempts = attempts + 1,
			last_error = $2,
			claimed_by = NULL,
			lease_expires_at = NULL
		WHERE id = $3 AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, sendErr, id, model.QueueStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}
	return nil
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueuedNotification, error) {
	query := `
		SELECT id, user_id, notification_type, channel, title, body, data,
			deep_link, scheduled_for, status, attempts, claimed_by,
			lease_expires_at, last_error, created_at, sent_at
		FROM notification_queue
		WHERE id = $1
	`
	var n model.QueuedNotification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, fmt.Errorf("failed to get queued notification: %w", err)
	}
	return &n, nil
}
