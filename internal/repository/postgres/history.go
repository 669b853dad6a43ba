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

type historyRepository struct {
	BaseRepository
}

func NewHistoryRepository(base BaseRepository) repository.HistoryRepository {
	return &historyRepository{base}
}

func (r *historyRepository) Create(ctx context.Context, h *model.NotificationHistory) error {
	if h == nil {
		return fmt.Errorf("history record cannot be nil")
	}

	h.ID = uuid.New()
	h.ScheduledAt = time.Now()
	h.Status = model.HistoryStatusScheduled

	query := `
		INSERT INTO notification_history (
			id, user_id, type, title, body, data,
			scheduled_for, status, scheduled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		h.ID,
		h.UserID,
		h.Type,
		h.Title,
		h.Body,
		h.Data,
		h.ScheduledFor,
		h.Status,
		h.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create history record: %w", err)
	}
	return nil
}

func (r *historyRepository) RecentScheduled(ctx context.Context, userID uuid.UUID, historyType string, limit int) ([]*model.NotificationHistory, error) {
	query := `
		SELECT id, user_id, type, title, body, data,
			scheduled_for, status, scheduled_at, delivered_at
		FROM notification_history
		WHERE user_id = $1 AND type = $2 AND status = $3
		ORDER BY scheduled_at DESC
		LIMIT $4
	`
	var rows []*model.NotificationHistory
	err := r.db.SelectContext(ctx, &rows, query, userID, historyType, model.HistoryStatusScheduled, limit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled history: %w", err)
	}
	return rows, nil
}

func (r *historyRepository) MarkDelivered(ctx context.Context, providerNotificationID string, deliveredAt time.Time) error {
	query := `
		UPDATE notification_history
		SET status = $1, delivered_at = $2
		WHERE status = $3 AND data->>$4 = $5
	`
	result, err := r.db.ExecContext(ctx, query,
		model.HistoryStatusDelivered,
		deliveredAt,
		model.HistoryStatusScheduled,
		model.DataKeyProviderNotificationID,
		providerNotificationID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark history delivered: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("no scheduled history row for provider notification %s", providerNotificationID)
	}
	return nil
}

func (r *historyRepository) Get(ctx context.Context, id uuid.UUID) (*model.NotificationHistory, error) {
	query := `
		SELECT id, user_id, type, title, body, data,
			scheduled_for, status, scheduled_at, delivered_at
		FROM notification_history
		WHERE id = $1
	`
	var h model.NotificationHistory
	if err := r.db.GetContext(ctx, &h, query, id); err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return &h, nil
}
