package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/model"
)

// QueueRepository manages durable queued notifications.
type QueueRepository interface {
	Enqueue(ctx context.Context, n *model.QueuedNotification) error

	// ClaimDue atomically moves up to limit due pending rows to processing,
	// stamped with the claimant and a lease expiry, and returns them
	// oldest-first. Overlapping drainer invocations never receive the same row.
	ClaimDue(ctx context.Context, claimedBy string, limit int, lease time.Duration) ([]*model.QueuedNotification, error)

	// ReleaseExpiredLeases returns processing rows whose lease has lapsed to
	// pending so a crashed drainer cannot strand them.
	ReleaseExpiredLeases(ctx context.Context) (int64, error)

	MarkSent(ctx context.Context, id uuid.UUID) error

	// MarkFailedAttempt increments attempts and either releases the row for a
	// later pass or marks it terminally failed once the attempt bound is hit.
	MarkFailedAttempt(ctx context.Context, id uuid.UUID, sendErr string, terminal bool) error

	Get(ctx context.Context, id uuid.UUID) (*model.QueuedNotification, error)
}

// HistoryRepository manages provider-scheduled push records.
type HistoryRepository interface {
	Create(ctx context.Context, h *model.NotificationHistory) error

	// RecentScheduled returns the most recent scheduled rows of the given type
	// for a user, newest-first, bounded by limit.
	RecentScheduled(ctx context.Context, userID uuid.UUID, historyType string, limit int) ([]*model.NotificationHistory, error)

	// MarkDelivered flips a row to delivered by its provider notification id.
	MarkDelivered(ctx context.Context, providerNotificationID string, deliveredAt time.Time) error

	Get(ctx context.Context, id uuid.UUID) (*model.NotificationHistory, error)
}

// ProfileRepository resolves user display names for notification content.
type ProfileRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Profile, error)
}

// DocumentRepository reads expiring documents for ownership checks.
type DocumentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
}
