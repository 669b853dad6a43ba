package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueStatus is the lifecycle state of a queued notification.
// Transitions: pending -> processing -> sent | failed | pending (retry).
// sent and failed are terminal.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// Delivery channels for queued notifications
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// MaxAttempts is the bound after which a queued notification is terminal.
const MaxAttempts = 3

// JSONMap is a jsonb column decoded into a map.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}

func (m JSONMap) GetString(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// QueuedNotification is a durable "send this, roughly now" row drained by the
// queue worker.
type QueuedNotification struct {
	ID               uuid.UUID   `db:"id" json:"id"`
	UserID           uuid.UUID   `db:"user_id" json:"user_id"`
	NotificationType string      `db:"notification_type" json:"notification_type"`
	Channel          string      `db:"channel" json:"channel"`
	Title            string      `db:"title" json:"title"`
	Body             string      `db:"body" json:"body"`
	Data             JSONMap     `db:"data" json:"data,omitempty"`
	DeepLink         string      `db:"deep_link" json:"deep_link,omitempty"`
	ScheduledFor     time.Time   `db:"scheduled_for" json:"scheduled_for"`
	Status           QueueStatus `db:"status" json:"status"`
	Attempts         int         `db:"attempts" json:"attempts"`
	ClaimedBy        *string     `db:"claimed_by" json:"claimed_by,omitempty"`
	LeaseExpiresAt   *time.Time  `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	LastError        *string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	SentAt           *time.Time  `db:"sent_at" json:"sent_at,omitempty"`
}

// HistoryStatus tracks a scheduled push through the provider.
// scheduled means "handed to the provider's durable timer", not delivered;
// delivered is set only when the provider's delivery webhook confirms it.
type HistoryStatus string

const (
	HistoryStatusScheduled HistoryStatus = "scheduled"
	HistoryStatusDelivered HistoryStatus = "delivered"
)

// History row types
const (
	HistoryTypeReminder  = "reminder"
	HistoryTypeDocExpiry = "doc_expiry"
)

// Data keys on history rows
const (
	DataKeyProviderNotificationID = "onesignal_notification_id"
	DataKeyDocID                  = "doc_id"
)

// NotificationHistory records a push whose delivery timing was delegated to
// the provider's scheduler.
type NotificationHistory struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	UserID       uuid.UUID     `db:"user_id" json:"user_id"`
	Type         string        `db:"type" json:"type"`
	Title        string        `db:"title" json:"title"`
	Body         string        `db:"body" json:"body"`
	Data         JSONMap       `db:"data" json:"data,omitempty"`
	ScheduledFor time.Time     `db:"scheduled_for" json:"scheduled_for"`
	Status       HistoryStatus `db:"status" json:"status"`
	ScheduledAt  time.Time     `db:"scheduled_at" json:"scheduled_at"`
	DeliveredAt  *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
}

// ProviderNotificationID returns the provider's handle for a scheduled push,
// empty when the row was never handed off.
func (h *NotificationHistory) ProviderNotificationID() string {
	return h.Data.GetString(DataKeyProviderNotificationID)
}

// DocID returns the document reference on doc_expiry rows.
func (h *NotificationHistory) DocID() string {
	return h.Data.GetString(DataKeyDocID)
}
