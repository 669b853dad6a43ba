package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/repository"
	"github.com/waktihq/notify/pkg/errors"
	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/metrics"
	"github.com/waktihq/notify/pkg/push"
)

// pastTolerance is how far in the past a delivery instant may lie before the
// request is rejected. Prevents a stale "future" reminder from blasting out
// immediately.
const pastTolerance = 60 * time.Second

// rescheduleScanWindow bounds the history scan when looking for a previously
// scheduled doc-expiry push.
const rescheduleScanWindow = 10

// deliveryHour pins doc-expiry reminders to 09:00 local-equivalent.
const deliveryHour = 9

type ReminderRequest struct {
	UserID       uuid.UUID
	Title        string
	Body         string
	Data         model.JSONMap
	DeepLink     string
	ScheduledFor time.Time
}

type DocExpiryRequest struct {
	UserID     uuid.UUID
	DocID      uuid.UUID
	DocName    string
	ExpiryDate time.Time
}

type Service interface {
	// ScheduleReminder hands one future push to the provider's own timer and
	// records the provider id for later cancellation.
	ScheduleReminder(ctx context.Context, req *ReminderRequest) (*model.NotificationHistory, error)

	// ScheduleDocExpiry schedules a reminder one month before the document
	// expires, at 09:00. The document must belong to the calling user.
	ScheduleDocExpiry(ctx context.Context, req *DocExpiryRequest) (*model.NotificationHistory, error)

	// RescheduleDocExpiry cancels the previously scheduled push for the
	// document, best-effort, and always schedules a fresh one.
	RescheduleDocExpiry(ctx context.Context, userID, docID uuid.UUID, newExpiry time.Time) (*model.NotificationHistory, error)

	// ConfirmDelivered flips the matching history row to delivered when the
	// provider's delivery webhook reports it.
	ConfirmDelivered(ctx context.Context, providerNotificationID string, deliveredAt time.Time) error
}

type service struct {
	history repository.HistoryRepository
	docs    repository.DocumentRepository
	pusher  push.Client
	loc     *time.Location
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(
	history repository.HistoryRepository,
	docs repository.DocumentRepository,
	pusher push.Client,
	loc *time.Location,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	if loc == nil {
		loc = time.UTC
	}
	return &service{
		history: history,
		docs:    docs,
		pusher:  pusher,
		loc:     loc,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *service) ScheduleReminder(ctx context.Context, req *ReminderRequest) (*model.NotificationHistory, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.BadRequest("user id is required", nil)
	}
	if req.Title == "" {
		return nil, errors.BadRequest("title is required", nil)
	}
	if req.ScheduledFor.IsZero() {
		return nil, errors.BadRequest("scheduled_for is required", nil)
	}
	if err := s.checkNotStale(req.ScheduledFor); err != nil {
		return nil, err
	}

	data := model.JSONMap{}
	for k, v := range req.Data {
		data[k] = v
	}
	data["type"] = model.HistoryTypeReminder

	return s.schedule(ctx, &model.NotificationHistory{
		UserID:       req.UserID,
		Type:         model.HistoryTypeReminder,
		Title:        req.Title,
		Body:         req.Body,
		Data:         data,
		ScheduledFor: req.ScheduledFor,
	}, req.DeepLink)
}

func (s *service) ScheduleDocExpiry(ctx context.Context, req *DocExpiryRequest) (*model.NotificationHistory, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.BadRequest("user id is required", nil)
	}
	if req.DocID == uuid.Nil {
		return nil, errors.BadRequest("doc id is required", nil)
	}
	if req.ExpiryDate.IsZero() {
		return nil, errors.BadRequest("expiry date is required", nil)
	}

	// Ownership check beyond row-level security: this service runs with
	// elevated credentials, so the caller's claim over the document is
	// verified here too.
	doc, err := s.docs.Get(ctx, req.DocID)
	if err != nil {
		return nil, errors.NotFound("document", err)
	}
	if doc.UserID != req.UserID {
		return nil, errors.Forbidden("document does not belong to user", nil)
	}

	deliverAt := s.docExpiryDeliveryTime(req.ExpiryDate)
	if err := s.checkNotStale(deliverAt); err != nil {
		return nil, err
	}

	name := req.DocName
	if name == "" {
		name = doc.Name
	}

	return s.schedule(ctx, &model.NotificationHistory{
		UserID: req.UserID,
		Type:   model.HistoryTypeDocExpiry,
		Title:  "Document expiring soon",
		Body:   fmt.Sprintf("%s expires on %s", name, req.ExpiryDate.Format("Jan 2, 2006")),
		Data: model.JSONMap{
			"type":             model.HistoryTypeDocExpiry,
			model.DataKeyDocID: req.DocID.String(),
			"expiry_date":      req.ExpiryDate.Format(time.RFC3339),
			"document_name":    name,
		},
		ScheduledFor: deliverAt,
	}, "/documents")
}

func (s *service) RescheduleDocExpiry(ctx context.Context, userID, docID uuid.UUID, newExpiry time.Time) (*model.NotificationHistory, error) {
	if userID == uuid.Nil || docID == uuid.Nil {
		return nil, errors.BadRequest("user id and doc id are required", nil)
	}

	// Linear scan over a small fixed window of the newest scheduled rows.
	recent, err := s.history.RecentScheduled(ctx, userID, model.HistoryTypeDocExpiry, rescheduleScanWindow)
	if err != nil {
		s.logger.Error(err, "history scan for reschedule failed", "doc_id", docID.String())
	}
	for _, h := range recent {
		if h.DocID() != docID.String() {
			continue
		}
		providerID := h.ProviderNotificationID()
		if providerID == "" {
			break
		}
		// Cancellation is best-effort: a failure can leave a stale duplicate
		// at the provider, but never blocks the new schedule.
		if err := s.pusher.Cancel(ctx, providerID); err != nil {
			if s.metrics != nil {
				s.metrics.PushCancels.WithLabelValues("error").Inc()
			}
			s.logger.Error(err, "failed to cancel scheduled push",
				"provider_notification_id", providerID, "doc_id", docID.String())
		} else if s.metrics != nil {
			s.metrics.PushCancels.WithLabelValues("success").Inc()
		}
		break
	}

	return s.ScheduleDocExpiry(ctx, &DocExpiryRequest{
		UserID:     userID,
		DocID:      docID,
		ExpiryDate: newExpiry,
	})
}

func (s *service) ConfirmDelivered(ctx context.Context, providerNotificationID string, deliveredAt time.Time) error {
	if providerNotificationID == "" {
		return errors.BadRequest("provider notification id is required", nil)
	}
	if deliveredAt.IsZero() {
		deliveredAt = s.now()
	}
	if err := s.history.MarkDelivered(ctx, providerNotificationID, deliveredAt); err != nil {
		return errors.NotFound("scheduled notification", err)
	}
	return nil
}

// schedule hands delivery to the provider's timer, then persists the history
// row carrying the provider's handle. The row's status is scheduled, not
// delivered: the provider owns delivery from here.
func (s *service) schedule(ctx context.Context, h *model.NotificationHistory, deepLink string) (*model.NotificationHistory, error) {
	sendAfter := h.ScheduledFor
	providerID, err := s.pusher.Send(ctx, &push.Notification{
		ExternalUserID: h.UserID.String(),
		Title:          h.Title,
		Body:           h.Body,
		Data:           h.Data,
		DeepLink:       deepLink,
		SendAfter:      &sendAfter,
	})
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.PushRequests.WithLabelValues("scheduled", status).Inc()
	}
	if err != nil {
		return nil, errors.Upstream("push provider", err)
	}

	h.Data[model.DataKeyProviderNotificationID] = providerID
	if err := s.history.Create(ctx, h); err != nil {
		return nil, errors.Internal(err)
	}

	s.logger.Info("scheduled push handed to provider",
		"type", h.Type, "user_id", h.UserID.String(),
		"scheduled_for", h.ScheduledFor, "provider_notification_id", providerID)
	return h, nil
}

func (s *service) checkNotStale(at time.Time) error {
	if s.now().Sub(at) > pastTolerance {
		return errors.BadRequest(
			fmt.Sprintf("scheduled time %s is more than %s in the past", at.Format(time.RFC3339), pastTolerance), nil)
	}
	return nil
}

// docExpiryDeliveryTime is the expiry date minus one month, pinned to 09:00
// in the configured location.
func (s *service) docExpiryDeliveryTime(expiry time.Time) time.Time {
	target := expiry.In(s.loc).AddDate(0, -1, 0)
	return time.Date(target.Year(), target.Month(), target.Day(), deliveryHour, 0, 0, 0, s.loc)
}
