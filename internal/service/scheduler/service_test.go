package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/push"
)

type fakeHistoryRepo struct {
	mu   sync.Mutex
	rows []*model.NotificationHistory

	markDeliveredErr error
}

func (r *fakeHistoryRepo) Create(ctx context.Context, h *model.NotificationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.Status = model.HistoryStatusScheduled
	h.ScheduledAt = time.Now()
	r.rows = append(r.rows, h)
	return nil
}

func (r *fakeHistoryRepo) RecentScheduled(ctx context.Context, userID uuid.UUID, historyType string, limit int) ([]*model.NotificationHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.NotificationHistory
	for i := len(r.rows) - 1; i >= 0 && len(out) < limit; i-- {
		h := r.rows[i]
		if h.UserID == userID && h.Type == historyType && h.Status == model.HistoryStatusScheduled {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) MarkDelivered(ctx context.Context, providerNotificationID string, deliveredAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markDeliveredErr != nil {
		return r.markDeliveredErr
	}
	for _, h := range r.rows {
		if h.ProviderNotificationID() == providerNotificationID {
			h.Status = model.HistoryStatusDelivered
			at := deliveredAt
			h.DeliveredAt = &at
			return nil
		}
	}
	return fmt.Errorf("no scheduled row with provider id %s", providerNotificationID)
}

func (r *fakeHistoryRepo) Get(ctx context.Context, id uuid.UUID) (*model.NotificationHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.rows {
		if h.ID == id {
			return h, nil
		}
	}
	return nil, fmt.Errorf("history %s not found", id)
}

type fakeDocumentRepo struct {
	docs map[uuid.UUID]*model.Document
}

func (r *fakeDocumentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return d, nil
}

type fakePusher struct {
	mu        sync.Mutex
	sent      []*push.Notification
	cancelled []string
	sendErr   error
	cancelErr error
	nextID    int
}

func (p *fakePusher) Send(ctx context.Context, n *push.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, n)
	p.nextID++
	return fmt.Sprintf("provider-%d", p.nextID), nil
}

func (p *fakePusher) Cancel(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return p.cancelErr
	}
	p.cancelled = append(p.cancelled, id)
	return nil
}

func (p *fakePusher) Ready(ctx context.Context) error { return nil }

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel})
}

func newTestService(history *fakeHistoryRepo, docs *fakeDocumentRepo, pusher *fakePusher) *service {
	if docs == nil {
		docs = &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{}}
	}
	svc := NewService(history, docs, pusher, time.UTC, testLogger(), nil)
	return svc.(*service)
}

func TestScheduleReminder(t *testing.T) {
	history := &fakeHistoryRepo{}
	pusher := &fakePusher{}
	svc := newTestService(history, nil, pusher)

	userID := uuid.New()
	when := time.Now().Add(2 * time.Hour)

	h, err := svc.ScheduleReminder(context.Background(), &ReminderRequest{
		UserID:       userID,
		Title:        "Meeting",
		Body:         "Standup soon",
		ScheduledFor: when,
	})
	require.NoError(t, err)

	assert.Equal(t, model.HistoryStatusScheduled, h.Status)
	assert.Equal(t, model.HistoryTypeReminder, h.Type)
	assert.Equal(t, "provider-1", h.ProviderNotificationID())

	// Delivery timing is the provider's job, carried on the send itself
	require.Len(t, pusher.sent, 1)
	require.NotNil(t, pusher.sent[0].SendAfter)
	assert.Equal(t, when, *pusher.sent[0].SendAfter)
	assert.Equal(t, userID.String(), pusher.sent[0].ExternalUserID)
}

func TestScheduleReminderPastTolerance(t *testing.T) {
	svc := newTestService(&fakeHistoryRepo{}, nil, &fakePusher{})
	base := time.Now()
	svc.now = func() time.Time { return base }

	// 59s in the past is inside tolerance
	_, err := svc.ScheduleReminder(context.Background(), &ReminderRequest{
		UserID:       uuid.New(),
		Title:        "Just late",
		ScheduledFor: base.Add(-59 * time.Second),
	})
	assert.NoError(t, err)

	// 61s in the past is not
	_, err = svc.ScheduleReminder(context.Background(), &ReminderRequest{
		UserID:       uuid.New(),
		Title:        "Too late",
		ScheduledFor: base.Add(-61 * time.Second),
	})
	assert.Error(t, err)
}

func TestScheduleReminderProviderFailureIsNotRecorded(t *testing.T) {
	history := &fakeHistoryRepo{}
	pusher := &fakePusher{sendErr: errors.New("provider 500")}
	svc := newTestService(history, nil, pusher)

	_, err := svc.ScheduleReminder(context.Background(), &ReminderRequest{
		UserID:       uuid.New(),
		Title:        "Meeting",
		ScheduledFor: time.Now().Add(time.Hour),
	})
	assert.Error(t, err)
	assert.Empty(t, history.rows)
}

func TestScheduleDocExpiry(t *testing.T) {
	userID := uuid.New()
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: userID, Name: "Passport"},
	}}
	history := &fakeHistoryRepo{}
	pusher := &fakePusher{}
	svc := newTestService(history, docs, pusher)

	expiry := time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)
	h, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     userID,
		DocID:      docID,
		ExpiryDate: expiry,
	})
	require.NoError(t, err)

	// One month before expiry at 09:00
	assert.Equal(t, time.Date(2027, 2, 15, 9, 0, 0, 0, time.UTC), h.ScheduledFor)
	assert.Equal(t, model.HistoryTypeDocExpiry, h.Type)
	assert.Equal(t, docID.String(), h.DocID())
	assert.Contains(t, h.Body, "Passport")
}

func TestScheduleDocExpiryOwnership(t *testing.T) {
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: uuid.New(), Name: "Passport"},
	}}
	svc := newTestService(&fakeHistoryRepo{}, docs, &fakePusher{})

	_, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     uuid.New(),
		DocID:      docID,
		ExpiryDate: time.Now().AddDate(0, 3, 0),
	})
	assert.Error(t, err)
}

func TestScheduleDocExpiryUnknownDocument(t *testing.T) {
	svc := newTestService(&fakeHistoryRepo{}, nil, &fakePusher{})

	_, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     uuid.New(),
		DocID:      uuid.New(),
		ExpiryDate: time.Now().AddDate(0, 3, 0),
	})
	assert.Error(t, err)
}

func TestScheduleDocExpiryTooClose(t *testing.T) {
	userID := uuid.New()
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: userID, Name: "Visa"},
	}}
	svc := newTestService(&fakeHistoryRepo{}, docs, &fakePusher{})

	// Expiring in a week: the one-month-before slot is already past
	_, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     userID,
		DocID:      docID,
		ExpiryDate: time.Now().AddDate(0, 0, 7),
	})
	assert.Error(t, err)
}

func TestRescheduleDocExpiry(t *testing.T) {
	userID := uuid.New()
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: userID, Name: "Passport"},
	}}
	history := &fakeHistoryRepo{}
	pusher := &fakePusher{}
	svc := newTestService(history, docs, pusher)

	_, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     userID,
		DocID:      docID,
		ExpiryDate: time.Now().AddDate(0, 3, 0),
	})
	require.NoError(t, err)

	h, err := svc.RescheduleDocExpiry(context.Background(), userID, docID, time.Now().AddDate(0, 6, 0))
	require.NoError(t, err)

	// The old provider schedule was cancelled and a new one created
	assert.Equal(t, []string{"provider-1"}, pusher.cancelled)
	assert.Equal(t, "provider-2", h.ProviderNotificationID())
}

func TestRescheduleDocExpiryCancelFailureStillSchedules(t *testing.T) {
	userID := uuid.New()
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: userID, Name: "Passport"},
	}}
	history := &fakeHistoryRepo{}
	pusher := &fakePusher{}
	svc := newTestService(history, docs, pusher)

	_, err := svc.ScheduleDocExpiry(context.Background(), &DocExpiryRequest{
		UserID:     userID,
		DocID:      docID,
		ExpiryDate: time.Now().AddDate(0, 3, 0),
	})
	require.NoError(t, err)

	pusher.cancelErr = errors.New("provider 500")
	h, err := svc.RescheduleDocExpiry(context.Background(), userID, docID, time.Now().AddDate(0, 6, 0))
	require.NoError(t, err)
	assert.Equal(t, "provider-2", h.ProviderNotificationID())
}

func TestRescheduleDocExpiryNoPriorSchedule(t *testing.T) {
	userID := uuid.New()
	docID := uuid.New()
	docs := &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{
		docID: {ID: docID, UserID: userID, Name: "Passport"},
	}}
	pusher := &fakePusher{}
	svc := newTestService(&fakeHistoryRepo{}, docs, pusher)

	h, err := svc.RescheduleDocExpiry(context.Background(), userID, docID, time.Now().AddDate(0, 6, 0))
	require.NoError(t, err)
	assert.Empty(t, pusher.cancelled)
	assert.NotEmpty(t, h.ProviderNotificationID())
}

func TestConfirmDelivered(t *testing.T) {
	history := &fakeHistoryRepo{}
	svc := newTestService(history, nil, &fakePusher{})

	h, err := svc.ScheduleReminder(context.Background(), &ReminderRequest{
		UserID:       uuid.New(),
		Title:        "Meeting",
		ScheduledFor: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	deliveredAt := time.Now()
	require.NoError(t, svc.ConfirmDelivered(context.Background(), h.ProviderNotificationID(), deliveredAt))

	got, err := history.Get(context.Background(), h.ID)
	require.NoError(t, err)
	assert.Equal(t, model.HistoryStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
}

func TestConfirmDeliveredUnknownID(t *testing.T) {
	svc := newTestService(&fakeHistoryRepo{}, nil, &fakePusher{})
	assert.Error(t, svc.ConfirmDelivered(context.Background(), "missing", time.Now()))
	assert.Error(t, svc.ConfirmDelivered(context.Background(), "", time.Now()))
}

func TestDocExpiryDeliveryTimeTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Dubai")
	require.NoError(t, err)
	svc := NewService(&fakeHistoryRepo{}, &fakeDocumentRepo{docs: map[uuid.UUID]*model.Document{}}, &fakePusher{}, loc, testLogger(), nil).(*service)

	expiry := time.Date(2027, 3, 31, 0, 0, 0, 0, time.UTC)
	got := svc.docExpiryDeliveryTime(expiry)

	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 9, got.Hour())
	assert.Equal(t, time.March, got.Month())
}
