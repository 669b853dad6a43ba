package events

import (
	"context"
	"encoding/json"
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

type fakeBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{subs: map[string][]chan []byte{}}
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.mu.Lock()
	subs := append([]chan []byte(nil), b.subs[channel]...)
	b.mu.Unlock()
	for _, ch := range subs {
		ch <- payload
	}
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *fakeBroker) Close() error { return nil }

type fakePusher struct {
	mu       sync.Mutex
	sent     []*push.Notification
	sendErr  error
	readyErr error
}

func (p *fakePusher) Send(ctx context.Context, n *push.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return "", p.sendErr
	}
	p.sent = append(p.sent, n)
	return uuid.NewString(), nil
}

func (p *fakePusher) Cancel(ctx context.Context, id string) error { return nil }

func (p *fakePusher) Ready(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyErr
}

func (p *fakePusher) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePusher) lastSent() *push.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return nil
	}
	return p.sent[len(p.sent)-1]
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]*model.Profile
	lookups  int
}

func (r *fakeProfileRepo) Get(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s not found", id)
	}
	return p, nil
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startRouter(t *testing.T, broker *fakeBroker, pusher *fakePusher, profiles *fakeProfileRepo) *Router {
	t.Helper()
	if profiles == nil {
		profiles = &fakeProfileRepo{profiles: map[uuid.UUID]*model.Profile{}}
	}
	r := NewRouter(broker, pusher, profiles, Config{
		ReadyTimeout:  time.Second,
		ReadyInterval: 10 * time.Millisecond,
	}, testLogger(), nil)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Close)
	return r
}

func TestMessageInsertPushesToRecipient(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{}
	sender := uuid.New()
	profiles := &fakeProfileRepo{profiles: map[uuid.UUID]*model.Profile{
		sender: {ID: sender, DisplayName: "Alice"},
	}}
	startRouter(t, broker, pusher, profiles)

	recipient := uuid.New()
	require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
		ID:          uuid.New(),
		SenderID:    sender,
		RecipientID: recipient,
	}))

	waitFor(t, func() bool { return pusher.sentCount() == 1 })
	n := pusher.lastSent()
	assert.Equal(t, recipient.String(), n.ExternalUserID)
	assert.Equal(t, "New message", n.Title)
	assert.Equal(t, "Alice sent you a message", n.Body)
	assert.Equal(t, "/messages", n.DeepLink)
	assert.Equal(t, "message", n.Data["type"])
}

func TestMessageInsertUnknownSenderFallsBack(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{}
	startRouter(t, broker, pusher, nil)

	require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
	}))

	waitFor(t, func() bool { return pusher.sentCount() == 1 })
	assert.Equal(t, "Someone sent you a message", pusher.lastSent().Body)
}

func TestContactInsertOnlyPendingNotifies(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{}
	startRouter(t, broker, pusher, nil)

	target := uuid.New()
	for _, status := range []string{"accepted", "blocked", ""} {
		require.NoError(t, broker.Publish(context.Background(), ChannelContactInserts, ContactInsert{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			ContactID: target,
			Status:    status,
		}))
	}

	require.NoError(t, broker.Publish(context.Background(), ChannelContactInserts, ContactInsert{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		ContactID: target,
		Status:    "pending",
	}))

	waitFor(t, func() bool { return pusher.sentCount() == 1 })
	n := pusher.lastSent()
	assert.Equal(t, target.String(), n.ExternalUserID)
	assert.Equal(t, "Contact request", n.Title)
	assert.Equal(t, "contact_request", n.Data["type"])
	assert.Equal(t, "/contacts", n.DeepLink)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{}
	startRouter(t, broker, pusher, nil)

	broker.mu.Lock()
	ch := broker.subs[ChannelMessageInserts][0]
	broker.mu.Unlock()
	ch <- []byte("garbage")

	// A good event after the bad one still gets through
	require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
	}))
	waitFor(t, func() bool { return pusher.sentCount() == 1 })
}

func TestSendFailureIsDroppedNotRetried(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{sendErr: errors.New("provider 500")}
	startRouter(t, broker, pusher, nil)

	require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
	}))

	// Give the consumer time to process, then verify nothing was sent and
	// the router is still alive for the next event.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, pusher.sentCount())

	pusher.mu.Lock()
	pusher.sendErr = nil
	pusher.mu.Unlock()
	require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
		ID:          uuid.New(),
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
	}))
	waitFor(t, func() bool { return pusher.sentCount() == 1 })
}

func TestActorNameIsCached(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{}
	sender := uuid.New()
	profiles := &fakeProfileRepo{profiles: map[uuid.UUID]*model.Profile{
		sender: {ID: sender, DisplayName: "Alice"},
	}}
	startRouter(t, broker, pusher, profiles)

	for i := 0; i < 3; i++ {
		require.NoError(t, broker.Publish(context.Background(), ChannelMessageInserts, MessageInsert{
			ID:          uuid.New(),
			SenderID:    sender,
			RecipientID: uuid.New(),
		}))
	}

	waitFor(t, func() bool { return pusher.sentCount() == 3 })
	profiles.mu.Lock()
	lookups := profiles.lookups
	profiles.mu.Unlock()
	assert.Equal(t, 1, lookups)
}

func TestStartFailsWhenProviderNeverReady(t *testing.T) {
	broker := newFakeBroker()
	pusher := &fakePusher{readyErr: errors.New("down")}
	profiles := &fakeProfileRepo{profiles: map[uuid.UUID]*model.Profile{}}
	r := NewRouter(broker, pusher, profiles, Config{
		ReadyTimeout:  100 * time.Millisecond,
		ReadyInterval: 10 * time.Millisecond,
	}, testLogger(), nil)

	err := r.Start(context.Background())
	assert.Error(t, err)
}
