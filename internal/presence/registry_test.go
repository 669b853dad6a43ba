package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waktihq/notify/pkg/logger"
)

// fakeBroker loops published messages straight back to subscribers.
type fakeBroker struct {
	mu   sync.Mutex
	subs map[string][]chan []byte

	published []fakeMessage
}

type fakeMessage struct {
	channel string
	payload []byte
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
	b.published = append(b.published, fakeMessage{channel: channel, payload: payload})
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

func (b *fakeBroker) publishedOn(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.published {
		if m.channel == channel {
			n++
		}
	}
	return n
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

func TestRegistryTrackMakesUserOnline(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.TrackUser(context.Background(), "alice", false))

	waitFor(t, func() bool { return reg.IsOnline("alice") })
	assert.Equal(t, "Active now", reg.LastSeenLabel("alice"))
	assert.Contains(t, reg.OnlineUserIDs(), "alice")
}

func TestRegistryStaleMemberGoesOffline(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.TrackUser(context.Background(), "alice", false))
	waitFor(t, func() bool { return reg.IsOnline("alice") })

	// Move the clock past the freshness window without a leave event
	reg.now = func() time.Time { return time.Now().Add(FreshnessWindow + time.Second) }

	assert.False(t, reg.IsOnline("alice"))
	assert.Equal(t, "Active recently", reg.LastSeenLabel("alice"))
	assert.Empty(t, reg.OnlineUserIDs())
}

func TestRegistryLastSeenLabels(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.TrackUser(context.Background(), "alice", false))
	waitFor(t, func() bool { return reg.IsOnline("alice") })

	base := time.Now()
	cases := []struct {
		offset time.Duration
		label  string
	}{
		{30 * time.Second, "Active now"},
		{3 * time.Minute, "Active recently"},
		{30 * time.Minute, "Last seen 30m ago"},
		{5 * time.Hour, "Last seen 5h ago"},
		{3 * 24 * time.Hour, "Last seen 3d ago"},
	}
	for _, tc := range cases {
		reg.now = func() time.Time { return base.Add(tc.offset) }
		assert.Equal(t, tc.label, reg.LastSeenLabel("alice"))
	}

	assert.Equal(t, "Offline", reg.LastSeenLabel("nobody"))
}

func TestRegistryLeaveRemovesUser(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.TrackUser(context.Background(), "alice", false))
	waitFor(t, func() bool { return reg.IsOnline("alice") })

	require.NoError(t, reg.LeaveUser(context.Background(), "alice"))
	waitFor(t, func() bool { return !reg.IsOnline("alice") })
	assert.Equal(t, "Offline", reg.LastSeenLabel("alice"))
}

func TestRegistryTypingRoundTrip(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.BroadcastTyping(context.Background(), "alice", true))
	waitFor(t, func() bool { return reg.IsTyping("alice") })

	// The broadcast also refreshes presence
	assert.True(t, reg.IsOnline("alice"))

	require.NoError(t, reg.BroadcastTyping(context.Background(), "alice", false))
	waitFor(t, func() bool { return !reg.IsTyping("alice") })
	assert.True(t, reg.IsOnline("alice"))
}

func TestRegistryIgnoresMalformedEvents(t *testing.T) {
	broker := newFakeBroker()
	reg := NewRegistry(broker, testLogger(), nil)

	require.NoError(t, reg.Start(context.Background()))
	defer reg.Stop()

	require.NoError(t, reg.TrackUser(context.Background(), "alice", false))
	waitFor(t, func() bool { return reg.IsOnline("alice") })

	broker.mu.Lock()
	subs := append([]chan []byte(nil), broker.subs[Channel]...)
	broker.mu.Unlock()
	for _, ch := range subs {
		ch <- []byte("garbage")
	}

	// The registry keeps serving the last good snapshot
	waitFor(t, func() bool { return reg.IsOnline("alice") })
}

func TestTrackerLifecycle(t *testing.T) {
	broker := newFakeBroker()
	tracker := NewTracker(broker, "alice", testLogger(), nil)

	require.NoError(t, tracker.Start(context.Background()))

	// Start publishes the initial track
	waitFor(t, func() bool { return tracker.IsOnline("alice") })

	require.NoError(t, tracker.SetTyping(context.Background(), true))
	waitFor(t, func() bool { return tracker.IsTyping("alice") })

	tracker.Stop()
	assert.GreaterOrEqual(t, broker.publishedOn(Channel), 3)
}
