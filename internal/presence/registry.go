package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/messaging"
	"github.com/waktihq/notify/pkg/metrics"
)

// Registry observes the shared presence channel and derives liveness for any
// user from the received event stream. It never publishes on its own; writes
// go through a Tracker or the relay helpers.
type Registry struct {
	broker  messaging.Broker
	logger  *logger.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	state State

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

func NewRegistry(broker messaging.Broker, log *logger.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		broker:  broker,
		logger:  log,
		metrics: m,
		state:   NewState(),
		now:     time.Now,
	}
}

// Start subscribes to the presence channel and begins reducing events into
// the registry snapshot.
func (r *Registry) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	events, err := r.broker.Subscribe(ctx, Channel)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe presence channel: %w", err)
	}

	go r.run(ctx, events)
	return nil
}

func (r *Registry) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Registry) run(ctx context.Context, events <-chan []byte) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			r.apply(raw)
		}
	}
}

func (r *Registry) apply(raw []byte) {
	ev, err := decodeEvent(raw)
	if err != nil {
		r.logger.Debug("dropping malformed presence event", "error", err.Error())
		return
	}

	r.mu.Lock()
	r.state = Apply(r.state, ev)
	online := len(r.state.OnlineAt(r.now()))
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PresenceEvents.WithLabelValues(string(ev.Type)).Inc()
		r.metrics.PresenceOnlineUsers.Set(float64(online))
	}
}

// IsOnline reports membership AND freshness: a registered user whose
// last_seen exceeds the freshness window is offline even though the registry
// still lists them.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	rec, ok := r.state.Members[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.now().Sub(rec.LastSeen) <= FreshnessWindow
}

// IsTyping reports the last received typing broadcast for the user.
func (r *Registry) IsTyping(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Typing[userID]
}

// OnlineUserIDs returns all users currently considered online.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.OnlineAt(r.now())
}

// LastSeenLabel renders a human-readable liveness string for the user.
func (r *Registry) LastSeenLabel(userID string) string {
	r.mu.RLock()
	rec, ok := r.state.Members[userID]
	r.mu.RUnlock()
	if !ok {
		return "Offline"
	}

	age := r.now().Sub(rec.LastSeen)
	switch {
	case age <= FreshnessWindow:
		return "Active now"
	case age <= RecentWindow:
		return "Active recently"
	case age < time.Hour:
		return fmt.Sprintf("Last seen %dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("Last seen %dh ago", int(age.Hours()))
	default:
		return fmt.Sprintf("Last seen %dd ago", int(age.Hours()/24))
	}
}

// Snapshot returns a copy of the current presence state.
func (r *Registry) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := State{
		Members: make(map[string]Record, len(r.state.Members)),
		Typing:  make(map[string]bool, len(r.state.Typing)),
	}
	for k, v := range r.state.Members {
		snap.Members[k] = v
	}
	for k, v := range r.state.Typing {
		snap.Typing[k] = v
	}
	return snap
}

// TrackUser publishes a presence track on behalf of a user. The API server
// relays client heartbeats into the channel with this.
func (r *Registry) TrackUser(ctx context.Context, userID string, typing bool) error {
	ev := Event{
		Type: EventTrack,
		Record: Record{
			UserID:   userID,
			Typing:   typing,
			LastSeen: r.now(),
		},
	}
	return r.broker.Publish(ctx, Channel, ev)
}

// BroadcastTyping publishes the edge-triggered typing event on behalf of a
// user and refreshes their presence entry.
func (r *Registry) BroadcastTyping(ctx context.Context, userID string, typing bool) error {
	ev := Event{Type: EventTyping, Record: Record{UserID: userID, Typing: typing}}
	if err := r.broker.Publish(ctx, Channel, ev); err != nil {
		return fmt.Errorf("publish typing event: %w", err)
	}
	return r.TrackUser(ctx, userID, typing)
}

// LeaveUser publishes a leave event on behalf of a user.
func (r *Registry) LeaveUser(ctx context.Context, userID string) error {
	ev := Event{Type: EventLeave, Record: Record{UserID: userID}}
	return r.broker.Publish(ctx, Channel, ev)
}
