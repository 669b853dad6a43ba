package presence

import (
	"context"
	"sync"
	"time"

	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/messaging"
	"github.com/waktihq/notify/pkg/metrics"
)

// Tracker maintains one user's membership in the shared presence channel: it
// tracks own presence on start, re-tracks on a heartbeat while active, and
// exposes the derived view of everyone else through its Registry. One tracker
// per connected client; writes are scoped to the tracker's own user id, so no
// cross-client coordination is needed.
type Tracker struct {
	*Registry

	userID string
	logger *logger.Logger

	mu     sync.RWMutex
	active bool
	typing bool

	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

func NewTracker(broker messaging.Broker, userID string, log *logger.Logger, m *metrics.Metrics) *Tracker {
	return &Tracker{
		Registry: NewRegistry(broker, log, m),
		userID:   userID,
		logger:   log,
		active:   true,
	}
}

// UserID returns the identity this tracker publishes as.
func (t *Tracker) UserID() string {
	return t.userID
}

// Start subscribes, immediately tracks own presence, and begins the
// heartbeat.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.Registry.Start(ctx); err != nil {
		return err
	}

	if err := t.TrackUser(ctx, t.userID, false); err != nil {
		t.logger.Error(err, "initial presence track failed")
	}

	hbCtx, cancel := context.WithCancel(ctx)
	t.hbCancel = cancel
	t.hbDone = make(chan struct{})
	go t.heartbeat(hbCtx)
	return nil
}

// Stop publishes a leave event and tears everything down.
func (t *Tracker) Stop() {
	if t.hbCancel != nil {
		t.hbCancel()
		<-t.hbDone
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.LeaveUser(ctx, t.userID); err != nil {
		t.logger.Error(err, "presence leave publish failed")
	}

	t.Registry.Stop()
}

// Pause suspends the heartbeat, modelling a backgrounded client. The entry
// stays in the registry but its last_seen goes stale, so the freshness window
// takes the user offline without a server-side TTL.
func (t *Tracker) Pause() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// Resume restarts the heartbeat and refreshes own presence right away.
func (t *Tracker) Resume(ctx context.Context) {
	t.mu.Lock()
	t.active = true
	typing := t.typing
	t.mu.Unlock()

	if err := t.TrackUser(ctx, t.userID, typing); err != nil {
		t.logger.Error(err, "presence resume track failed")
	}
}

// SetTyping publishes own presence with the updated typing flag and a
// refreshed last_seen, plus the edge-triggered typing broadcast.
func (t *Tracker) SetTyping(ctx context.Context, typing bool) error {
	t.mu.Lock()
	t.typing = typing
	t.mu.Unlock()
	return t.BroadcastTyping(ctx, t.userID, typing)
}

func (t *Tracker) heartbeat(ctx context.Context) {
	defer close(t.hbDone)

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.RLock()
			active := t.active
			typing := t.typing
			t.mu.RUnlock()
			if !active {
				continue
			}
			if err := t.TrackUser(ctx, t.userID, typing); err != nil {
				// Best-effort: a missed heartbeat degrades to "recently
				// active" for peers, nothing to surface.
				t.logger.Debug("presence heartbeat failed", "error", err.Error())
			}
		}
	}
}
