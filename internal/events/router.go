package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/waktihq/notify/internal/repository"
	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/messaging"
	"github.com/waktihq/notify/pkg/metrics"
	"github.com/waktihq/notify/pkg/push"
)

// Insert stream channels. Producers publish one event per database insert.
const (
	ChannelMessageInserts = "wakti.messages.insert"
	ChannelContactInserts = "wakti.contacts.insert"
)

const fallbackActorName = "Someone"

// MessageInsert mirrors a new row in the messages table.
type MessageInsert struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Preview     string    `json:"preview,omitempty"`
}

// ContactInsert mirrors a new row in the contacts table. Inserts arrive in
// any status; only pending requests notify.
type ContactInsert struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	ContactID uuid.UUID `json:"contact_id"`
	Status    string    `json:"status"`
}

// Router turns row-insert events into immediate live pushes. It bypasses the
// durable queue entirely: this path is a supplementary nudge, so every
// failure is logged and dropped, never retried. Durable delivery is the queue
// drainer's job.
type Router struct {
	broker   messaging.Broker
	pusher   push.Client
	profiles repository.ProfileRepository
	logger   *logger.Logger
	metrics  *metrics.Metrics

	nameCache *gocache.Cache

	readyTimeout  time.Duration
	readyInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	// ReadyTimeout bounds the wait for the push provider at startup. The
	// router fails init instead of polling forever.
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

func NewRouter(broker messaging.Broker, pusher push.Client, profiles repository.ProfileRepository, cfg Config, log *logger.Logger, m *metrics.Metrics) *Router {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = 100 * time.Millisecond
	}
	return &Router{
		broker:        broker,
		pusher:        pusher,
		profiles:      profiles,
		logger:        log,
		metrics:       m,
		nameCache:     gocache.New(5*time.Minute, 10*time.Minute),
		readyTimeout:  cfg.ReadyTimeout,
		readyInterval: cfg.ReadyInterval,
	}
}

// Start waits for the push provider to become ready (bounded), then
// subscribes to the insert streams. One router instance per process.
func (r *Router) Start(ctx context.Context) error {
	if err := push.WaitReady(ctx, r.pusher, r.readyTimeout, r.readyInterval); err != nil {
		return fmt.Errorf("event router: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	messages, err := r.broker.Subscribe(ctx, ChannelMessageInserts)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe message inserts: %w", err)
	}
	contacts, err := r.broker.Subscribe(ctx, ChannelContactInserts)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe contact inserts: %w", err)
	}

	r.wg.Add(2)
	go r.consume(ctx, messages, r.handleMessageInsert)
	go r.consume(ctx, contacts, r.handleContactInsert)

	r.logger.Info("event router started")
	return nil
}

// Close unsubscribes everything. Must be called on shutdown so no consumer
// stays bound to a dead context.
func (r *Router) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Router) consume(ctx context.Context, events <-chan []byte, handle func(context.Context, []byte)) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			handle(ctx, raw)
		}
	}
}

func (r *Router) handleMessageInsert(ctx context.Context, raw []byte) {
	var ev MessageInsert
	if err := json.Unmarshal(raw, &ev); err != nil {
		r.logger.Debug("dropping malformed message insert", "error", err.Error())
		return
	}
	if ev.RecipientID == uuid.Nil {
		return
	}

	sender := r.actorName(ctx, ev.SenderID)
	n := &push.Notification{
		ExternalUserID: ev.RecipientID.String(),
		Title:          "New message",
		Body:           fmt.Sprintf("%s sent you a message", sender),
		Data: map[string]interface{}{
			"type":       "message",
			"message_id": ev.ID.String(),
			"sender_id":  ev.SenderID.String(),
		},
		DeepLink: "/messages",
	}
	r.send(ctx, "message", n)
}

func (r *Router) handleContactInsert(ctx context.Context, raw []byte) {
	var ev ContactInsert
	if err := json.Unmarshal(raw, &ev); err != nil {
		r.logger.Debug("dropping malformed contact insert", "error", err.Error())
		return
	}
	if ev.Status != "pending" || ev.ContactID == uuid.Nil {
		return
	}

	requester := r.actorName(ctx, ev.UserID)
	n := &push.Notification{
		ExternalUserID: ev.ContactID.String(),
		Title:          "Contact request",
		Body:           fmt.Sprintf("%s wants to add you as a contact", requester),
		Data: map[string]interface{}{
			"type":       "contact_request",
			"contact_id": ev.ID.String(),
			"user_id":    ev.UserID.String(),
		},
		DeepLink: "/contacts",
	}
	r.send(ctx, "contact_request", n)
}

func (r *Router) send(ctx context.Context, kind string, n *push.Notification) {
	start := time.Now()
	_, err := r.pusher.Send(ctx, n)
	if r.metrics != nil {
		r.metrics.PushLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.PushRequests.WithLabelValues(kind, "error").Inc()
		}
		r.logger.Error(err, "live push failed", "kind", kind, "user_id", n.ExternalUserID)
		return
	}
	if r.metrics != nil {
		r.metrics.PushRequests.WithLabelValues(kind, "success").Inc()
	}
}

// actorName resolves a display name best-effort, cached. Any failure falls
// back to a generic label rather than blocking the push.
func (r *Router) actorName(ctx context.Context, id uuid.UUID) string {
	if id == uuid.Nil {
		return fallbackActorName
	}
	if cached, ok := r.nameCache.Get(id.String()); ok {
		return cached.(string)
	}

	profile, err := r.profiles.Get(ctx, id)
	if err != nil || profile.DisplayName == "" {
		if err != nil {
			r.logger.Debug("profile lookup failed", "user_id", id.String(), "error", err.Error())
		}
		return fallbackActorName
	}

	r.nameCache.Set(id.String(), profile.DisplayName, gocache.DefaultExpiration)
	return profile.DisplayName
}
