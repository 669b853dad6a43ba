package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/waktihq/notify/internal/email"
	"github.com/waktihq/notify/internal/model"
	"github.com/waktihq/notify/internal/repository"
	"github.com/waktihq/notify/pkg/errors"
	"github.com/waktihq/notify/pkg/logger"
	"github.com/waktihq/notify/pkg/metrics"
	"github.com/waktihq/notify/pkg/push"
)

const expiredError = "expired before dispatch"

type Config struct {
	// BatchSize caps rows per pass, bounding worst-case invocation latency.
	BatchSize int
	// Lease is how long a claimed row stays invisible to other invocations.
	Lease time.Duration
	// MaxAge discards rows whose scheduled_for is older than this instead of
	// firing them late. Zero disables the bound.
	MaxAge time.Duration
}

// RowResult is the per-row outcome of a drainer pass.
type RowResult struct {
	ID      uuid.UUID `json:"id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// DrainResult summarises one drainer invocation.
type DrainResult struct {
	Total   int         `json:"total"`
	Sent    int         `json:"sent"`
	Failed  int         `json:"failed"`
	Results []RowResult `json:"results"`
}

type Service interface {
	// Enqueue stores a "send roughly now" notification for a later pass.
	Enqueue(ctx context.Context, n *model.QueuedNotification) error

	// Drain runs one stateless, idempotent-per-invocation pass: claim due
	// rows, dispatch each, record the outcome. Retries happen across
	// invocations, never inside one.
	Drain(ctx context.Context) (*DrainResult, error)
}

type service struct {
	repo     repository.QueueRepository
	profiles repository.ProfileRepository
	pusher   push.Client
	emailer  email.Service
	cfg      Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	drainer  string
	now      func() time.Time
}

func NewService(
	repo repository.QueueRepository,
	profiles repository.ProfileRepository,
	pusher push.Client,
	emailer email.Service,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = time.Minute
	}

	hostname, _ := os.Hostname()
	return &service{
		repo:     repo,
		profiles: profiles,
		pusher:   pusher,
		emailer:  emailer,
		cfg:      cfg,
		logger:   log,
		metrics:  m,
		drainer:  fmt.Sprintf("drainer-%s-%d", hostname, os.Getpid()),
		now:      time.Now,
	}
}

func (s *service) Enqueue(ctx context.Context, n *model.QueuedNotification) error {
	if n.UserID == uuid.Nil {
		return errors.BadRequest("user id is required", nil)
	}
	if n.Title == "" {
		return errors.BadRequest("title is required", nil)
	}
	if n.Body == "" {
		return errors.BadRequest("body is required", nil)
	}
	switch n.Channel {
	case "", model.ChannelPush, model.ChannelEmail:
	default:
		return errors.BadRequest(fmt.Sprintf("unsupported channel %q", n.Channel), nil)
	}

	if err := s.repo.Enqueue(ctx, n); err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (s *service) Drain(ctx context.Context) (*DrainResult, error) {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.QueueDrainLatency)
		defer timer.ObserveDuration()
	}

	if released, err := s.repo.ReleaseExpiredLeases(ctx); err != nil {
		s.logger.Error(err, "failed to release expired leases")
	} else if released > 0 {
		s.logger.Warn("released expired queue leases", "count", released)
	}

	rows, err := s.repo.ClaimDue(ctx, s.drainer, s.cfg.BatchSize, s.cfg.Lease)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	if s.metrics != nil {
		s.metrics.QueueBatchSize.Observe(float64(len(rows)))
	}

	result := &DrainResult{
		Total:   len(rows),
		Results: make([]RowResult, 0, len(rows)),
	}

	// Failures are isolated per row: one bad notification never stops the
	// rest of the batch.
	for _, row := range rows {
		rr := s.dispatch(ctx, row)
		result.Results = append(result.Results, rr)
		if rr.Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	return result, nil
}

func (s *service) dispatch(ctx context.Context, row *model.QueuedNotification) RowResult {
	if s.cfg.MaxAge > 0 && s.now().Sub(row.ScheduledFor) > s.cfg.MaxAge {
		if err := s.repo.MarkFailedAttempt(ctx, row.ID, expiredError, true); err != nil {
			s.logger.Error(err, "failed to expire stale notification", "id", row.ID.String())
		}
		if s.metrics != nil {
			s.metrics.QueueNotificationsFailed.Inc()
		}
		s.logger.Warn("discarded stale queued notification",
			"id", row.ID.String(), "scheduled_for", row.ScheduledFor)
		return RowResult{ID: row.ID, Success: false, Error: expiredError}
	}

	sendErr := s.deliver(ctx, row)
	if sendErr == nil {
		if err := s.repo.MarkSent(ctx, row.ID); err != nil {
			s.logger.Error(err, "failed to mark notification sent", "id", row.ID.String())
		}
		if s.metrics != nil {
			s.metrics.QueueNotificationsSent.Inc()
		}
		return RowResult{ID: row.ID, Success: true}
	}

	// 3 strikes: terminal after the attempt bound so a poison row cannot
	// loop forever, while transient provider outages survive across passes.
	terminal := row.Attempts+1 >= model.MaxAttempts
	if err := s.repo.MarkFailedAttempt(ctx, row.ID, sendErr.Error(), terminal); err != nil {
		s.logger.Error(err, "failed to record notification attempt", "id", row.ID.String())
	}

	if s.metrics != nil {
		if terminal {
			s.metrics.QueueNotificationsFailed.Inc()
		} else {
			s.metrics.QueueRetries.WithLabelValues(row.NotificationType).Inc()
		}
	}
	s.logger.Error(sendErr, "queued notification dispatch failed",
		"id", row.ID.String(), "attempt", row.Attempts+1, "terminal", terminal)

	return RowResult{ID: row.ID, Success: false, Error: sendErr.Error()}
}

func (s *service) deliver(ctx context.Context, row *model.QueuedNotification) error {
	switch row.Channel {
	case model.ChannelEmail:
		return s.deliverEmail(ctx, row)
	default:
		return s.deliverPush(ctx, row)
	}
}

func (s *service) deliverPush(ctx context.Context, row *model.QueuedNotification) error {
	n := &push.Notification{
		ExternalUserID: row.UserID.String(),
		Title:          row.Title,
		Body:           row.Body,
		Data:           row.Data,
		DeepLink:       row.DeepLink,
	}
	start := time.Now()
	_, err := s.pusher.Send(ctx, n)
	if s.metrics != nil {
		s.metrics.PushLatency.Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.PushRequests.WithLabelValues("queued", status).Inc()
	}
	return err
}

func (s *service) deliverEmail(ctx context.Context, row *model.QueuedNotification) error {
	profile, err := s.profiles.Get(ctx, row.UserID)
	if err != nil {
		return fmt.Errorf("resolve recipient email: %w", err)
	}
	return s.emailer.SendCustom(ctx, profile.Email, row.Title, row.Body)
}
