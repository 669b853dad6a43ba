package worker

import (
	"context"
	"time"

	"github.com/waktihq/notify/internal/service/queue"
	"github.com/waktihq/notify/pkg/logger"
)

type DrainerConfig struct {
	PollInterval time.Duration
}

// Drainer invokes the queue service on a fixed cadence. Each tick is one
// stateless pass; retry of failed rows happens on later ticks, not inside
// one.
type Drainer struct {
	svc    queue.Service
	config DrainerConfig
	logger *logger.Logger
}

func NewDrainer(svc queue.Service, config DrainerConfig, log *logger.Logger) *Drainer {
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	return &Drainer{
		svc:    svc,
		config: config,
		logger: log,
	}
}

func (d *Drainer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Info("starting queue drainer", "interval", d.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down queue drainer")
			return
		case <-ticker.C:
			result, err := d.svc.Drain(ctx)
			if err != nil {
				d.logger.Error(err, "drain pass failed")
				continue
			}
			if result.Total > 0 {
				d.logger.Info("drain pass complete",
					"total", result.Total, "sent", result.Sent, "failed", result.Failed)
			}
		}
	}
}
