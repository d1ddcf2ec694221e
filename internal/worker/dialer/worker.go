package dialer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/app"
	dialersvc "github.com/acme/outbound-dialer/internal/service/dialer"
)

type processor interface {
	ProcessNext(ctx context.Context) (dialersvc.Result, error)
}

// maxBackoff caps the wait after consecutive carrier or internal failures.
const maxBackoff = 5 * time.Minute

// Worker drives the dialer continuously: it keeps claiming while the hopper
// has work and backs off for the idle interval once it is empty. Failures
// other than a missing lead back off exponentially from the idle interval.
type Worker struct {
	dialer   processor
	idle     time.Duration
	logger   *zap.Logger
	failures int
}

// New creates a dial loop backed by the container's dialer service.
func New(container *app.Container) *Worker {
	return newWorker(container.Services().Dialer, container.Config.Dialer.IdleInterval, container.Logger.Named("dial-loop"))
}

func newWorker(p processor, idle time.Duration, logger *zap.Logger) *Worker {
	if idle <= 0 {
		idle = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{dialer: p, idle: idle, logger: logger}
}

// Run loops until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dial loop: started", zap.Duration("idle_interval", w.idle))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		timer.Reset(w.step(ctx))
	}
}

// step runs one invocation and returns how long to wait before the next.
func (w *Worker) step(ctx context.Context) time.Duration {
	res, err := w.dialer.ProcessNext(ctx)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return 0
		}
		w.logger.Error("dial loop: invocation failed",
			zap.String("status", res.Status),
			zap.Int64("hopper_id", res.HopperID),
			zap.Error(err),
		)
		// a missing lead says nothing about the carrier or the stores
		if res.Status == dialersvc.StatusErrorLeadNotFound {
			return 0
		}
		return w.backoff()
	case res.Status == dialersvc.StatusNoLeadsFound:
		w.failures = 0
		w.logger.Debug("dial loop: hopper empty")
		return w.idle
	default:
		w.failures = 0
		w.logger.Info("dial loop: call initiated",
			zap.Int64("hopper_id", res.HopperID),
			zap.String("tracking_id", res.TrackingID),
		)
		return 0
	}
}

// backoff records a failure and returns idle doubled per consecutive failure.
func (w *Worker) backoff() time.Duration {
	w.failures++
	wait := w.idle
	for i := 1; i < w.failures && wait < maxBackoff; i++ {
		wait *= 2
	}
	if wait > maxBackoff && w.idle < maxBackoff {
		wait = maxBackoff
	}
	w.logger.Warn("dial loop: backing off", zap.Int("consecutive_failures", w.failures), zap.Duration("wait", wait))
	return wait
}
