// Package reconcile sweeps hopper entries the dialer left behind: claims whose
// process died before a call was placed, and failed entries configured for
// another attempt.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/app"
	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/repository"
)

// Report summarises one sweep.
type Report struct {
	MarkedStale  int
	AwaitingCall int
	Requeued     int
}

// Sweeper holds the reconciliation policy.
type Sweeper struct {
	hopper          repository.HopperRepository
	staleAfter      time.Duration
	batchSize       int
	requeueStatuses []domain.HopperStatus
	maxRequeues     int
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

// New creates a sweeper backed by the container's hopper repository.
func New(container *app.Container) (*Sweeper, error) {
	return NewSweeper(container.Repositories().Hopper, container.Config.Reconcile, container.Metrics, container.Logger.Named("reconciler"))
}

// NewSweeper validates cfg and builds a sweeper. Only error statuses can be requeued.
func NewSweeper(hopper repository.HopperRepository, cfg config.ReconcileConfig, m *metrics.Metrics, logger *zap.Logger) (*Sweeper, error) {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	statuses := make([]domain.HopperStatus, 0, len(cfg.RequeueStatuses))
	for _, raw := range cfg.RequeueStatuses {
		status := domain.HopperStatus(raw)
		if !status.IsError() {
			return nil, fmt.Errorf("reconcile: status %q cannot be requeued", raw)
		}
		statuses = append(statuses, status)
	}

	return &Sweeper{
		hopper:          hopper,
		staleAfter:      cfg.StaleAfter,
		batchSize:       cfg.BatchSize,
		requeueStatuses: statuses,
		maxRequeues:     cfg.MaxRequeues,
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}, nil
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	tracer := otel.Tracer("outbound.reconciler")
	ctx, span := tracer.Start(ctx, "reconcile.sweep")
	defer span.End()

	var report Report
	if err := s.sweepStale(ctx, &report); err != nil {
		span.RecordError(err)
		return report, err
	}
	if err := s.requeue(ctx, &report); err != nil {
		span.RecordError(err)
		return report, err
	}

	span.SetAttributes(
		attribute.Int("reconcile.stale", report.MarkedStale),
		attribute.Int("reconcile.awaiting_call", report.AwaitingCall),
		attribute.Int("reconcile.requeued", report.Requeued),
	)
	return report, nil
}

// sweepStale closes out claims that never got as far as a tracking id. Entries
// with a tracking id may have a live call, so they are only reported. The two
// groups are listed separately so neither can crowd the other out of a batch.
func (s *Sweeper) sweepStale(ctx context.Context, report *Report) error {
	cutoff := s.now().Add(-s.staleAfter)

	untracked, err := s.hopper.ListStale(ctx, repository.StaleFilter{
		Status:    domain.HopperStatusProcessing,
		OlderThan: cutoff,
		Limit:     s.batchSize,
		Tracking:  repository.TrackingAbsent,
	})
	if err != nil {
		return fmt.Errorf("reconcile: list stale: %w", err)
	}
	for _, entry := range untracked {
		applied, err := s.hopper.MarkOutcome(ctx, entry.ID, domain.HopperStatusProcessing, domain.HopperStatusErrorStale)
		if err != nil {
			return fmt.Errorf("reconcile: mark stale %d: %w", entry.ID, err)
		}
		if applied {
			report.MarkedStale++
			s.metrics.IncReconciled("stale")
			s.logger.Info("reconcile: marked stale", zap.Int64("hopper_id", entry.ID), zap.String("lead_id", entry.LeadID))
		}
	}

	tracked, err := s.hopper.ListStale(ctx, repository.StaleFilter{
		Status:    domain.HopperStatusProcessing,
		OlderThan: cutoff,
		Limit:     s.batchSize,
		Tracking:  repository.TrackingPresent,
	})
	if err != nil {
		return fmt.Errorf("reconcile: list awaiting call: %w", err)
	}
	for _, entry := range tracked {
		report.AwaitingCall++
		s.metrics.IncReconciled("awaiting_call")
		s.logger.Debug("reconcile: processing entry with tracking id needs manual correlation",
			zap.Int64("hopper_id", entry.ID),
			zap.String("tracking_id", *entry.TrackingID),
			zap.Time("updated_at", entry.UpdatedAt),
		)
	}
	return nil
}

func (s *Sweeper) requeue(ctx context.Context, report *Report) error {
	if s.maxRequeues <= 0 {
		return nil
	}

	now := s.now()
	for _, status := range s.requeueStatuses {
		entries, err := s.hopper.ListStale(ctx, repository.StaleFilter{
			Status:        status,
			OlderThan:     now,
			Limit:         s.batchSize,
			BelowRequeues: s.maxRequeues,
		})
		if err != nil {
			return fmt.Errorf("reconcile: list %s: %w", status, err)
		}
		for _, entry := range entries {
			ok, err := s.hopper.Requeue(ctx, entry.ID, status, s.maxRequeues)
			if err != nil {
				return fmt.Errorf("reconcile: requeue %d: %w", entry.ID, err)
			}
			if ok {
				report.Requeued++
				s.metrics.IncReconciled("requeued")
				s.logger.Info("reconcile: requeued",
					zap.Int64("hopper_id", entry.ID),
					zap.String("from", string(status)),
					zap.Int("requeue_count", entry.RequeueCount+1),
				)
			}
		}
	}
	return nil
}

// Run executes Sweep on the cron schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		report, err := s.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("reconcile: sweep failed", zap.Error(err))
			return
		}
		s.logger.Info("reconcile: sweep finished",
			zap.Int("stale", report.MarkedStale),
			zap.Int("awaiting_call", report.AwaitingCall),
			zap.Int("requeued", report.Requeued),
		)
	}); err != nil {
		return fmt.Errorf("reconcile: schedule %q: %w", schedule, err)
	}

	s.logger.Info("reconcile: started", zap.String("schedule", schedule), zap.Duration("stale_after", s.staleAfter))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
