// Package dialer claims one hopper entry per invocation and starts a call for it.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/repository"
	"github.com/acme/outbound-dialer/internal/telephony"
)

// Result statuses reported to callers.
const (
	StatusNoLeadsFound        = "no_leads_found"
	StatusCallInitiated       = "call_initiated"
	StatusErrorLeadNotFound   = "error_lead_not_found"
	StatusErrorInitiatingCall = "error_initiating_call"
	StatusInternalServerError = "internal_server_error"
)

var (
	// ErrLeadNotFound is returned when a claimed entry references a missing lead.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrCallInitiation is returned when the carrier did not start the call.
	ErrCallInitiation = errors.New("call initiation failed")
)

// Result describes what one invocation did. Only Success results carry a nil error.
type Result struct {
	Success         bool   `json:"success"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	LeadID          string `json:"lead_id,omitempty"`
	HopperID        int64  `json:"hopper_id,omitempty"`
	TrackingID      string `json:"tracking_id,omitempty"`
	ProviderCallSID string `json:"provider_call_sid,omitempty"`
}

// Options carries the caller identity used for every call.
type Options struct {
	CallerID     string
	AgentID      string
	ConnectionID string
}

// Service processes one queued lead per call to ProcessNext.
type Service struct {
	hopper  repository.HopperRepository
	leads   repository.LeadRepository
	gateway telephony.Gateway
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires the dialer. m may be nil.
func NewService(
	hopper repository.HopperRepository,
	leads repository.LeadRepository,
	gateway telephony.Gateway,
	opts Options,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		hopper:  hopper,
		leads:   leads,
		gateway: gateway,
		opts:    opts,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// TrackingID builds the idempotent identifier stamped on an entry before dialing.
func TrackingID(hopperID int64, leadID string, at time.Time) string {
	return fmt.Sprintf("initial_H%d_L%s_%d", hopperID, leadID, at.UnixMilli())
}

// ProcessNext claims the next pending entry and tries to start a call for it.
func (s *Service) ProcessNext(ctx context.Context) (Result, error) {
	tracer := otel.Tracer("outbound.dialer")
	ctx, span := tracer.Start(ctx, "dialer.process_next")
	defer span.End()

	started := s.now()
	defer func() { s.metrics.ObserveDial(s.now().Sub(started)) }()

	entry, ok, err := s.hopper.ClaimNext(ctx)
	if err != nil {
		s.metrics.IncClaim("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		s.logger.Error("dialer: claim next", zap.Error(err))
		return Result{Status: StatusInternalServerError, Message: err.Error()}, fmt.Errorf("dialer: claim next: %w", err)
	}
	if !ok {
		s.metrics.IncClaim("empty")
		return Result{Success: true, Status: StatusNoLeadsFound, Message: "No pending leads found in the hopper."}, nil
	}
	s.metrics.IncClaim("claimed")
	span.SetAttributes(
		attribute.Int64("hopper.id", entry.ID),
		attribute.String("lead.id", entry.LeadID),
	)

	res, err := s.dial(ctx, entry)
	if err == nil {
		return res, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, res.Status)
	if res.Status == StatusInternalServerError {
		s.markUnhandled(ctx, entry)
	}
	return res, err
}

func (s *Service) dial(ctx context.Context, entry domain.HopperEntry) (Result, error) {
	base := Result{LeadID: entry.LeadID, HopperID: entry.ID}
	log := s.logger.With(zap.Int64("hopper_id", entry.ID), zap.String("lead_id", entry.LeadID))

	lead, err := s.leads.Get(ctx, entry.LeadID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return s.unhandled(base, fmt.Errorf("dialer: lookup lead: %w", err))
		}
		log.Warn("dialer: lead not found")
		if _, merr := s.hopper.MarkOutcome(ctx, entry.ID, domain.HopperStatusProcessing, domain.HopperStatusErrorLeadNotFound); merr != nil {
			return s.unhandled(base, fmt.Errorf("dialer: mark lead not found: %w", merr))
		}
		base.Status = StatusErrorLeadNotFound
		base.Message = fmt.Sprintf("Lead %s not found.", entry.LeadID)
		return base, fmt.Errorf("dialer: lead %s: %w", entry.LeadID, ErrLeadNotFound)
	}

	trackingID := TrackingID(entry.ID, entry.LeadID, s.now())
	if err := s.hopper.StampTracking(ctx, entry.ID, trackingID); err != nil {
		return s.unhandled(base, fmt.Errorf("dialer: stamp tracking: %w", err))
	}
	base.TrackingID = trackingID

	carrier := s.gateway.Name()
	result, callErr := s.gateway.InitiateCall(ctx, telephony.CallSpec{
		To:           lead.PhoneNumber,
		From:         s.opts.CallerID,
		AgentID:      s.opts.AgentID,
		TrackingID:   trackingID,
		ConnectionID: s.opts.ConnectionID,
	})
	if callErr != nil || !result.Success {
		s.metrics.IncCallInitiation(carrier, "failure")
		if callErr == nil {
			callErr = errors.New("provider reported failure")
		}
		log.Error("dialer: initiate call", zap.String("carrier", carrier), zap.String("tracking_id", trackingID), zap.Error(callErr))
		if _, merr := s.hopper.MarkOutcome(ctx, entry.ID, domain.HopperStatusProcessing, domain.HopperStatusErrorInitiatingCall); merr != nil {
			return s.unhandled(base, fmt.Errorf("dialer: mark initiation failure: %w", merr))
		}
		base.Status = StatusErrorInitiatingCall
		base.Message = "Failed to initiate call via telephony provider."
		return base, fmt.Errorf("dialer: %w: %v", ErrCallInitiation, callErr)
	}

	s.metrics.IncCallInitiation(carrier, "success")
	log.Info("dialer: call initiated",
		zap.String("carrier", carrier),
		zap.String("tracking_id", trackingID),
		zap.String("provider_call_sid", result.ProviderCallSID),
	)

	base.Success = true
	base.Status = StatusCallInitiated
	base.Message = "Call initiated successfully."
	base.ProviderCallSID = result.ProviderCallSID
	return base, nil
}

func (s *Service) unhandled(base Result, err error) (Result, error) {
	base.Success = false
	base.Status = StatusInternalServerError
	base.Message = err.Error()
	return base, err
}

// markUnhandled is best effort; the guard keeps it from clobbering a transition
// applied by someone else.
func (s *Service) markUnhandled(ctx context.Context, entry domain.HopperEntry) {
	applied, err := s.hopper.MarkOutcome(ctx, entry.ID, domain.HopperStatusProcessing, domain.HopperStatusErrorUnhandled)
	if err != nil {
		s.logger.Error("dialer: mark unhandled", zap.Int64("hopper_id", entry.ID), zap.Error(err))
		return
	}
	if !applied {
		s.logger.Warn("dialer: entry left processing status, unhandled mark skipped", zap.Int64("hopper_id", entry.ID))
	}
}
