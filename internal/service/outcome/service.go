// Package outcome applies reported call outcomes to the contact's cadence state.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/cadence"
	"github.com/acme/outbound-dialer/internal/config"
	"github.com/acme/outbound-dialer/internal/domain"
	"github.com/acme/outbound-dialer/internal/lock"
	"github.com/acme/outbound-dialer/internal/metrics"
	"github.com/acme/outbound-dialer/internal/repository"
	apperrors "github.com/acme/outbound-dialer/pkg/errors"
)

const (
	// MessageProcessed is returned once the state transition is stored.
	MessageProcessed = "Webhook received and processed."
	// MessageMissingFields is returned when a required field is absent.
	MessageMissingFields = "Missing required fields: twilio_call_sid, phone_number, disposition, call_ended_timestamp are required."

	unknownCustomer = "Unknown"
)

// AnalyticsSink receives fire-and-forget analytics events.
type AnalyticsSink interface {
	LogEvent(ctx context.Context, userKey, event string, properties map[string]any) error
}

// HandoffQueue creates human handoff tasks.
type HandoffQueue interface {
	CreateTask(ctx context.Context, attributes map[string]string, workflowSID string) (string, error)
}

// Input is the outcome report as received from the telephony platform.
type Input struct {
	CallSID            string         `json:"twilio_call_sid"`
	AgentCallID        string         `json:"call_id"`
	PhoneNumber        string         `json:"phone_number"`
	Disposition        string         `json:"disposition"`
	CallEndedTimestamp string         `json:"call_ended_timestamp"`
	Transcript         string         `json:"transcript"`
	TranscriptSummary  string         `json:"transcript_summary"`
	RecordingURL       string         `json:"recording_url"`
	Metadata           map[string]any `json:"metadata"`
}

// Response is returned for every processed outcome.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Options tunes the orchestration around the cadence engine.
type Options struct {
	MaxConflictRetries int
	LockTTL            time.Duration
	LockWait           time.Duration
	AnalyticsEnabled   bool
	AnalyticsEvent     string
	Handoff            config.HandoffConfig
}

// Service processes one outcome per call to Process.
type Service struct {
	engine    *cadence.Engine
	states    repository.ContactStateStore
	locker    lock.Locker
	analytics AnalyticsSink
	handoff   HandoffQueue
	opts      Options
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the outcome orchestrator. locker, analytics, handoff and m may be nil.
func NewService(
	engine *cadence.Engine,
	states repository.ContactStateStore,
	locker lock.Locker,
	analytics AnalyticsSink,
	handoff HandoffQueue,
	opts Options,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.AnalyticsEvent == "" {
		opts.AnalyticsEvent = "Call Outcome Processed"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		states:    states,
		locker:    locker,
		analytics: analytics,
		handoff:   handoff,
		opts:      opts,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Process validates the report, advances the contact's cadence state and fires
// the side effects. Side-effect failures never fail the call.
func (s *Service) Process(ctx context.Context, in Input) (Response, error) {
	outcome, verr := parse(in)
	if verr != nil {
		return Response{Success: false, Message: verr.Message}, verr
	}

	tracer := otel.Tracer("outbound.outcome")
	ctx, span := tracer.Start(ctx, "outcome.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.sid", outcome.CallSID),
		attribute.String("call.disposition", outcome.Disposition),
	)

	log := s.logger.With(zap.String("phone_number", outcome.PhoneNumber), zap.String("call_sid", outcome.CallSID))

	decision, err := s.transition(ctx, outcome, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "state transition failed")
		log.Error("outcome: state transition", zap.Error(err))
		return Response{Success: false, Message: err.Error()}, err
	}

	state := decision.State
	s.metrics.IncOutcome(string(state.Status))
	log.Info("outcome: contact state updated",
		zap.String("disposition", outcome.Disposition),
		zap.String("rule", decision.RuleKey),
		zap.Int("attempt_count", state.AttemptCount),
		zap.String("status", string(state.Status)),
	)

	s.emitAnalytics(ctx, outcome, state, log)
	// membership in the handoff set decides, even when a success rule won the status
	if decision.Handoff || s.engine.IsHandoff(outcome.Disposition) {
		s.createHandoff(ctx, outcome, state, log)
	}

	return Response{Success: true, Message: MessageProcessed}, nil
}

// transition runs the fetch, compute, conditional put cycle under the phone lock.
func (s *Service) transition(ctx context.Context, outcome domain.CallOutcome, log *zap.Logger) (cadence.Decision, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "contact:"+outcome.PhoneNumber, s.opts.LockTTL, s.opts.LockWait)
		if err != nil {
			// the versioned write still rejects a lost update
			log.Warn("outcome: contact lock not acquired", zap.Error(err))
		} else {
			defer func() {
				if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
					log.Warn("outcome: release contact lock", zap.Error(rerr))
				}
			}()
		}
	}

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxConflictRetries; attempt++ {
		prior, err := s.states.Get(ctx, outcome.PhoneNumber)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return cadence.Decision{}, fmt.Errorf("outcome: fetch contact state: %w", err)
		}
		if errors.Is(err, repository.ErrNotFound) {
			prior = nil
		}

		decision := s.engine.Compute(prior, outcome, s.now())
		state := decision.State
		if state.LeadID == nil {
			if leadID, ok := outcome.Metadata["lead_id"].(string); ok && leadID != "" {
				state.LeadID = &leadID
			}
		}

		err = s.states.Put(ctx, &state)
		if err == nil {
			decision.State = state
			return decision, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return cadence.Decision{}, fmt.Errorf("outcome: persist contact state: %w", err)
		}
		s.metrics.IncStateConflict()
		log.Warn("outcome: contact state changed concurrently, retrying", zap.Int("attempt", attempt+1))
		lastErr = err
	}
	return cadence.Decision{}, fmt.Errorf("outcome: persist contact state after %d attempts: %w", s.opts.MaxConflictRetries+1, lastErr)
}

func (s *Service) emitAnalytics(ctx context.Context, outcome domain.CallOutcome, state domain.ContactCadenceState, log *zap.Logger) {
	if !s.opts.AnalyticsEnabled || s.analytics == nil {
		return
	}

	var next any
	if state.NextCallAt != nil {
		next = state.NextCallAt.UTC().Format(time.RFC3339)
	}
	props := map[string]any{
		"call_sid":             outcome.CallSID,
		"agent_call_id":        outcome.AgentCallID,
		"phone_number":         outcome.PhoneNumber,
		"disposition":          outcome.Disposition,
		"summary":              outcome.TranscriptSummary,
		"call_ended_timestamp": outcome.EndedAt.UTC().Format(time.RFC3339),
		"attempt_count":        state.AttemptCount,
		"final_status":         string(state.Status),
		"next_call_timestamp":  next,
	}
	if err := s.analytics.LogEvent(ctx, outcome.PhoneNumber, s.opts.AnalyticsEvent, props); err != nil {
		s.metrics.IncSideEffectFailure("analytics")
		log.Error("outcome: analytics event", zap.Error(err))
	}
}

func (s *Service) createHandoff(ctx context.Context, outcome domain.CallOutcome, state domain.ContactCadenceState, log *zap.Logger) {
	if !s.opts.Handoff.Enabled() || s.handoff == nil {
		log.Warn("outcome: handoff disposition but handoff is not configured", zap.String("disposition", outcome.Disposition))
		return
	}

	attrs := HandoffAttributes(outcome, state, s.opts.Handoff.WorkspaceSID)
	taskID, err := s.handoff.CreateTask(ctx, attrs, s.opts.Handoff.WorkflowSID)
	if err != nil {
		s.metrics.IncSideEffectFailure("handoff")
		log.Error("outcome: create handoff task", zap.Error(err))
		return
	}
	log.Info("outcome: handoff task created", zap.String("task_id", taskID))
}

// HandoffAttributes builds the task attributes handed to the human agent queue.
func HandoffAttributes(outcome domain.CallOutcome, state domain.ContactCadenceState, workspaceSID string) map[string]string {
	attrs := map[string]string{
		"twilio_call_sid":        outcome.CallSID,
		"agent_call_id":          outcome.AgentCallID,
		"phone_number":           outcome.PhoneNumber,
		"disposition":            outcome.Disposition,
		"current_contact_status": string(state.Status),
		"transcript_summary":     outcome.TranscriptSummary,
		"customer_name":          customerName(outcome.Metadata, state.Metadata),
		"workspace_sid":          workspaceSID,
	}
	if state.LeadID != nil {
		attrs["lead_id"] = *state.LeadID
	}
	return attrs
}

func customerName(sources ...map[string]any) string {
	for _, md := range sources {
		if name, ok := md["customer_name"].(string); ok && strings.TrimSpace(name) != "" {
			return name
		}
	}
	return unknownCustomer
}

// ValidationError carries the client-facing message for a rejected report.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "outcome: " + e.Message }

func (e *ValidationError) Unwrap() error { return apperrors.ErrValidation }

func parse(in Input) (domain.CallOutcome, *ValidationError) {
	if strings.TrimSpace(in.CallSID) == "" ||
		strings.TrimSpace(in.PhoneNumber) == "" ||
		strings.TrimSpace(in.Disposition) == "" ||
		strings.TrimSpace(in.CallEndedTimestamp) == "" {
		return domain.CallOutcome{}, &ValidationError{Message: MessageMissingFields}
	}

	ended, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(in.CallEndedTimestamp))
	if err != nil {
		return domain.CallOutcome{}, &ValidationError{Message: "Invalid call_ended_timestamp: expected an ISO-8601 timestamp."}
	}

	return domain.CallOutcome{
		CallSID:           in.CallSID,
		AgentCallID:       in.AgentCallID,
		PhoneNumber:       strings.TrimSpace(in.PhoneNumber),
		Disposition:       strings.TrimSpace(in.Disposition),
		EndedAt:           ended,
		Transcript:        in.Transcript,
		TranscriptSummary: in.TranscriptSummary,
		RecordingURL:      in.RecordingURL,
		Metadata:          in.Metadata,
	}, nil
}
