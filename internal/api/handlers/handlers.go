package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/app"
	dialersvc "github.com/acme/outbound-dialer/internal/service/dialer"
	outcomesvc "github.com/acme/outbound-dialer/internal/service/outcome"
	"github.com/acme/outbound-dialer/internal/telephony"
)

// Dialer claims and dials one hopper entry.
type Dialer interface {
	ProcessNext(ctx context.Context) (dialersvc.Result, error)
}

// OutcomeProcessor applies one call outcome report.
type OutcomeProcessor interface {
	Process(ctx context.Context, in outcomesvc.Input) (outcomesvc.Response, error)
}

// InboundBridge renders the call-control document for an inbound leg.
type InboundBridge interface {
	BridgeInboundCall(callID string) (telephony.CallDirective, error)
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the handlers call into.
type Deps struct {
	Dialer   Dialer
	Outcomes OutcomeProcessor
	Bridge   InboundBridge
	Checks   map[string]HealthCheck
	Logger   *zap.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	deps Deps
}

// New creates a handler bundle from explicit dependencies.
func New(deps Deps) *HandlerSet {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &HandlerSet{deps: deps}
}

// NewHandlerSet creates a handler bundle backed by the container.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return New(Deps{
		Dialer:   services.Dialer,
		Outcomes: services.Outcome,
		Bridge:   container.Gateway,
		Checks: map[string]HealthCheck{
			"postgres": func(ctx context.Context) error {
				return container.Postgres.DB().PingContext(ctx)
			},
			"redis": func(ctx context.Context) error {
				return container.Redis.Inner().Ping(ctx).Err()
			},
			"scylla": func(ctx context.Context) error {
				return container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
			},
		},
		Logger: container.Logger.Logger,
	})
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Post("/dialer/dispatch", h.dispatch)

	webhooks := v1.Group("/webhooks")
	webhooks.Post("/call-outcome", h.callOutcome)
	webhooks.Post("/inbound-call", h.inboundCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.deps.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"success":  false,
		"message":  message,
		"trace_id": traceID(ctx),
	})
}

// traceID returns the id of the request span started by otelfiber, if any.
func traceID(ctx *fiber.Ctx) string {
	sc := trace.SpanContextFromContext(ctx.UserContext())
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.deps.Checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
