package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	outcomesvc "github.com/acme/outbound-dialer/internal/service/outcome"
	apperrors "github.com/acme/outbound-dialer/pkg/errors"
)

func (h *HandlerSet) callOutcome(ctx *fiber.Ctx) error {
	var req outcomesvc.Input
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(outcomesvc.Response{
			Success: false,
			Message: "Invalid JSON payload.",
		})
	}

	resp, err := h.deps.Outcomes.Process(ctx.UserContext(), req)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return ctx.Status(http.StatusBadRequest).JSON(resp)
		}
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(resp)
}

type inboundCallRequest struct {
	CallID string `json:"call_id" form:"call_id" query:"call_id"`
}

// inboundCall answers the carrier's inbound webhook with a SIP bridge document.
func (h *HandlerSet) inboundCall(ctx *fiber.Ctx) error {
	var req inboundCallRequest
	if len(ctx.Body()) > 0 {
		_ = ctx.BodyParser(&req)
	}
	if req.CallID == "" {
		req.CallID = ctx.Query("call_id")
	}

	directive, err := h.deps.Bridge.BridgeInboundCall(strings.TrimSpace(req.CallID))
	if err != nil {
		return translateError(err)
	}

	ctx.Set(fiber.HeaderContentType, directive.ContentType)
	return ctx.Status(http.StatusOK).SendString(directive.Body)
}
