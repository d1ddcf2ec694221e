package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// dispatch claims one hopper entry and dials it. The request body is ignored.
func (h *HandlerSet) dispatch(ctx *fiber.Ctx) error {
	result, err := h.deps.Dialer.ProcessNext(ctx.UserContext())
	if err != nil {
		return ctx.Status(http.StatusInternalServerError).JSON(result)
	}
	return ctx.Status(http.StatusOK).JSON(result)
}
