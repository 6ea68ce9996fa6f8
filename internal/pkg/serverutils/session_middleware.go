package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	SessionHeader    = "X-Session-Id"
	SessionLocalsKey = "session_id"
)

// SessionMiddleware resolves the session id from the :id path parameter or
// the X-Session-Id header and stores it in locals.
func SessionMiddleware(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	if id == "" {
		id = strings.TrimSpace(ctx.Get(SessionHeader))
	}
	if id == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse(400, "Missing session id"))
	}
	if _, err := uuid.Parse(id); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(ErrorResponse(400, "Invalid session id"))
	}

	ctx.Locals(SessionLocalsKey, id)
	return ctx.Next()
}

func SessionID(ctx *fiber.Ctx) string {
	id, _ := ctx.Locals(SessionLocalsKey).(string)
	return id
}
