package serverutils

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"stylii-be/pkg/design"
)

// StatusFor maps an error returned by a handler to its HTTP status.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &verrs), design.IsValidation(err):
		return fiber.StatusBadRequest
	case errors.Is(err, design.ErrSessionNotFound), errors.Is(err, design.ErrResultNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, design.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, design.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, design.ErrNoProducts), errors.Is(err, design.ErrNoRoomImage):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func messageFor(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return ValidationMessage(err)
	}
	return err.Error()
}

// ErrorHandlerMiddleware turns handler errors into the standard envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := StatusFor(err)
		if code >= fiber.StatusInternalServerError {
			log.Printf("[ERROR] %s %s: %v", ctx.Method(), ctx.Path(), err)
		}
		return ctx.Status(code).JSON(ErrorResponse(code, messageFor(err)))
	}
}

// DetailError writes the {detail} body used by the collaborator endpoints.
func DetailError(ctx *fiber.Ctx, err error) error {
	code := StatusFor(err)
	return ctx.Status(code).JSON(DetailResponse{Detail: messageFor(err)})
}
