package controller

import (
	"stylii-be/internal/dto"
	"stylii-be/internal/pkg/serverutils"
	"stylii-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IDesignController interface {
	RegisterRoutes(r fiber.Router)
	GenerateDesignQueries(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type designController struct {
	service service.IDesignQueryService
}

func NewDesignController(service service.IDesignQueryService) IDesignController {
	return &designController{service: service}
}

func (c *designController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/gemini")
	h.Post("/generate-design-queries", c.GenerateDesignQueries)
	h.Get("/health", c.Health)
}

// GenerateDesignQueries answers with the bare payload and {detail} errors,
// the contract the web client already speaks.
func (c *designController) GenerateDesignQueries(ctx *fiber.Ctx) error {
	var req dto.DesignQueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.DetailError(ctx, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	res, err := c.service.GenerateDesignQueries(ctx.UserContext(), &req)
	if err != nil {
		return serverutils.DetailError(ctx, err)
	}

	return ctx.JSON(res)
}

func (c *designController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(dto.HealthResponse{Status: "healthy", Service: "gemini-api"})
}
