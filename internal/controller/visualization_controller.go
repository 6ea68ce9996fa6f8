package controller

import (
	"stylii-be/internal/dto"
	"stylii-be/internal/pkg/serverutils"
	"stylii-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IVisualizationController interface {
	RegisterRoutes(r fiber.Router)
	GenerateRoomVisualization(ctx *fiber.Ctx) error
	Health(ctx *fiber.Ctx) error
}

type visualizationController struct {
	service service.IVisualizationService
}

func NewVisualizationController(service service.IVisualizationService) IVisualizationController {
	return &visualizationController{service: service}
}

func (c *visualizationController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/nano-banana")
	h.Post("/generate-room-visualization", c.GenerateRoomVisualization)
	h.Get("/health", c.Health)
}

func (c *visualizationController) GenerateRoomVisualization(ctx *fiber.Ctx) error {
	var req dto.RoomVisualizationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return serverutils.DetailError(ctx, fiber.NewError(fiber.StatusBadRequest, "Invalid request body"))
	}

	res, err := c.service.GenerateRoomVisualization(ctx.UserContext(), &req)
	if err != nil {
		return serverutils.DetailError(ctx, err)
	}

	return ctx.JSON(res)
}

func (c *visualizationController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(dto.HealthResponse{Status: "healthy", Service: "nano-banana-api"})
}
