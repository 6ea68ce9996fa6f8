package server

import (
	"context"
	"log"

	"stylii-be/internal/bootstrap"
	"stylii-be/internal/config"
	"stylii-be/internal/dto"
	"stylii-be/internal/metrics"
	"stylii-be/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		AppName: "Stylii Backend",
		// Room photos travel base64 encoded inside JSON bodies.
		BodyLimit: 4 * cfg.Session.MaxUploadBytes,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, " + serverutils.SessionHeader,
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		ExposeHeaders:    "Content-Length, Content-Type",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	app.Use(serverutils.ErrorHandlerMiddleware())

	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("✅ Server is running on http://localhost:%s", s.cfg.App.Port)
	return s.app.Listen(":" + s.cfg.App.Port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	app.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(dto.HealthResponse{Message: "Welcome to Stylii Backend API"})
	})
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(dto.HealthResponse{Status: "healthy", Message: "Backend is running"})
	})
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api")

	c.DesignController.RegisterRoutes(api)
	c.VisualizationController.RegisterRoutes(api)
	c.SessionController.RegisterRoutes(api)

	c.SessionHandler.RegisterRoutes(api)
}
