package bootstrap

import (
	"context"
	"log"
	"time"

	"stylii-be/internal/config"
	"stylii-be/internal/controller"
	"stylii-be/internal/handler"
	"stylii-be/internal/mapper"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/repository/memory"
	"stylii-be/internal/service"
	"stylii-be/internal/websocket"
	"stylii-be/pkg/gemini"
	pktNats "stylii-be/pkg/nats"
	"stylii-be/pkg/serpapi"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const SessionBasePath = "/api/session"

type Container struct {
	// Controllers
	DesignController        controller.IDesignController
	VisualizationController controller.IVisualizationController
	SessionController       controller.ISessionController

	// Background Services (Exposed for main.go to run)
	SnapshotConsumer service.ISnapshotConsumer
	WebSocketHub     *websocket.Hub

	// WebSockets
	SessionHandler *handler.SessionHandler

	Logger logger.ILogger

	closers []func()
}

func NewContainer(cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	// Snapshots carry a per-session sequence; the consumer drops reordered ones.
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermillLogger)
	c := &Container{Logger: sysLogger}
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. Infrastructure, all optional
	var eventPublisher service.EventPublisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			eventPublisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{
				Addr: cfg.App.RedisURL,
			}
		}
		client := redis.NewClient(opt)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_, err = client.Ping(ctx).Result()
		cancel()
		if err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v. Websocket fan-out stays local", err)
			_ = client.Close()
		} else {
			rdb = client
			c.closers = append(c.closers, func() { _ = rdb.Close() })
		}
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger(cfg.App.WsLogFilePath)
	wsHub := websocket.NewHub(rdb, wsLogger)

	// 4. Services
	textClient := gemini.NewClient(cfg.Keys.GoogleGemini)
	imageClient := gemini.NewClient(cfg.Keys.GoogleGeminiImage)
	searchClient := serpapi.NewClient(cfg.Keys.SerpAPI)

	designQueryService := service.NewDesignQueryService(textClient, searchClient, cfg.Ai, sysLogger)
	visualizationService, err := service.NewVisualizationService(imageClient, cfg.Ai, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize visualization service: %v", err)
	}

	sessionRepo := memory.NewSessionRepository[*service.Workspace](cfg.Session.TTL)
	sessionService := service.NewSessionService(
		sessionRepo,
		designQueryService,   // in process
		visualizationService, // in process
		service.NewSnapshotPublisher(service.SnapshotTopic, pubSub),
		wsHub,
		eventPublisher,
		mapper.NewDesignMapper(SessionBasePath),
		cfg.Session,
		sysLogger,
	)
	c.closers = append(c.closers, sessionRepo.Flush)

	// 5. Controllers
	c.DesignController = controller.NewDesignController(designQueryService)
	c.VisualizationController = controller.NewVisualizationController(visualizationService)
	c.SessionController = controller.NewSessionController(sessionService, cfg.Session.MaxUploadBytes)
	c.SessionHandler = handler.NewSessionHandler(sessionService, wsHub, wsLogger)
	c.WebSocketHub = wsHub
	c.SnapshotConsumer = service.NewSnapshotConsumer(pubSub, service.SnapshotTopic, wsHub, wsLogger)

	return c
}

// Close releases infrastructure in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}
