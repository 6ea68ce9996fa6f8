package handler

import (
	"encoding/json"

	"stylii-be/internal/dto"
	"stylii-be/internal/pkg/logger"
	"stylii-be/internal/pkg/serverutils"
	"stylii-be/internal/service"
	internalWS "stylii-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SessionHandler streams design session snapshots over websockets.
type SessionHandler struct {
	sessions service.ISessionService
	hub      *internalWS.Hub
	logger   logger.ILogger
}

func NewSessionHandler(sessions service.ISessionService, hub *internalWS.Hub, log logger.ILogger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		hub:      hub,
		logger:   log,
	}
}

// ServeWs upgrades the connection for a known session and sends the current
// snapshot first so the client never starts blank.
func (h *SessionHandler) ServeWs(c *fiber.Ctx) error {
	sessionID := serverutils.SessionID(c)

	snapshot, err := h.sessions.Get(c.UserContext(), sessionID)
	if err != nil {
		return err
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	initial, err := json.Marshal(dto.SessionEventMessage{
		Type:      "snapshot",
		SessionId: sessionID,
		Data:      snapshot,
	})
	if err != nil {
		return err
	}

	return websocket.New(func(conn *websocket.Conn) {
		h.logger.Info("SessionHandler", "Starting WebSocket session", map[string]interface{}{"session_id": sessionID})
		internalWS.ServeWs(h.hub, conn, sessionID, initial)
		h.logger.Info("SessionHandler", "WebSocket session ended", map[string]interface{}{"session_id": sessionID})
	})(c)
}

func (h *SessionHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/session/:id/ws", serverutils.SessionMiddleware, h.ServeWs)
}
