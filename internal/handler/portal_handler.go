package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/internal/service"
	internalWS "debt-negotiation-be/internal/websocket"
	"debt-negotiation-be/pkg/portalsync"
)

// PortalHandler upgrades portal clients to websocket delivery and makes sure
// their sync session exists before the socket starts.
type PortalHandler struct {
	syncService service.ISyncService
	hub         *internalWS.Hub
	logger      logger.ILogger
}

func NewPortalHandler(syncService service.ISyncService, hub *internalWS.Hub, log logger.ILogger) *PortalHandler {
	return &PortalHandler{
		syncService: syncService,
		hub:         hub,
		logger:      log,
	}
}

func (h *PortalHandler) RegisterRoutes(r fiber.Router) {
	r.Get("/portal/v1/ws", h.ServeWs)
}

// ServeWs handles the websocket handshake. Identity comes from query params;
// authentication happens upstream of this service.
func (h *PortalHandler) ServeWs(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	role := c.Query("role")
	if userID == "" || (role != portalsync.RoleCompany && role != portalsync.RoleDebtor) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and role=company|debtor are required"})
	}

	// Warm the sync session so channel events start flowing to the hub even
	// before the first REST call.
	if _, err := h.syncService.Session(context.Background(), userID, role); err != nil {
		h.logger.Warn("PortalHandler", "Sync session unavailable for portal client", map[string]interface{}{
			"user_id": userID, "role": role, "error": err.Error(),
		})
	}

	if websocket.IsWebSocketUpgrade(c) {
		return websocket.New(func(conn *websocket.Conn) {
			h.logger.Info("PortalHandler", "Starting portal websocket session", map[string]interface{}{"user_id": userID, "role": role})
			internalWS.ServeWs(h.hub, conn, userID, role)
			h.logger.Info("PortalHandler", "Portal websocket session ended", map[string]interface{}{"user_id": userID})
		})(c)
	}
	return fiber.ErrUpgradeRequired
}
