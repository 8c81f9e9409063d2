package controller

import (
	"github.com/gofiber/fiber/v2"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/serverutils"
	"debt-negotiation-be/internal/service"
	"debt-negotiation-be/pkg/portalsync"
)

type ISyncController interface {
	RegisterRoutes(r fiber.Router)
	Status(ctx *fiber.Ctx) error
	ForceSync(ctx *fiber.Ctx) error
	SharedStates(ctx *fiber.Ctx) error
	UpdateSharedState(ctx *fiber.Ctx) error
	Metrics(ctx *fiber.Ctx) error
	SendNotification(ctx *fiber.Ctx) error
}

type syncController struct {
	service service.ISyncService
}

func NewSyncController(service service.ISyncService) ISyncController {
	return &syncController{service: service}
}

func (c *syncController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/sync/v1")
	h.Use(serverutils.IdentityMiddleware)
	h.Get("/status", c.Status)
	h.Post("/force-sync", c.ForceSync)
	h.Get("/shared-states", c.SharedStates)
	h.Post("/shared-states", c.UpdateSharedState)
	h.Get("/metrics", c.Metrics)
	h.Post("/notification", c.SendNotification)
}

func identity(ctx *fiber.Ctx) (string, string) {
	return ctx.Locals("user_id").(string), ctx.Locals("portal_role").(string)
}

func (c *syncController) Status(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	res, err := c.service.Status(ctx.Context(), userID, role)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get sync status", res))
}

func (c *syncController) ForceSync(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	if err := c.service.ForceSync(ctx.Context(), userID, role); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Force sync completed", nil))
}

func (c *syncController) SharedStates(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	res, err := c.service.SharedStates(ctx.Context(), userID, role)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get shared states", res))
}

func (c *syncController) UpdateSharedState(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	var req dto.UpdateSharedStateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.service.UpdateSharedState(ctx.Context(), userID, role, &req); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Shared state updated", nil))
}

func (c *syncController) Metrics(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	var rng portalsync.MetricRange
	if err := ctx.QueryParser(&rng); err != nil {
		return err
	}

	res, err := c.service.Metrics(ctx.Context(), userID, role, rng)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get financial metrics", res))
}

func (c *syncController) SendNotification(ctx *fiber.Ctx) error {
	userID, role := identity(ctx)

	var req dto.SendNotificationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.service.SendNotification(ctx.Context(), userID, role, &req); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Notification sent", nil))
}
