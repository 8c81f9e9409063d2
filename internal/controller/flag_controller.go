package controller

import (
	"github.com/gofiber/fiber/v2"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/serverutils"
	"debt-negotiation-be/pkg/flags"
)

type IFlagController interface {
	RegisterRoutes(r fiber.Router)
	GetAll(ctx *fiber.Ctx) error
	Set(ctx *fiber.Ctx) error
	EnableSafeMode(ctx *fiber.Ctx) error
	EnableAll(ctx *fiber.Ctx) error
	DisableAll(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
}

type flagController struct {
	store *flags.Store
}

func NewFlagController(store *flags.Store) IFlagController {
	return &flagController{store: store}
}

func (c *flagController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/flags/v1")
	h.Use(serverutils.IdentityMiddleware)
	h.Get("", c.GetAll)
	h.Put(":key", c.Set)
	h.Post("/safe-mode", c.EnableSafeMode)
	h.Post("/enable-all", c.EnableAll)
	h.Post("/disable-all", c.DisableAll)
	h.Post("/reset", c.Reset)
}

func (c *flagController) GetAll(ctx *fiber.Ctx) error {
	res := dto.FlagsResponse{
		Flags:       c.store.All(),
		Operational: c.store.IsOperational(),
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get flags", res))
}

func (c *flagController) Set(ctx *fiber.Ctx) error {
	key := ctx.Params("key")

	var req dto.SetFlagRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	if err := c.store.SetFlag(ctx.Context(), key, *req.Value); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Flag updated", nil))
}

func (c *flagController) EnableSafeMode(ctx *fiber.Ctx) error {
	if err := c.store.EnableSafeMode(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Safe mode enabled", nil))
}

func (c *flagController) EnableAll(ctx *fiber.Ctx) error {
	if err := c.store.EnableAll(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("All flags enabled", nil))
}

func (c *flagController) DisableAll(ctx *fiber.Ctx) error {
	if err := c.store.DisableAll(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("All flags disabled", nil))
}

func (c *flagController) Reset(ctx *fiber.Ctx) error {
	if err := c.store.Reset(ctx.Context()); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Flags reset", nil))
}
