package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"debt-negotiation-be/internal/dto"
	"debt-negotiation-be/internal/pkg/serverutils"
	"debt-negotiation-be/internal/service"
)

type INegotiationController interface {
	RegisterRoutes(r fiber.Router)
	CreateConversation(ctx *fiber.Ctx) error
	SendMessage(ctx *fiber.Ctx) error
	Resume(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Stats(ctx *fiber.Ctx) error
}

type negotiationController struct {
	service service.INegotiationService
}

func NewNegotiationController(service service.INegotiationService) INegotiationController {
	return &negotiationController{service: service}
}

func (c *negotiationController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/negotiation/v1")
	h.Use(serverutils.IdentityMiddleware)
	h.Post("/conversation", c.CreateConversation)
	h.Post("/conversation/:id/message", c.SendMessage)
	h.Post("/conversation/:id/resume", c.Resume)
	h.Get("/conversation/:id", c.Show)
	h.Get("/stats", c.Stats)
}

func (c *negotiationController) CreateConversation(ctx *fiber.Ctx) error {
	var req dto.CreateConversationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.CreateConversation(ctx.Context(), &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Conversation created", res))
}

func (c *negotiationController) SendMessage(ctx *fiber.Ctx) error {
	userID := ctx.Locals("user_id").(string)
	role := ctx.Locals("portal_role").(string)
	conversationID := ctx.Params("id")

	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return err
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.SendMessage(ctx.Context(), userID, role, conversationID, &req)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Message processed", res))
}

func (c *negotiationController) Resume(ctx *fiber.Ctx) error {
	conversationID := ctx.Params("id")

	if err := c.service.Resume(ctx.Context(), conversationID); err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Conversation resumed", nil))
}

func (c *negotiationController) Show(ctx *fiber.Ctx) error {
	conversationID := ctx.Params("id")

	conversation, err := c.service.Get(ctx.Context(), conversationID)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get conversation", dto.ConversationResponse{Conversation: conversation}))
}

func (c *negotiationController) Stats(ctx *fiber.Ctx) error {
	res, err := c.service.Stats(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get negotiation stats", res))
}
