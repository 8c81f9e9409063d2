package serverutils

import (
	"github.com/gofiber/fiber/v2"

	"debt-negotiation-be/pkg/portalsync"
)

// IdentityMiddleware reads the portal identity the fronting auth layer
// injects. Authentication itself is handled upstream; this service only
// needs to know who is acting and from which portal.
func IdentityMiddleware(ctx *fiber.Ctx) error {
	userID := ctx.Get("X-User-ID")
	if userID == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(Response[any]{
			Success: false,
			Message: "Missing X-User-ID header",
		})
	}

	role := ctx.Get("X-Portal-Role")
	if role != portalsync.RoleCompany && role != portalsync.RoleDebtor {
		return ctx.Status(fiber.StatusUnauthorized).JSON(Response[any]{
			Success: false,
			Message: "X-Portal-Role must be 'company' or 'debtor'",
		})
	}

	ctx.Locals("user_id", userID)
	ctx.Locals("portal_role", role)
	return ctx.Next()
}
