package serverutils

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every REST endpoint returns.
type Response[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

func SuccessResponse[T any](message string, data T) Response[T] {
	return Response[T]{
		Success: true,
		Message: message,
		Data:    data,
	}
}

var validate = validator.New()

// ValidationError marks a request that failed struct validation so the error
// middleware maps it to a 400.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return &ValidationError{Detail: err.Error()}
	}
	return nil
}

// ErrorHandlerMiddleware converts errors bubbled out of controllers into the
// response envelope. Validation errors become 400s, fiber errors keep their
// code, everything else is a 500.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		var vErr *ValidationError
		if errors.As(err, &vErr) {
			return ctx.Status(fiber.StatusBadRequest).JSON(Response[any]{
				Success: false,
				Message: fmt.Sprintf("Invalid request: %s", vErr.Detail),
			})
		}

		var fErr *fiber.Error
		if errors.As(err, &fErr) {
			return ctx.Status(fErr.Code).JSON(Response[any]{
				Success: false,
				Message: fErr.Message,
			})
		}

		return ctx.Status(fiber.StatusInternalServerError).JSON(Response[any]{
			Success: false,
			Message: err.Error(),
		})
	}
}
