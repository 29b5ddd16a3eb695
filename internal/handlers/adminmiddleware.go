package handlers

import (
	"github.com/gofiber/fiber/v2"

	"receipt-pipeline/server/internal/chatsession"
	"receipt-pipeline/server/internal/errors"
)

// RequireAdmin gates a route behind the single-operator bearer token.
func RequireAdmin(auth *chatsession.AdminAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := chatsession.ExtractBearerToken(c.Get("Authorization"))
		if err != nil {
			return err
		}
		if err := auth.ValidateToken(token); err != nil {
			return err
		}
		return c.Next()
	}
}

func toAppErr(err error) *errors.AppError {
	if appErr, ok := errors.IsAppError(err); ok {
		return appErr
	}
	return errors.New(errors.TransientStorage, err.Error())
}
