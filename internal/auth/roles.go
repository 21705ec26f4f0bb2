package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// RequireAdmin ensures the caller is support staff.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !principal.IsAdmin() {
			return apperrors.NewForbidden("support staff role required")
		}
		return c.Next()
	}
}

// RequireAnyRole ensures caller is authenticated (user or admin).
func RequireAnyRole() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}
