package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-channel/internal/domain"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and stores the principal.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes. Browsers cannot set
// headers on a websocket handshake, so a token query parameter is accepted
// as well.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := bearerToken(c)
	if err != nil {
		return err
	}

	principal, err := m.tokens.Authenticate(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apperrors.NewUnauthorized("invalid authorization header")
	}
	return parts[1], nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return domain.Principal{}, false
	}
	principal, ok := val.(domain.Principal)
	return principal, ok
}
