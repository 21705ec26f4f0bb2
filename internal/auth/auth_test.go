package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-channel/internal/domain"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	token, expires, err := tm.GenerateToken("admin-1", domain.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if expires.IsZero() {
		t.Fatal("expected expiry")
	}
	principal, err := tm.Authenticate(token)
	if err != nil {
		t.Fatal(err)
	}
	if principal.UserID != "admin-1" || !principal.IsAdmin() {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestAuthenticateRejectsForeignAndMalformedTokens(t *testing.T) {
	ours := NewTokenManager("secret", 5)
	theirs := NewTokenManager("other", 5)
	token, _, _ := theirs.GenerateToken("u1", domain.RoleUser)
	if _, err := ours.Authenticate(token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
	bad, _, _ := ours.GenerateToken("u1", domain.Role("ROOT"))
	if _, err := ours.Authenticate(bad); err == nil {
		t.Fatal("unknown role must be rejected")
	}
	if _, err := ours.Authenticate("not-a-jwt"); err == nil {
		t.Fatal("garbage must be rejected")
	}
}

func TestMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		domainErr := apperrors.ToDomainError(err)
		return c.Status(domainErr.HTTPStatus).SendString(domainErr.Code)
	}})
	mw := NewAuthMiddleware(tm)
	app.Get("/me", mw.Handle, RequireAnyRole(), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.UserID)
	})
	app.Get("/admin", mw.Handle, RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	userToken, _, _ := tm.GenerateToken("u1", domain.RoleUser)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/me", "", fiber.StatusUnauthorized},
		{"bad scheme", "/me", "Basic abc", fiber.StatusUnauthorized},
		{"bearer", "/me", "Bearer " + userToken, fiber.StatusOK},
		{"query token", "/me?token=" + userToken, "", fiber.StatusOK},
		{"user on admin route", "/admin", "Bearer " + userToken, fiber.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("got %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}
