package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mass-payments/internal/config"
	"mass-payments/internal/models"
	"mass-payments/internal/utils"
)

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(cfg), func(c *fiber.Ctx) error {
		p, _ := GetPrincipal(c)
		return c.JSON(p)
	})
	app.Get("/admin", AuthMiddleware(cfg), AdminOnly(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func token(t *testing.T, cfg *config.Config, role string) string {
	t.Helper()
	tok, _, err := utils.GenerateAccessToken(models.User{ID: "u-1", TenantID: "t-1", Username: "alice", Role: role}, cfg.JWTSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestAuthMiddleware(t *testing.T) {
	cfg := config.Defaults()
	app := newApp(cfg)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic abc", fiber.StatusUnauthorized},
		{"bad token", "Bearer not-a-token", fiber.StatusUnauthorized},
		{"valid token", "Bearer " + token(t, cfg, models.RoleUser), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	cfg := config.Defaults()
	app := newApp(cfg)

	for role, want := range map[string]int{
		models.RoleAdmin:    fiber.StatusNoContent,
		models.RoleApprover: fiber.StatusForbidden,
		models.RoleUser:     fiber.StatusForbidden,
	} {
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token(t, cfg, role))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, role)
	}
}
