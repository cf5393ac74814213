package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(cfg AuthConfig) *fiber.App {
	app := fiber.New()
	app.Use(JWTAuth(cfg))
	app.Get("/me", RequireAuth, func(c *fiber.Ctx) error {
		u := usercontext.GetUserContext(c)
		return c.JSON(fiber.Map{"user_id": u.UserID, "role": u.Role})
	})
	app.Get("/admin", RequireAdmin, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestJWTAuth(t *testing.T) {
	cfg := AuthConfig{Secret: []byte("test-secret"), Issuer: "payproof-test"}
	app := newAuthApp(cfg)

	userToken, err := IssueToken(cfg, 7, models.ROLE_USER, time.Hour)
	require.NoError(t, err)
	adminToken, err := IssueToken(cfg, 1, models.ROLE_ADMIN, time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(cfg, 7, models.ROLE_USER, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken(AuthConfig{Secret: []byte("other"), Issuer: cfg.Issuer}, 7, models.ROLE_USER, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(AuthConfig{Secret: cfg.Secret, Issuer: "someone-else"}, 7, models.ROLE_USER, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no token", "/me", "", fiber.StatusUnauthorized},
		{"garbage", "/me", "not.a.token", fiber.StatusUnauthorized},
		{"expired", "/me", expired, fiber.StatusUnauthorized},
		{"wrong secret", "/me", foreign, fiber.StatusUnauthorized},
		{"wrong issuer", "/me", wrongIssuer, fiber.StatusUnauthorized},
		{"user", "/me", userToken, fiber.StatusOK},
		{"user on admin route", "/admin", userToken, fiber.StatusForbidden},
		{"admin", "/admin", adminToken, fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, app, tt.path, tt.token))
		})
	}
}

func TestJWTAuthRejectsOtherAlgorithms(t *testing.T) {
	cfg := AuthConfig{Secret: []byte("test-secret")}
	app := newAuthApp(cfg)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: 7}).SignedString(cfg.Secret)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", token))
}

func TestJWTAuthWithoutSecret(t *testing.T) {
	app := newAuthApp(AuthConfig{})
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", "anything"))

	_, err := IssueToken(AuthConfig{}, 1, models.ROLE_USER, time.Hour)
	assert.Error(t, err)
}
