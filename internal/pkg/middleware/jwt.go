package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/env"
	"github.com/ManuelReschke/PayProof/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
)

var errMissingSecret = errors.New("JWT_SECRET is not configured")

// AuthConfig holds the bearer token settings
type AuthConfig struct {
	Secret []byte
	Issuer string
}

// LoadAuthConfig reads the token settings from the environment
func LoadAuthConfig() AuthConfig {
	return AuthConfig{
		Secret: []byte(env.GetEnv("JWT_SECRET", "")),
		Issuer: env.GetEnv("JWT_ISSUER", ""),
	}
}

// Claims are the token claims issued by the account service.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for userID.
func IssueToken(cfg AuthConfig, userID uint, role string, ttl time.Duration) (string, error) {
	if len(cfg.Secret) == 0 {
		return "", errMissingSecret
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}

// JWTAuth authenticates requests carrying a bearer token.
func JWTAuth(cfg AuthConfig) fiber.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(c *fiber.Ctx) error {
		if len(cfg.Secret) == 0 {
			log.Errorf("[Auth] %v", errMissingSecret)
			return unauthorized(c, "authentication unavailable")
		}
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			return unauthorized(c, "missing bearer token")
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		})
		if err != nil || !token.Valid {
			log.Debugf("[Auth] Rejected token: %v", err)
			return unauthorized(c, "invalid token")
		}
		if claims.UserID == 0 {
			return unauthorized(c, "token has no user_id")
		}

		role := claims.Role
		if role == "" {
			role = models.ROLE_USER
		}
		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     claims.UserID,
			Role:       role,
			IsLoggedIn: true,
			IsAdmin:    role == models.ROLE_ADMIN,
		})
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": message})
}
