package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/crudkit-io/crudkit/internal/config"
)

// Locals keys populated by the auth middleware.
const (
	LocalsUserID = "user_id"
	LocalsRole   = "role"
	LocalsClaims = "claims"
)

// JWTAuth extracts the principal from a Bearer token. Requests without a
// token pass through anonymously; requests with an invalid token are
// rejected. Resource auth hooks read the principal from Locals.
func JWTAuth(cfg config.AuthConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !cfg.Enabled {
			return c.Next()
		}

		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return c.Next()
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header",
			})
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil {
			log.Debug().Err(err).Msg("Rejected request with invalid token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			c.Locals(LocalsUserID, sub)
		}
		if role, ok := claims["role"].(string); ok {
			c.Locals(LocalsRole, role)
		}
		c.Locals(LocalsClaims, claims)
		return c.Next()
	}
}
