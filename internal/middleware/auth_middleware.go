package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/models"
	jwtPkg "github.com/sefazor/portfolio-billing/pkg/jwt"
	"go.uber.org/zap"
)

// Locals keys set by AuthMiddleware.
const (
	LocalUID   = "uid"
	LocalEmail = "email"
	LocalRole  = "role"
)

func AuthMiddleware(tokens *jwtPkg.Manager, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse("Authorization header is required"))
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse("Invalid authorization header format"))
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		claims, err := tokens.ValidateToken(tokenString)
		if err != nil {
			logger.Debug("token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse("Invalid token"))
		}

		c.Locals(LocalUID, claims.UID)
		c.Locals(LocalEmail, claims.Email)
		c.Locals(LocalRole, claims.Role)

		return c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware. Callers pass if their token
// carries the admin role or their email is listed as an admin.
func AdminMiddleware(isAdminEmail func(string) bool, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(string)
		email, _ := c.Locals(LocalEmail).(string)
		if role == "admin" || (email != "" && isAdminEmail(email)) {
			return c.Next()
		}

		uid, _ := c.Locals(LocalUID).(string)
		logger.Warn("admin access denied", zap.String("uid", uid), zap.String("path", c.Path()))
		return c.Status(fiber.StatusForbidden).JSON(models.ErrorResponse("Admin access required"))
	}
}
