package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sefazor/portfolio-billing/internal/middleware"
	"github.com/sefazor/portfolio-billing/internal/service"
)

type caller struct {
	UID   string
	Email string
}

func currentCaller(c *fiber.Ctx) (caller, error) {
	uid, _ := c.Locals(middleware.LocalUID).(string)
	if uid == "" {
		return caller{}, service.ErrUnauthorized
	}
	email, _ := c.Locals(middleware.LocalEmail).(string)
	return caller{UID: uid, Email: email}, nil
}
