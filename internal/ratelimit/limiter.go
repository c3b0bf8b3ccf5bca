package ratelimit

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/sefazor/portfolio-billing/internal/models"
)

type Config struct {
	Max    int
	Window time.Duration
	// Storage shares counters between instances. Nil keeps them in process.
	Storage fiber.Storage
	// KeyPrefix separates limiters that share one storage.
	KeyPrefix string
}

// New returns a sliding window limiter keyed by the authenticated uid, or the
// client IP for anonymous requests.
func New(cfg Config) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               cfg.Max,
		Expiration:        cfg.Window,
		Storage:           cfg.Storage,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, ok := c.Locals("uid").(string); ok && uid != "" {
				return cfg.KeyPrefix + "uid:" + uid
			}
			return cfg.KeyPrefix + "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse("Too many requests, slow down"))
		},
	})
}
