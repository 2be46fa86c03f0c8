package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/storage/memory/v2"

	"github.com/crudkit-io/crudkit/internal/observability"
)

// RateLimiterConfig holds configuration for one rate limiter.
type RateLimiterConfig struct {
	Name       string
	Max        int
	Expiration time.Duration
	KeyFunc    func(fiber.Ctx) string
	Message    string
}

// NewRateLimiter creates a rate limiter middleware backed by in-process
// memory storage. Limits are per-instance; a multi-instance deployment needs
// centralized limiting in front of the service.
func NewRateLimiter(cfg RateLimiterConfig, metrics *observability.Metrics) fiber.Handler {
	storage := memory.New(memory.Config{
		GCInterval: 10 * time.Minute,
	})

	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c fiber.Ctx) string {
			return c.IP()
		}
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %s allowed.",
			cfg.Max, cfg.Expiration.String())
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}

	return limiter.New(limiter.Config{
		Max:          cfg.Max,
		Expiration:   cfg.Expiration,
		KeyGenerator: cfg.KeyFunc,
		LimitReached: func(c fiber.Ctx) error {
			if metrics != nil {
				metrics.RecordRateLimitHit(name)
			}
			retryAfter := int(cfg.Expiration.Seconds())
			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"code":        "RATE_LIMIT_EXCEEDED",
				"error":       "Rate limit exceeded",
				"message":     cfg.Message,
				"retry_after": retryAfter,
			})
		},
		Storage: storage,
	})
}
