package middleware

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/internal/pkg/ratelimit"
)

// RateLimit admits requests per client address through l. Keys are namespaced by scope so the
// purchase and resolve windows are counted separately. A limiter error lets the request through.
func RateLimit(l ratelimit.Limiter, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, err := l.Allow(c.UserContext(), scope+":"+c.IP())
		if err != nil {
			log.Errorf("[RateLimit] %s check failed, admitting: %v", scope, err)
			return c.Next()
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if d.Allowed {
			return c.Next()
		}
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
	}
}
