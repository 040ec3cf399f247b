package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/internal/pkg/security"
)

// ClientSignature rejects requests whose X-Client-Hmac does not match the raw body.
// With no secret configured every request passes.
func ClientSignature(v security.RequestVerifier) fiber.Handler {
	if !v.Enabled() {
		log.Warn("[Middleware] CLIENT_HMAC_SECRET not set, client signatures are not verified")
	}
	return func(c *fiber.Ctx) error {
		err := v.Verify(c.Body(), c.Get(security.ClientTimestampHeader), c.Get(security.ClientSignatureHeader))
		if err == nil {
			return c.Next()
		}
		code := "invalid_signature"
		if errors.Is(err, security.ErrStaleSignature) {
			code = "stale_signature"
		}
		log.Warnf("[Middleware] %s %s from %s: %v", c.Method(), c.Path(), c.IP(), err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": code})
	}
}
