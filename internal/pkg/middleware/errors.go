package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/passgate/passgate/internal/pkg/apperr"
)

// ErrorHandler renders every error that reaches fiber as {"error": code, ...}.
// Unclassified errors are logged and reported as a generic internal error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fiberCode(fe.Code), "message": fe.Message})
	}

	e, ok := apperr.As(err)
	if !ok {
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
	}

	status := e.Status()
	body := fiber.Map{}
	for k, v := range e.Details {
		body[k] = v
	}
	body["error"] = e.Code
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
	} else if e.Message != "" {
		body["message"] = e.Message
	}
	return c.Status(status).JSON(body)
}

func fiberCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusBadRequest:
		return "bad_request"
	default:
		if status >= fiber.StatusInternalServerError {
			return "internal_error"
		}
		return "request_failed"
	}
}
