package transport

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/mailtrack/internal/observability"
)

// RequestID assigns X-Request-ID when the caller did not send one.
func RequestID() fiber.Handler {
	return requestid.New()
}

// RequestContext copies the request id set by RequestID into c.UserContext
// so service logs carry it.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := strings.TrimSpace(c.GetRespHeader(fiber.HeaderXRequestID))
		if requestID == "" {
			requestID = strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		}
		if requestID != "" {
			c.SetUserContext(observability.WithRequestID(c.UserContext(), requestID))
		}
		return c.Next()
	}
}
