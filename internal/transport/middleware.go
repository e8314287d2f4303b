package transport

import (
	"strings"

	"github.com/foodbridge/notify-gateway/internal/observability"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const correlationHeader = "X-Correlation-ID"

// CorrelationID tags every request with a correlation id, honoring one the
// caller already set. Downstream code reads it through the request's user
// context, and the response echoes it for client-side tracing.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(correlationHeader))
		if id == "" {
			id = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.Context(), id))
		c.Set(correlationHeader, id)

		return c.Next()
	}
}
