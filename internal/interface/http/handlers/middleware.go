package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/schoolhub/student-ledger/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// HeaderActorID carries the id of the user performing a request. The
// gateway in front of the API authenticates the user and sets it.
const HeaderActorID = "X-Actor-ID"

const localActorID = "actor_id"

// ActorMiddleware rejects mutating requests without an actor id.
func ActorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := c.Get(HeaderActorID)
		if actor == "" && isMutating(c.Method()) {
			return fiber.NewError(fiber.StatusUnauthorized, HeaderActorID+" header is required")
		}
		c.Locals(localActorID, actor)
		return c.Next()
	}
}

// ActorID returns the actor stored by ActorMiddleware.
func ActorID(c *fiber.Ctx) string {
	if v, ok := c.Locals(localActorID).(string); ok {
		return v
	}
	return ""
}

func isMutating(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestLogger logs each request and puts a request-scoped logger into the
// user context so handlers and commands log with the request id.
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID, _ := c.Locals("requestid").(string)
		reqLog := log.WithRequestID(requestID)
		c.SetUserContext(logger.WithContext(c.UserContext(), reqLog))

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		fields := []logger.Field{
			logger.String("method", c.Method()),
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
		}
		if actor := ActorID(c); actor != "" {
			fields = append(fields, logger.ActorID(actor))
		}

		switch {
		case status >= 500:
			reqLog.Error("request failed", fields...)
		case status >= 400:
			reqLog.Warn("request rejected", fields...)
		default:
			reqLog.Info("request", fields...)
		}
		return err
	}
}
