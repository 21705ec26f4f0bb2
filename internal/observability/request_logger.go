package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RequestIDKey is the fiber Locals key holding the request id.
const RequestIDKey = "requestid"

// RequestID returns the id assigned to the current request, if any.
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(RequestIDKey).(string)
	return id
}

// RequestLogger logs every request and feeds the request metrics.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		metrics.RecordRequest(route, c.Method(), status, latency)

		fields := []zap.Field{
			zap.String("request_id", RequestID(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", latency),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		if status >= fiber.StatusInternalServerError {
			logger.Warn("request", fields...)
		} else {
			logger.Info("request", fields...)
		}
		return err
	}
}
