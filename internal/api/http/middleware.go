package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-channel/internal/observability"
	apperrors "github.com/spec-kit/ticket-channel/pkg/util/errorutil"
)

// RegisterMiddlewares attaches request ids, timeouts, the error envelope
// and request logging. The request id is echoed in X-Request-ID.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		Generator:  uuid.NewString,
		ContextKey: observability.RequestIDKey,
	}))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger, metrics))
	app.Use(observability.RequestLogger(logger, metrics))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.Any("panic", r),
					zap.String("request_id", observability.RequestID(c)),
					zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toDomainError(err)
				metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				response := fiber.Map{"error": fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}}
				if len(domainErr.Details) > 0 {
					response["error"].(fiber.Map)["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed", zap.String("request_id", observability.RequestID(c)), zap.Error(domainErr))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// toDomainError also maps fiber's own errors, such as an unmatched route.
func toDomainError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := apperrors.CodeInternal
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			code = apperrors.CodeNotFound
		case fiber.StatusMethodNotAllowed, fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge:
			code = apperrors.CodeValidation
		case fiber.StatusUnauthorized:
			code = apperrors.CodeUnauthorized
		case fiber.StatusForbidden:
			code = apperrors.CodeForbidden
		}
		return apperrors.NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
	}
	return apperrors.ToDomainError(err)
}
