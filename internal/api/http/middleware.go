package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/observability"
	apperrors "github.com/spec-kit/membership-bot/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
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
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				var status int
				var code, message string
				var details map[string]any

				if fiberErr, ok := err.(*fiber.Error); ok {
					status = fiberErr.Code
					code = "REQUEST_FAILED"
					message = fiberErr.Message
				} else {
					domainErr := apperrors.ToDomainError(err)
					status = domainErr.HTTPStatus
					code = domainErr.Code
					message = domainErr.Message
					details = domainErr.Details
					if status >= 500 {
						logger.Error("request failed", zap.Error(domainErr))
					}
				}

				if metrics != nil {
					metrics.RecordError(c.Path(), c.Method(), code)
				}

				response := fiber.Map{"error": fiber.Map{
					"code":    code,
					"message": message,
				}}
				if len(details) > 0 {
					response["error"].(fiber.Map)["details"] = details
				}
				c.Status(status)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}
