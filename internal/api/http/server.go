package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/refresh"
	"github.com/i474232898/river-flow-aggregation/internal/river"
	"github.com/i474232898/river-flow-aggregation/internal/store"
)

const serviceName = "river-flow-aggregation"

// NewApp builds the Fiber app with middleware, health, metrics and API
// routes. metrics may be nil to serve the default Prometheus registry.
func NewApp(svc Service, metrics http.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          ErrorHandler,
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})

	if metrics == nil {
		metrics = promhttp.Handler()
	}
	app.Get("/metrics", adaptor.HTTPHandler(metrics))

	RegisterRoutes(app, svc)
	return app
}

// ErrorHandler renders every error as {"error": true, "message": ...} with a
// status derived from the error taxonomy.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		zap.L().Warn("request failed",
			zap.String("component", "api"),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, store.ErrNotFound), errors.Is(err, river.ErrNoData):
		return fiber.StatusNotFound
	case errors.Is(err, river.ErrInvalidIdentifier):
		return fiber.StatusBadRequest
	case errors.Is(err, refresh.ErrDisabled):
		return fiber.StatusNotImplemented
	case errors.Is(err, river.ErrNetworkFailure), errors.Is(err, river.ErrDecoding), errors.Is(err, refresh.ErrAllSourcesFailed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
