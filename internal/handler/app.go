package handler

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/netevents/internal/observability"
	"go.uber.org/zap"
)

// NewApp builds the admin HTTP server with request metrics and a
// /metrics scrape endpoint.
func NewApp(metrics *observability.Metrics, logger *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "netevents-admin",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	return app
}
