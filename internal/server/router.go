package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/img-vault/img-vault/internal/manager"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger      *logrus.Logger
	Manager     *manager.Manager
	HostAllowed func(host string) bool
	ListenPort  int
}

const contextKeyRequestID = "_imgvault_request_id"

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and the asset/diagnostics routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Manager == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	allowed := opts.HostAllowed
	if allowed == nil {
		allowed = func(string) bool { return true }
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &assetHandler{
		manager: opts.Manager,
		logger:  opts.Logger,
		allowed: allowed,
	}

	app.Get("/assets", h.serveAsset)
	app.Post("/-/prewarm", h.preWarm)
	app.Delete("/-/cache", h.flushAll)
	app.Get("/-/stats", h.stats)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 UUID，同时充当该请求的消费者标识。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
