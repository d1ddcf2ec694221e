// Package api exposes the dialer and webhook entry points over HTTP.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/acme/outbound-dialer/internal/api/handlers"
	"github.com/acme/outbound-dialer/internal/app"
)

// Server wraps the Fiber application.
type Server struct {
	app  *fiber.App
	port int
}

// NewServer constructs a new HTTP server.
func NewServer(deps *app.Container, handlerSet *handlers.HandlerSet) *Server {
	cfg := fiber.Config{
		AppName:               deps.Config.App.Name,
		ReadTimeout:           deps.Config.HTTP.ReadTimeout,
		WriteTimeout:          deps.Config.HTTP.WriteTimeout,
		IdleTimeout:           deps.Config.HTTP.IdleTimeout,
		ErrorHandler:          handlerSet.ErrorHandler,
		DisableStartupMessage: true,
	}

	fapp := fiber.New(cfg)
	fapp.Use(recover.New())
	fapp.Use(otelfiber.Middleware())
	fapp.Use(accessLog(deps.Logger.Named("http")))
	handlerSet.Register(fapp)

	return &Server{app: fapp, port: deps.Config.HTTP.Port}
}

// accessLog records one line per request after the handler chain ran.
func accessLog(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}

// Start begins serving HTTP traffic until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	go func() {
		<-ctx.Done()
		_ = s.Shutdown()
	}()
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}
