package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberSwagger "github.com/swaggo/fiber-swagger"
	"go.uber.org/zap"

	"github.com/soilloss/rusle-pipeline/internal/config"
	"github.com/soilloss/rusle-pipeline/internal/delivery/http/handler"
	"github.com/soilloss/rusle-pipeline/internal/delivery/http/middleware"
)

// Server is the fiber HTTP server exposing the orchestrator's 8 operations
// (C7) as JSON routes.
type Server struct {
	app    *fiber.App
	config *config.Config
	logger *zap.Logger

	erosion *handler.ErosionHandler
}

// NewServer builds the fiber app and wires every route to erosionHandler.
func NewServer(cfg *config.Config, logger *zap.Logger, erosionHandler *handler.ErosionHandler) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "RUSLE Erosion Pipeline",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorHandler: customErrorHandler(logger),
	})

	s := &Server{
		app:     app,
		config:  cfg,
		logger:  logger,
		erosion: erosionHandler,
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(middleware.Recovery())
	s.app.Use(middleware.Logger(s.logger))
	s.app.Use(middleware.CORS())
	s.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
}

// setupRoutes mounts the 8 orchestrator operations. tile-serve is mounted
// at cfg.Server.TileURLPrefix so the literal path matches the tiles_url
// template region/district get-or-queue/status-probe responses advertise
// (custom-record tiles_url values are not served by this route).
func (s *Server) setupRoutes() {
	s.app.Get("/swagger/*", fiberSwagger.WrapHandler)

	api := s.app.Group("/api/erosion")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "time": time.Now()})
	})

	api.Post("/areas/:area_type/:area_id", s.erosion.GetOrQueue)
	api.Post("/custom", s.erosion.GetOrQueueCustom)
	api.Get("/status/:area_type/:area_id/:period_label", s.erosion.StatusProbe)
	api.Get("/tasks/:task_id", s.erosion.TaskStatus)

	callbacks := api.Group("/callbacks")
	callbacks.Post("/task-started", s.erosion.TaskStarted)
	callbacks.Post("/task-complete", s.erosion.TaskComplete)
	callbacks.Post("/task-failed", s.erosion.TaskFailed)

	s.app.Get(s.config.Server.TileURLPrefix+"/:area_type/:area_id/:period_label/:z/:x/:y.png", s.erosion.TileServe)
}

// Start runs the HTTP server; blocks until the listener exits.
func (s *Server) Start() error {
	addr := s.config.GetServerAddr()
	s.logger.Info("starting HTTP server", zap.String("address", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.app.ShutdownWithContext(ctx)
}

func customErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		logger.Error("http error",
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": fiber.Map{
				"code":    "InternalServerError",
				"message": err.Error(),
			},
		})
	}
}
