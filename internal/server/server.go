// Package server wires the registries, the durable store, and the HTTP app
// together and owns their shutdown order.
package server

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/handlers"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/pty"
	"github.com/jterm-dev/jterm/internal/recording"
	"github.com/jterm-dev/jterm/internal/storage"
	"github.com/jterm-dev/jterm/internal/ws"
)

// Server is the composed jterm backend.
type Server struct {
	cfg     *config.Config
	app     *fiber.App
	store   *storage.Store
	ptys    *pty.Registry
	recs    *recording.Registry
	manager *ws.Manager
}

// New builds the full service: store, registries, connection manager, and the
// fiber app with all routes registered under /v1.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	store, err := storage.Open(ctx, cfg.DatabasePath(), cfg.Recording.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("open recording store: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		ptys:    pty.NewRegistry(cfg.Terminal.ReapInterval),
		recs:    recording.NewRegistry(cfg.Recording, store),
		manager: ws.NewManager(cfg.WebSocket),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "jterm",
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"sessions": s.ptys.Count(),
		})
	})

	v1 := s.app.Group("/v1")
	handlers.NewTerminalHandler(cfg, s.ptys, s.recs, s.manager).RegisterRoutes(v1)
	handlers.NewSessionsHandler(s.ptys, s.recs, s.manager).RegisterRoutes(v1)
	handlers.NewRecordingsHandler(s.recs).RegisterRoutes(v1)

	return s, nil
}

// App exposes the fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until Shutdown is called.
func (s *Server) Listen() error {
	logger.Infof("jterm listening on %s (data dir %s)", s.cfg.Addr, s.cfg.DataDir)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops the HTTP app, then tears down connections, recorders, and
// PTYs, and finally closes the store. Order matters: no new work can arrive
// once the listener is down, and recorders flush before the store closes.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	s.manager.Shutdown()
	s.recs.Shutdown()
	s.ptys.Shutdown()
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	logger.Infof("jterm shut down")
	return nil
}
