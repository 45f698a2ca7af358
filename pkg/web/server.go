// Package web serves the laser preview: control endpoints, live mask and
// fps websocket streams, and the static viewer.
package web

import (
	"context"
	"log/slog"
	"sync"

	fws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/robocat/internal/config"
	"github.com/teslashibe/robocat/internal/log"
	"github.com/teslashibe/robocat/pkg/capture"
	"github.com/teslashibe/robocat/pkg/hub"
	"github.com/teslashibe/robocat/pkg/observer"
	"github.com/teslashibe/robocat/pkg/processor"
)

// Controller is the processing loop as seen by the server.
type Controller interface {
	Start(ctx context.Context) error
	Restart(ctx context.Context) error
	Stop()
	State() processor.State
	PreviewSize() capture.Size
	Frames() uint64
	Err() error
}

// Config holds server settings.
type Config struct {
	Port        string
	StaticDir   string
	JPEGQuality int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:        config.DefaultListenPort,
		StaticDir:   config.DefaultStaticDir,
		JPEGQuality: DefaultJPEGQuality,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the preview web server
type Server struct {
	cfg      Config
	app      *fiber.App
	ctrl     Controller
	registry *observer.Registry
	logger   *slog.Logger

	// Hubs for websocket broadcast
	maskHub *hub.Hub
	fpsHub  *hub.Hub

	streamer *Streamer

	// runCtx bounds processor runs started over HTTP; request contexts end
	// with the request.
	mu     sync.Mutex
	runCtx context.Context
}

// NewServer creates the preview server for ctrl, streaming results
// delivered through registry.
func NewServer(cfg Config, ctrl Controller, registry *observer.Registry, opts ...Option) *Server {
	if cfg.Port == "" {
		cfg.Port = config.DefaultListenPort
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}

	s := &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		registry: registry,
		logger:   log.Component("web"),
		maskHub:  hub.New("mask"),
		fpsHub:   hub.New("fps"),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streamer = NewStreamer(registry.Pool(), s.maskHub, s.fpsHub, cfg.JPEGQuality)
	registry.Register(s.streamer)

	app := fiber.New(fiber.Config{
		AppName:               "robocat",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/start", s.handleStart)
	api.Post("/stop", s.handleStop)
	api.Post("/restart", s.handleRestart)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/mask", websocket.New(s.handleMaskWS))
	app.Get("/ws/fps", fws.New(s.handleFPSWS))

	s.app = app
	return s
}

// Start runs the hubs and the mask encoder and serves HTTP until ctx is
// done. Processor runs started through the API
// are bound to ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	go s.maskHub.Run(ctx)
	go s.fpsHub.Run(ctx)
	go s.streamer.Run(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("shutdown failed", "error", err)
		}
	}()

	s.logger.Info("preview server listening", "url", config.ServerURL("localhost", s.cfg.Port))
	return s.app.Listen(":" + s.cfg.Port)
}

// StartProcessor starts a processing run bound to ctx and sizes the mask
// buffers to the preview it selected.
func (s *Server) StartProcessor(ctx context.Context) error {
	if err := s.ctrl.Start(ctx); err != nil {
		return err
	}
	s.resizeMasks()
	return nil
}

// RestartProcessor stops any current run, waits for it to release the
// camera and starts a new run bound to ctx.
func (s *Server) RestartProcessor(ctx context.Context) error {
	if err := s.ctrl.Restart(ctx); err != nil {
		return err
	}
	s.resizeMasks()
	return nil
}

func (s *Server) resizeMasks() {
	size := s.ctrl.PreviewSize()
	s.streamer.Resize(size.Width, size.Height)
}

func (s *Server) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Streamer returns the listener that feeds the websocket streams.
func (s *Server) Streamer() *Streamer {
	return s.streamer
}

// Shutdown stops the HTTP server. Hubs stop with the Start context.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
