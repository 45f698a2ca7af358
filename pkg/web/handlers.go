package web

import (
	"errors"

	fws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/robocat/pkg/capture"
	"github.com/teslashibe/robocat/pkg/hub"
	"github.com/teslashibe/robocat/pkg/observer"
	"github.com/teslashibe/robocat/pkg/processor"
)

// Status is the body of GET /api/status
type Status struct {
	State       string         `json:"state"`
	Preview     capture.Size   `json:"preview"`
	FPS         float64        `json:"fps"`
	Frames      uint64         `json:"frames"`
	Error       string         `json:"error,omitempty"`
	Observer    observer.Stats `json:"observer"`
	MaskClients int            `json:"mask_clients"`
	FPSClients  int            `json:"fps_clients"`
}

// FPSMessage is sent on /ws/fps
type FPSMessage struct {
	FPS float64 `json:"fps"`
}

func (s *Server) status() Status {
	st := Status{
		State:       s.ctrl.State().String(),
		Preview:     s.ctrl.PreviewSize(),
		FPS:         s.streamer.FPS(),
		Frames:      s.ctrl.Frames(),
		Observer:    s.registry.Stats(),
		MaskClients: s.maskHub.ClientCount(),
		FPSClients:  s.fpsHub.ClientCount(),
	}
	if err := s.ctrl.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// handleStatus returns the processor state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleStart starts the processing loop
func (s *Server) handleStart(c *fiber.Ctx) error {
	return s.startResult(c, "start", s.StartProcessor(s.runContext()))
}

// handleRestart stops the loop if running and starts it again
func (s *Server) handleRestart(c *fiber.Ctx) error {
	return s.startResult(c, "restart", s.RestartProcessor(s.runContext()))
}

func (s *Server) startResult(c *fiber.Ctx, action string, err error) error {
	switch {
	case err == nil:
		s.logger.Info("processing started via api", "action", action, "preview", s.ctrl.PreviewSize().String())
		return c.JSON(s.status())
	case errors.Is(err, processor.ErrAlreadyRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, processor.ErrDeviceUnavailable):
		s.logger.Warn(action+" failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	default:
		s.logger.Error(action+" failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// handleStop asks the loop to stop; it returns before the loop exits
func (s *Server) handleStop(c *fiber.Ctx) error {
	s.ctrl.Stop()
	return c.Status(fiber.StatusAccepted).JSON(s.status())
}

// handleMaskWS streams JPEG masks
func (s *Server) handleMaskWS(c *websocket.Conn) {
	hub.NewClient(s.maskHub, c).Run()
}

// handleFPSWS streams fps changes, starting with the current value
func (s *Server) handleFPSWS(c *fws.Conn) {
	if err := c.WriteJSON(FPSMessage{FPS: s.streamer.FPS()}); err != nil {
		c.Close()
		return
	}
	hub.NewClient(s.fpsHub, c).Run()
}
