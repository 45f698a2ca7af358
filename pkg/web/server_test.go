package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/robocat/pkg/capture"
	"github.com/teslashibe/robocat/pkg/observer"
	"github.com/teslashibe/robocat/pkg/processor"
)

// fakeController implements Controller for testing.
type fakeController struct {
	mu       sync.Mutex
	state    processor.State
	size     capture.Size
	frames   uint64
	startErr error
	runErr   error
	starts   int
	stops    int
	restarts int
}

func (c *fakeController) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.state = processor.Running
	return nil
}

func (c *fakeController) Restart(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarts++
	if c.startErr != nil {
		c.state = processor.Idle
		return c.startErr
	}
	c.state = processor.Running
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.state = processor.Idle
}

func (c *fakeController) State() processor.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) PreviewSize() capture.Size { return c.size }
func (c *fakeController) Frames() uint64 { return c.frames }
func (c *fakeController) Err() error { return c.runErr }

func newTestServer(ctrl *fakeController) (*Server, *observer.Registry) {
	reg := observer.NewRegistry(observer.NewBufferPool(2))
	cfg := DefaultConfig()
	cfg.StaticDir = ""
	return NewServer(cfg, ctrl, reg), reg
}

func decodeStatus(t *testing.T, body io.Reader) Status {
	t.Helper()
	var st Status
	if err := json.NewDecoder(body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func TestHandleStatus(t *testing.T) {
	ctrl := &fakeController{
		size:   capture.Size{Width: 640, Height: 480},
		frames: 42,
		runErr: errors.New("retrieve frame: device gone"),
	}
	s, _ := newTestServer(ctrl)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/status", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("Status = %d, want 200", resp.StatusCode)
	}

	st := decodeStatus(t, resp.Body)
	if st.State != "idle" {
		t.Errorf("state = %q, want idle", st.State)
	}
	if st.Preview != ctrl.size {
		t.Errorf("preview = %v, want %v", st.Preview, ctrl.size)
	}
	if st.Frames != 42 {
		t.Errorf("frames = %d, want 42", st.Frames)
	}
	if st.Error != "retrieve frame: device gone" {
		t.Errorf("error = %q", st.Error)
	}
}

func TestHandleStart(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		want     int
	}{
		{"started", nil, 200},
		{"already running", processor.ErrAlreadyRunning, 409},
		{"device unavailable", fmt.Errorf("%w: %w", processor.ErrDeviceUnavailable, capture.ErrDeviceUnavailable), 503},
		{"other failure", errors.New("boom"), 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{size: capture.Size{Width: 8, Height: 6}, startErr: tc.startErr}
			s, reg := newTestServer(ctrl)

			resp, err := s.app.Test(httptest.NewRequest("POST", "/api/start", nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tc.want)
			}
			if ctrl.starts != 1 {
				t.Errorf("Start called %d times, want 1", ctrl.starts)
			}

			pool := reg.Pool()
			if tc.startErr != nil {
				if pool.Len() != 0 {
					t.Errorf("pool filled after failed start: %d", pool.Len())
				}
				return
			}
			if pool.Len() != pool.Cap() {
				t.Fatalf("pool len = %d, want %d", pool.Len(), pool.Cap())
			}
			img, _ := pool.Get()
			if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
				t.Errorf("buffer = %v, want preview size", img.Bounds())
			}
		})
	}
}

func TestHandleRestart(t *testing.T) {
	tests := []struct {
		name     string
		state    processor.State
		startErr error
		want     int
	}{
		{"from running", processor.Running, nil, 200},
		{"from idle", processor.Idle, nil, 200},
		{"device unavailable", processor.Running, fmt.Errorf("%w: %w", processor.ErrDeviceUnavailable, capture.ErrDeviceUnavailable), 503},
		{"other failure", processor.Running, errors.New("boom"), 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{state: tc.state, size: capture.Size{Width: 8, Height: 6}, startErr: tc.startErr}
			s, reg := newTestServer(ctrl)

			resp, err := s.app.Test(httptest.NewRequest("POST", "/api/restart", nil))
			if err != nil {
				t.Fatalf("Request error: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Errorf("Status = %d, want %d", resp.StatusCode, tc.want)
			}
			if ctrl.restarts != 1 || ctrl.starts != 0 {
				t.Errorf("restarts = %d starts = %d, want 1 and 0", ctrl.restarts, ctrl.starts)
			}

			if tc.startErr != nil {
				return
			}
			if st := decodeStatus(t, resp.Body); st.State != "running" {
				t.Errorf("state = %q, want running", st.State)
			}
			if pool := reg.Pool(); pool.Len() != pool.Cap() {
				t.Errorf("pool len = %d, want %d", pool.Len(), pool.Cap())
			}
		})
	}
}

func TestNewServerRegistersStreamer(t *testing.T) {
	s, reg := newTestServer(&fakeController{})
	if reg.Len() != 1 {
		t.Fatalf("registry Len = %d, want 1", reg.Len())
	}
	if !reg.Unregister(s.Streamer()) {
		t.Error("streamer not registered by NewServer")
	}
}

func TestHandleStop(t *testing.T) {
	ctrl := &fakeController{state: processor.Running}
	s, _ := newTestServer(ctrl)

	for i := 0; i < 2; i++ {
		resp, err := s.app.Test(httptest.NewRequest("POST", "/api/stop", nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if resp.StatusCode != 202 {
			t.Errorf("Status = %d, want 202", resp.StatusCode)
		}
	}
	if ctrl.stops != 2 {
		t.Errorf("Stop called %d times, want 2", ctrl.stops)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(&fakeController{})

	for _, path := range []string{"/ws/mask", "/ws/fps"} {
		resp, err := s.app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if resp.StatusCode != 426 {
			t.Errorf("%s: Status = %d, want 426", path, resp.StatusCode)
		}
	}
}

// whiteMask renders an all-white mask.
type whiteMask struct{}

func (whiteMask) RenderTo(dst *image.RGBA) error {
	for i := range dst.Pix {
		dst.Pix[i] = 255
	}
	return nil
}

func TestServerStreams(t *testing.T) {
	ctrl := &fakeController{size: capture.Size{Width: 8, Height: 4}}
	reg := observer.NewRegistry(observer.NewBufferPool(2))
	cfg := Config{Port: "18091", JPEGQuality: 90}
	s := NewServer(cfg, ctrl, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := s.StartProcessor(ctx); err != nil {
		t.Fatalf("StartProcessor: %v", err)
	}

	fpsWS, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/fps", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer fpsWS.Close()

	maskWS, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws/mask", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer maskWS.Close()

	var msg FPSMessage
	fpsWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := fpsWS.ReadJSON(&msg); err != nil || msg.FPS != 0 {
		t.Fatalf("initial fps = %v, %v; want 0", msg.FPS, err)
	}

	waitFor(t, func() bool { return s.fpsHub.ClientCount() == 1 && s.maskHub.ClientCount() == 1 })

	reg.NotifyMask(whiteMask{})
	reg.NotifyFPS(25)

	if err := fpsWS.ReadJSON(&msg); err != nil || msg.FPS != 25 {
		t.Errorf("fps = %v, %v; want 25", msg.FPS, err)
	}

	maskWS.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := maskWS.ReadMessage()
	if err != nil {
		t.Fatalf("read mask: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d, want binary", kind)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 4 {
		t.Errorf("mask bounds = %v, want 8x4", img.Bounds())
	}

	waitFor(t, func() bool { return reg.Pool().Len() == 2 })
}
