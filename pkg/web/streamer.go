package web

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/robocat/internal/log"
	"github.com/teslashibe/robocat/pkg/hub"
	"github.com/teslashibe/robocat/pkg/observer"
)

// DefaultJPEGQuality is the mask stream JPEG quality.
const DefaultJPEGQuality = 80

// Streamer is the observer.Listener that publishes results to websocket
// hubs. It owns buffer recycling: every mask it receives goes back to the
// pool once encoded or skipped. Register it after any other listener that
// reads mask buffers.
type Streamer struct {
	pool    *observer.BufferPool
	masks   *hub.Hub
	fpsHub  *hub.Hub
	quality int
	logger  *slog.Logger

	// Cap 1: at most one mask waits for the encoder.
	frames chan *image.RGBA

	mu   sync.Mutex
	size image.Point

	// lastFPS is touched only on the processing goroutine.
	lastFPS float64
	fpsBits atomic.Uint64

	encoded atomic.Uint64
	skipped atomic.Uint64
}

// NewStreamer creates a streamer recycling into pool.
func NewStreamer(pool *observer.BufferPool, masks, fps *hub.Hub, quality int) *Streamer {
	return &Streamer{
		pool:    pool,
		masks:   masks,
		fpsHub:  fps,
		quality: quality,
		logger:  log.Component("streamer"),
		frames:  make(chan *image.RGBA, 1),
	}
}

// OnMaskReady hands the mask to the encoder goroutine. If the encoder is
// still busy the mask is skipped and its buffer recycled at once.
func (s *Streamer) OnMaskReady(img *image.RGBA) {
	select {
	case s.frames <- img:
	default:
		s.skipped.Add(1)
		s.recycle(img)
	}
}

// OnFpsUpdate broadcasts the frame rate when it changes.
func (s *Streamer) OnFpsUpdate(fps float64) {
	s.fpsBits.Store(math.Float64bits(fps))
	if fps == s.lastFPS {
		return
	}
	s.lastFPS = fps
	if err := s.fpsHub.BroadcastJSON(FPSMessage{FPS: fps}); err != nil {
		s.logger.Warn("fps encode failed", "error", err)
	}
}

// FPS returns the latest frame rate.
func (s *Streamer) FPS() float64 {
	return math.Float64frombits(s.fpsBits.Load())
}

// Run encodes masks until ctx is done.
func (s *Streamer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case img := <-s.frames:
			s.publish(img)
		}
	}
}

func (s *Streamer) publish(img *image.RGBA) {
	if s.masks.ClientCount() == 0 {
		s.recycle(img)
		return
	}

	var buf bytes.Buffer
	err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality})
	s.recycle(img)
	if err != nil {
		s.logger.Warn("mask encode failed", "error", err)
		return
	}

	s.masks.BroadcastBinary(buf.Bytes())
	s.encoded.Add(1)
}

// Resize sets the mask buffer size and refills the pool with buffers of
// that size. Buffers of any other size are discarded when they come back.
func (s *Streamer) Resize(width, height int) {
	s.mu.Lock()
	s.size = image.Pt(width, height)
	s.mu.Unlock()

	s.pool.Drain()
	n := s.pool.Fill(width, height)
	s.logger.Debug("mask buffers allocated", "width", width, "height", height, "count", n)
}

func (s *Streamer) recycle(img *image.RGBA) {
	s.mu.Lock()
	size := s.size
	s.mu.Unlock()

	if img.Bounds().Size() == size {
		s.pool.Put(img)
	}
}

// Encoded returns how many masks were sent to clients.
func (s *Streamer) Encoded() uint64 {
	return s.encoded.Load()
}

// Skipped returns how many masks arrived while the encoder was busy.
func (s *Streamer) Skipped() uint64 {
	return s.skipped.Load()
}
