// Package processor runs the laser tracking loop.
//
// A Processor owns a capture source for the duration of a run. Start opens
// and configures the camera, then one goroutine grabs frames, thresholds
// them and notifies the registry until Stop is called, the context ends, or
// a frame cannot be retrieved.
//
//	Idle --Start--> Running --Stop--> Stopping --> Idle
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/robocat/internal/log"
	"github.com/teslashibe/robocat/pkg/capture"
	"github.com/teslashibe/robocat/pkg/detect"
	"github.com/teslashibe/robocat/pkg/fps"
	"github.com/teslashibe/robocat/pkg/observer"
	"gocv.io/x/gocv"
)

// Sentinel errors.
var (
	// ErrAlreadyRunning is returned by Start when a run is in progress.
	ErrAlreadyRunning = errors.New("processor: already running")

	// ErrDeviceUnavailable is returned by Start when the camera cannot be set up.
	ErrDeviceUnavailable = errors.New("processor: capture device unavailable")
)

// State is the loop lifecycle state.
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pipeline turns retrieved frames into masks. One Pipeline is created per
// run and closed when the run ends.
type Pipeline interface {
	// Frame is the buffer the capture source retrieves into.
	Frame() *gocv.Mat

	// Process thresholds the current frame.
	Process() (observer.Mask, error)

	Close() error
}

// PipelineFactory creates the Pipeline for a run.
type PipelineFactory func() Pipeline

// Config holds processor settings.
type Config struct {
	// Device is the camera index opened on Start.
	Device int

	// FPSSteps is the frame window of the fps estimator.
	FPSSteps int

	// Fallback is the preview size used when no supported size qualifies.
	Fallback capture.Size
}

// DefaultConfig reads from the second camera with a 20-frame fps window.
func DefaultConfig() Config {
	return Config{
		Device:   capture.SecondCamera,
		FPSSteps: fps.DefaultSteps,
		Fallback: capture.DefaultPreviewSize(),
	}
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the tick source for fps measurement.
func WithClock(clock fps.Clock) Option {
	return func(p *Processor) {
		p.clock = clock
	}
}

// WithPipeline sets the per-run pipeline factory.
func WithPipeline(factory PipelineFactory) Option {
	return func(p *Processor) {
		p.newPipeline = factory
	}
}

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor is the frame processing loop. At most one run is active at a
// time. Start, Stop and the accessors are safe for concurrent use.
type Processor struct {
	cfg         Config
	source      capture.Source
	registry    *observer.Registry
	clock       fps.Clock
	newPipeline PipelineFactory
	logger      *slog.Logger

	state   atomic.Int32
	stopReq atomic.Bool
	frames  atomic.Uint64

	// mu guards the fields below and serializes Start.
	mu      sync.Mutex
	preview capture.Size
	done    chan struct{}
	err     error
}

// New creates an idle Processor reading from source and notifying registry.
func New(cfg Config, source capture.Source, registry *observer.Registry, opts ...Option) *Processor {
	if cfg.FPSSteps < 1 {
		cfg.FPSSteps = fps.DefaultSteps
	}
	if cfg.Fallback.Empty() {
		cfg.Fallback = capture.DefaultPreviewSize()
	}

	p := &Processor{
		cfg:         cfg,
		source:      source,
		registry:    registry,
		clock:       fps.TickClock{},
		newPipeline: func() Pipeline { return detect.NewLaserPipeline() },
		logger:      log.Component("processor"),
		preview:     cfg.Fallback,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start sets up the camera and launches the loop goroutine. Camera errors
// are returned here and leave the processor Idle. The run ends when ctx is
// done or Stop is called.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if State(p.state.Load()) != Idle {
		return ErrAlreadyRunning
	}
	p.stopReq.Store(false)

	size, err := p.setupCamera()
	if err != nil {
		return err
	}

	pipeline := p.newPipeline()
	estimator := fps.New(p.clock, p.cfg.FPSSteps)

	p.preview = size
	p.err = nil
	p.frames.Store(0)
	done := make(chan struct{})
	p.done = done
	p.state.Store(int32(Running))

	p.logger.Info("processing started", "device", p.cfg.Device, "preview", size.String())

	go p.run(ctx, pipeline, estimator, done)
	return nil
}

// setupCamera releases any previous handle, opens the configured device
// and applies the preview size.
func (p *Processor) setupCamera() (capture.Size, error) {
	if err := p.source.Release(); err != nil {
		p.logger.Warn("release before open failed", "error", err)
	}

	if err := p.source.Open(p.cfg.Device); err != nil {
		return capture.Size{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	sizes, err := p.source.SupportedSizes()
	if err != nil {
		p.source.Release()
		return capture.Size{}, fmt.Errorf("%w: list sizes: %w", ErrDeviceUnavailable, err)
	}

	size, ok := capture.SelectPreviewSize(sizes, p.cfg.Fallback)
	if !ok {
		p.logger.Warn("no supported size qualifies, using fallback", "fallback", size.String(), "sizes", len(sizes))
	}

	if err := p.source.Configure(size); err != nil {
		p.source.Release()
		return capture.Size{}, fmt.Errorf("%w: configure %s: %w", ErrDeviceUnavailable, size, err)
	}
	return size, nil
}

// run is the loop goroutine.
func (p *Processor) run(ctx context.Context, pipeline Pipeline, estimator *fps.Estimator, done chan struct{}) {
	var runErr error

	defer func() {
		pipeline.Close()
		if err := p.source.Release(); err != nil {
			p.logger.Warn("camera release failed", "error", err)
		}

		p.mu.Lock()
		p.err = runErr
		p.state.Store(int32(Idle))
		close(done)
		p.mu.Unlock()

		if runErr != nil {
			p.logger.Error("processing failed", "error", runErr, "frames", p.frames.Load())
		} else {
			p.logger.Info("processing stopped", "frames", p.frames.Load())
		}
	}()

	for !p.stopReq.Load() && ctx.Err() == nil {
		// No frame ready: poll again. Grab blocks on real hardware.
		if !p.source.Grab() {
			continue
		}

		if err := p.source.Retrieve(pipeline.Frame(), capture.FormatRGB); err != nil {
			runErr = fmt.Errorf("retrieve frame: %w", err)
			return
		}

		mask, err := pipeline.Process()
		if err != nil {
			runErr = fmt.Errorf("process frame: %w", err)
			return
		}

		p.registry.NotifyMask(mask)
		p.registry.NotifyFPS(estimator.Measure())
		p.frames.Add(1)
	}
}

// Stop asks the loop to finish its current frame and exit. It returns
// immediately and may be called any number of times from any goroutine.
func (p *Processor) Stop() {
	p.stopReq.Store(true)
	if p.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		p.logger.Debug("stop requested")
	}
}

// Done returns a channel closed when the current run ends. Before the
// first Start it returns a closed channel.
func (p *Processor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

// Wait blocks until the current run ends and returns its terminal error.
func (p *Processor) Wait(ctx context.Context) error {
	select {
	case <-p.Done():
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the current run, waits for it to release the camera and
// starts a new run bound to ctx.
func (p *Processor) Restart(ctx context.Context) error {
	p.Stop()
	if err := p.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	return p.Start(ctx)
}

// State returns the lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Err returns the error that ended the last run, or nil.
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// PreviewSize returns the frame size chosen by the last Start.
func (p *Processor) PreviewSize() capture.Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preview
}

// Frames returns the number of frames processed in the current or last run.
func (p *Processor) Frames() uint64 {
	return p.frames.Load()
}

// Registry returns the registry results are sent to.
func (p *Processor) Registry() *observer.Registry {
	return p.registry
}
