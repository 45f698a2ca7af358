package capture

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/robocat/internal/log"
	"gocv.io/x/gocv"
)

// Device is a Source backed by an OpenCV VideoCapture.
//
// OpenCV has no portable call that lists camera modes, so SupportedSizes
// asks the camera for every probe size and keeps the sizes it accepts.
type Device struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	index   int
	logger  *slog.Logger

	// staging holds the grabbed, undecoded frame until Retrieve.
	staging gocv.Mat
	pending bool
	probes  []Size

	// failures counts consecutive failed reads.
	failures    int
	maxFailures int
	lost        bool
}

// DefaultMaxReadFailures is the number of consecutive failed reads after
// which an open camera is treated as lost.
const DefaultMaxReadFailures = 100

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithProbeSizes overrides the sizes tried by SupportedSizes.
func WithProbeSizes(sizes []Size) DeviceOption {
	return func(d *Device) {
		d.probes = sizes
	}
}

// WithMaxReadFailures sets how many consecutive failed reads mark the
// camera lost.
func WithMaxReadFailures(n int) DeviceOption {
	return func(d *Device) {
		if n > 0 {
			d.maxFailures = n
		}
	}
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(logger *slog.Logger) DeviceOption {
	return func(d *Device) {
		d.logger = logger
	}
}

// NewDevice creates an unopened Device.
func NewDevice(opts ...DeviceOption) *Device {
	d := &Device{
		index:       -1,
		probes:      ProbeOrder(),
		maxFailures: DefaultMaxReadFailures,
		logger:      log.Component("capture"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open connects to the camera. Any previously open camera is released first.
func (d *Device) Open(device int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.releaseLocked()

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("%w: camera %d: %v", ErrDeviceUnavailable, device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: camera %d did not open", ErrDeviceUnavailable, device)
	}

	d.capture = vc
	d.index = device
	d.staging = gocv.NewMat()
	d.pending = false
	d.failures = 0
	d.lost = false

	d.logger.Info("camera opened", "device", device)
	return nil
}

// SupportedSizes sets each probe size and records what the camera
// actually switched to. Duplicates are reported once, at first sighting.
func (d *Device) SupportedSizes() ([]Size, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil, ErrNotOpen
	}

	seen := make(map[Size]bool, len(d.probes))
	var sizes []Size
	for _, probe := range d.probes {
		d.capture.Set(gocv.VideoCaptureFrameWidth, float64(probe.Width))
		d.capture.Set(gocv.VideoCaptureFrameHeight, float64(probe.Height))

		got := Size{
			Width:  int(d.capture.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(d.capture.Get(gocv.VideoCaptureFrameHeight)),
		}
		if got.Empty() || seen[got] {
			continue
		}
		seen[got] = true
		sizes = append(sizes, got)
	}

	d.logger.Debug("probed camera sizes", "device", d.index, "sizes", sizes)
	return sizes, nil
}

// Configure sets the capture frame size.
func (d *Device) Configure(size Size) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return ErrNotOpen
	}
	d.capture.Set(gocv.VideoCaptureFrameWidth, float64(size.Width))
	d.capture.Set(gocv.VideoCaptureFrameHeight, float64(size.Height))

	d.logger.Info("camera configured", "device", d.index, "size", size.String())
	return nil
}

// Grab reads the next frame into the staging buffer. A camera that closes
// or fails DefaultMaxReadFailures reads in a row is marked lost, and Grab
// then returns true so the caller's Retrieve sees ErrDeviceLost.
func (d *Device) Grab() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return false
	}
	if d.lost {
		return true
	}
	if ok := d.capture.Read(&d.staging); !ok || d.staging.Empty() {
		d.pending = false
		if d.readFailed(d.capture.IsOpened()) {
			d.logger.Error("camera lost", "device", d.index, "failed_reads", d.failures)
			return true
		}
		return false
	}
	d.failures = 0
	d.pending = true
	return true
}

// readFailed records a failed read and reports whether the camera is lost.
func (d *Device) readFailed(opened bool) bool {
	d.failures++
	if !opened || d.failures >= d.maxFailures {
		d.lost = true
	}
	return d.lost
}

// Retrieve converts the staged frame into dst.
func (d *Device) Retrieve(dst *gocv.Mat, format ColorFormat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return ErrNotOpen
	}
	if d.lost {
		return fmt.Errorf("%w: camera %d", ErrDeviceLost, d.index)
	}
	if !d.pending {
		return ErrNoFrame
	}
	d.pending = false

	if format != FormatRGB {
		return fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}
	gocv.CvtColor(d.staging, dst, gocv.ColorBGRToRGB)
	return nil
}

// Release closes the camera. It is safe to call repeatedly.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseLocked()
}

func (d *Device) releaseLocked() error {
	if d.capture == nil {
		return nil
	}

	// Clear the handle before closing so a failed close is never retried.
	vc := d.capture
	d.capture = nil
	d.pending = false
	d.failures = 0
	d.lost = false
	d.staging.Close()

	err := vc.Close()
	d.logger.Info("camera released", "device", d.index)
	return err
}
