// Package capture provides camera frame acquisition for the laser tracker.
//
// A Source yields frames in two phases: Grab asks the device for the next
// frame and Retrieve decodes it into a caller-owned Mat. Retrieve is only
// called after a successful Grab, so frames that are never used are never
// decoded.
package capture

import (
	"errors"

	"gocv.io/x/gocv"
)

// Camera indices on a two-camera rig.
const (
	FirstCamera  = 0
	SecondCamera = 1
)

// Sentinel errors.
var (
	// ErrNotOpen is returned when a Source is used before Open or after Release.
	ErrNotOpen = errors.New("capture: source is not open")

	// ErrDeviceUnavailable is returned when the camera cannot be opened.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrNoFrame is returned by Retrieve when no grabbed frame is pending.
	ErrNoFrame = errors.New("capture: no grabbed frame")

	// ErrUnsupportedFormat is returned for an unknown ColorFormat.
	ErrUnsupportedFormat = errors.New("capture: unsupported color format")

	// ErrDeviceLost is returned by Retrieve once the camera has stopped
	// delivering frames for good.
	ErrDeviceLost = errors.New("capture: device lost")
)

// ColorFormat selects the pixel layout Retrieve writes.
type ColorFormat int

// FormatRGB is 8-bit, 3-channel red/green/blue.
const FormatRGB ColorFormat = 0

// String returns the format name.
func (f ColorFormat) String() string {
	if f == FormatRGB {
		return "rgb"
	}
	return "unknown"
}

// Source is a camera that can be opened, probed and read frame by frame.
//
// Implementations are used from a single goroutine except Release, which
// must be idempotent and safe to call on a never-opened source.
type Source interface {
	// Open connects to the camera at the given device index.
	Open(device int) error

	// SupportedSizes reports the frame sizes the camera accepts,
	// in the order the camera reports them.
	SupportedSizes() ([]Size, error)

	// Configure sets the frame size.
	Configure(size Size) error

	// Grab captures the next frame without decoding it. It returns false
	// when no frame is ready; that is not an error. Once the device is
	// lost Grab returns true and Retrieve reports ErrDeviceLost.
	Grab() bool

	// Retrieve decodes the last grabbed frame into dst.
	Retrieve(dst *gocv.Mat, format ColorFormat) error

	// Release closes the camera. Releasing twice is a no-op.
	Release() error
}
