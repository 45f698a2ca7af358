// Package detect isolates a red laser dot in camera frames.
//
// Frames are converted to full-range HSV (hue 0-255), the hue channel is
// rotated so the red band no longer straddles the 0/255 wrap, and an
// inclusive band-pass produces a binary mask.
package detect

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/teslashibe/robocat/internal/log"
	"github.com/teslashibe/robocat/pkg/observer"
	"gocv.io/x/gocv"
)

// HueRotation is added to every hue sample before thresholding. It moves
// hue 255 (red) to 128. The addition saturates at 0, so hues below 127 all
// collapse to 0.
const HueRotation = 128 - 255

// Inclusive HSV band for the laser dot, in rotated full-range hue.
const (
	HueLow  = 114
	SatLow  = 135
	ValLow  = 135
	HueHigh = 142
	SatHigh = 255
	ValHigh = 255
)

// Sentinel errors.
var (
	// ErrEmptyFrame is returned when there is nothing to process or render.
	ErrEmptyFrame = errors.New("detect: empty frame")

	// ErrSizeMismatch is returned when a render target differs from the mask size.
	ErrSizeMismatch = errors.New("detect: buffer size does not match mask")
)

// LowerBound returns the lower HSV threshold.
func LowerBound() gocv.Scalar {
	return gocv.NewScalar(HueLow, SatLow, ValLow, 0)
}

// UpperBound returns the upper HSV threshold.
func UpperBound() gocv.Scalar {
	return gocv.NewScalar(HueHigh, SatHigh, ValHigh, 0)
}

// LaserPipeline owns the working Mats for one processing run. Mats are
// allocated once and reused for every frame.
//
// A LaserPipeline is not safe for concurrent use.
type LaserPipeline struct {
	frame  gocv.Mat
	hsv    gocv.Mat
	offset gocv.Mat
	mask   gocv.Mat
	rgba   gocv.Mat
	logger *slog.Logger
	closed bool
}

// NewLaserPipeline allocates the working Mats.
func NewLaserPipeline() *LaserPipeline {
	return &LaserPipeline{
		frame:  gocv.NewMat(),
		hsv:    gocv.NewMat(),
		offset: gocv.NewMat(),
		mask:   gocv.NewMat(),
		rgba:   gocv.NewMat(),
		logger: log.Component("detect"),
	}
}

// Frame returns the input Mat the capture source retrieves RGB frames into.
func (p *LaserPipeline) Frame() *gocv.Mat {
	return &p.frame
}

// Process thresholds the current frame. The returned Mask refers to the
// pipeline's buffers and is valid until the next Process or Close.
func (p *LaserPipeline) Process() (observer.Mask, error) {
	if p.frame.Empty() {
		return nil, ErrEmptyFrame
	}
	if p.frame.Channels() != 3 {
		return nil, fmt.Errorf("detect: want 3-channel RGB frame, got %d channels", p.frame.Channels())
	}

	gocv.CvtColor(p.frame, &p.hsv, gocv.ColorRGBToHSVFull)

	p.ensureOffset(p.hsv.Rows(), p.hsv.Cols())
	// Subtracting -HueRotation from hue saturates exactly like adding HueRotation.
	gocv.Subtract(p.hsv, p.offset, &p.hsv)

	gocv.InRangeWithScalar(p.hsv, LowerBound(), UpperBound(), &p.mask)

	return &Mask{mask: &p.mask, rgba: &p.rgba}, nil
}

// ensureOffset keeps a constant (-HueRotation, 0, 0) Mat the size of the frame.
func (p *LaserPipeline) ensureOffset(rows, cols int) {
	if !p.offset.Empty() && p.offset.Rows() == rows && p.offset.Cols() == cols {
		return
	}
	p.offset.Close()
	p.offset = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(-HueRotation, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC3)
	p.logger.Debug("hue offset allocated", "rows", rows, "cols", cols)
}

// Close releases the working Mats. Closing twice is a no-op.
func (p *LaserPipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	for _, m := range []*gocv.Mat{&p.frame, &p.hsv, &p.offset, &p.mask, &p.rgba} {
		m.Close()
	}
	return nil
}

// Mask is a binary laser mask ready to be drawn into display buffers.
type Mask struct {
	mask *gocv.Mat
	rgba *gocv.Mat
}

// Size returns the mask dimensions.
func (m *Mask) Size() image.Point {
	return image.Pt(m.mask.Cols(), m.mask.Rows())
}

// RenderTo draws the mask as opaque white-on-black into dst, which must
// have exactly the mask's dimensions.
func (m *Mask) RenderTo(dst *image.RGBA) error {
	if m.mask.Empty() {
		return ErrEmptyFrame
	}
	cols, rows := m.mask.Cols(), m.mask.Rows()
	if b := dst.Bounds(); b.Dx() != cols || b.Dy() != rows {
		return fmt.Errorf("%w: buffer %dx%d, mask %dx%d", ErrSizeMismatch, b.Dx(), b.Dy(), cols, rows)
	}

	gocv.CvtColor(*m.mask, m.rgba, gocv.ColorGrayToRGBA)
	data := m.rgba.ToBytes()

	rowBytes := cols * 4
	if dst.Stride == rowBytes {
		copy(dst.Pix, data)
		return nil
	}
	for y := 0; y < rows; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowBytes], data[y*rowBytes:(y+1)*rowBytes])
	}
	return nil
}
