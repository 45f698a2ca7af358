package capture

import "fmt"

// Preview size bounds.
const (
	// MaxPreviewArea is exclusive: a preview must be smaller than 720p.
	MaxPreviewArea = 1280 * 720

	// MinPreviewWidth is inclusive.
	MinPreviewWidth = 480

	// DefaultPreviewWidth and DefaultPreviewHeight are used when no
	// supported size qualifies.
	DefaultPreviewWidth  = 480
	DefaultPreviewHeight = 320
)

// Size is a frame size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultPreviewSize returns the fallback preview size.
func DefaultPreviewSize() Size {
	return Size{Width: DefaultPreviewWidth, Height: DefaultPreviewHeight}
}

// Area returns width * height.
func (s Size) Area() int {
	return s.Width * s.Height
}

// Empty reports whether either dimension is non-positive.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// String returns "WxH".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Qualifies reports whether s is usable as a preview size.
func (s Size) Qualifies() bool {
	return s.Area() < MaxPreviewArea && s.Width >= MinPreviewWidth
}

// SelectPreviewSize scans sizes in order and returns the last one that
// qualifies. The scan does not look for the best match: a later qualifying
// size always replaces an earlier one, whatever their areas. If none
// qualifies the fallback is returned and ok is false.
func SelectPreviewSize(sizes []Size, fallback Size) (selected Size, ok bool) {
	selected = fallback
	for _, s := range sizes {
		if s.Qualifies() {
			selected = s
			ok = true
		}
	}
	return selected, ok
}
