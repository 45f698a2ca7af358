// Package observer fans processing results out to registered listeners.
//
// The Registry is shared between the processing goroutine, which notifies,
// and any number of other goroutines, which register and unregister.
// Notification iterates a snapshot of the membership taken at call time.
package observer

import "image"

// Listener receives results from the processing loop.
//
// Both methods run synchronously on the processing goroutine, so a slow
// listener delays the next frame. Listeners with expensive work should hand
// it off to their own goroutine.
type Listener interface {
	// OnMaskReady receives the rendered mask. The same buffer is passed to
	// every listener; it belongs to the pool owner, who recycles it.
	OnMaskReady(img *image.RGBA)

	// OnFpsUpdate receives the current frame rate estimate every frame.
	OnFpsUpdate(fps float64)
}

// Mask is a processing result that can be drawn into a display buffer.
type Mask interface {
	RenderTo(dst *image.RGBA) error
}

// Funcs adapts two functions to a Listener. Register it by pointer.
type Funcs struct {
	Mask func(img *image.RGBA)
	FPS  func(fps float64)
}

// OnMaskReady calls f.Mask if set.
func (f *Funcs) OnMaskReady(img *image.RGBA) {
	if f.Mask != nil {
		f.Mask(img)
	}
}

// OnFpsUpdate calls f.FPS if set.
func (f *Funcs) OnFpsUpdate(fps float64) {
	if f.FPS != nil {
		f.FPS(fps)
	}
}
