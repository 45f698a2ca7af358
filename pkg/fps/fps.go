// Package fps measures frame rate over fixed windows of frames.
package fps

import "gocv.io/x/gocv"

// DefaultSteps is the window length: fps is recomputed every DefaultSteps frames.
const DefaultSteps = 20

// Clock is a high-resolution tick source.
//
// TickCount must increase strictly between two recomputations of an
// Estimator; the estimator does not guard against a zero interval.
type Clock interface {
	TickCount() float64
	TickFrequency() float64
}

// TickClock reads OpenCV's tick counter.
type TickClock struct{}

// TickCount returns gocv.GetTickCount.
func (TickClock) TickCount() float64 { return gocv.GetTickCount() }

// TickFrequency returns gocv.GetTickFrequency.
func (TickClock) TickFrequency() float64 { return gocv.GetTickFrequency() }

// Estimator computes a windowed frame rate.
//
// Every Steps-th call to Measure computes Steps * frequency / elapsed ticks
// since the previous window and caches it; all other calls return the
// cached value, which is 0 until the first window completes.
//
// An Estimator is not safe for concurrent use.
type Estimator struct {
	clock     Clock
	steps     int
	counter   int
	frequency float64
	prevTick  float64
	last      float64
}

// New creates an Estimator and starts its first window now.
// Steps below 1 fall back to DefaultSteps.
func New(clock Clock, steps int) *Estimator {
	if steps < 1 {
		steps = DefaultSteps
	}
	e := &Estimator{clock: clock, steps: steps}
	e.Reset()
	return e
}

// Reset zeroes the counter and cached value and starts a new window.
func (e *Estimator) Reset() {
	e.counter = 0
	e.last = 0
	e.frequency = e.clock.TickFrequency()
	e.prevTick = e.clock.TickCount()
}

// Measure counts one frame and returns the current estimate.
func (e *Estimator) Measure() float64 {
	e.counter++
	if e.counter%e.steps == 0 {
		now := e.clock.TickCount()
		e.last = float64(e.steps) * e.frequency / (now - e.prevTick)
		e.prevTick = now
	}
	return e.last
}

// Last returns the cached estimate without counting a frame.
func (e *Estimator) Last() float64 {
	return e.last
}

// Frames returns the number of Measure calls since the last Reset.
func (e *Estimator) Frames() int {
	return e.counter
}

// Steps returns the window length.
func (e *Estimator) Steps() int {
	return e.steps
}
