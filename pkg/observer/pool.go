package observer

import (
	"image"
	"sync/atomic"
)

// BufferPool is a bounded queue of display buffers supplied by the host.
//
// The processing loop takes one buffer per frame and never waits: when the
// pool is empty the frame's mask is dropped. The host controls throughput
// by how quickly it puts buffers back.
type BufferPool struct {
	buffers chan *image.RGBA
	misses  atomic.Uint64
}

// NewBufferPool creates an empty pool holding at most capacity buffers.
func NewBufferPool(capacity int) *BufferPool {
	if capacity < 1 {
		capacity = 1
	}
	return &BufferPool{buffers: make(chan *image.RGBA, capacity)}
}

// Fill allocates width x height buffers until the pool is full and returns
// how many were added.
func (p *BufferPool) Fill(width, height int) int {
	added := 0
	for {
		if !p.Put(image.NewRGBA(image.Rect(0, 0, width, height))) {
			return added
		}
		added++
	}
}

// Get takes a buffer without blocking. ok is false when the pool is empty.
func (p *BufferPool) Get() (img *image.RGBA, ok bool) {
	select {
	case img = <-p.buffers:
		return img, true
	default:
		p.misses.Add(1)
		return nil, false
	}
}

// Put returns a buffer without blocking. It reports false, discarding the
// buffer, when the pool is already full. Nil buffers are ignored.
func (p *BufferPool) Put(img *image.RGBA) bool {
	if img == nil {
		return false
	}
	select {
	case p.buffers <- img:
		return true
	default:
		return false
	}
}

// Drain removes every buffer and returns how many were removed.
func (p *BufferPool) Drain() int {
	n := 0
	for {
		select {
		case <-p.buffers:
			n++
		default:
			return n
		}
	}
}

// Len returns the number of buffers currently available.
func (p *BufferPool) Len() int {
	return len(p.buffers)
}

// Cap returns the pool capacity.
func (p *BufferPool) Cap() int {
	return cap(p.buffers)
}

// Misses returns how many Get calls found the pool empty.
func (p *BufferPool) Misses() uint64 {
	return p.misses.Load()
}
