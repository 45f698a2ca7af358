package observer

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/teslashibe/robocat/internal/log"
)

type entry struct {
	id       uuid.UUID
	listener Listener
}

// Stats is a snapshot of registry activity.
type Stats struct {
	Listeners     int    `json:"listeners"`
	MasksSent     uint64 `json:"masks_sent"`
	MasksDropped  uint64 `json:"masks_dropped"`
	RenderErrors  uint64 `json:"render_errors"`
	FpsUpdates    uint64 `json:"fps_updates"`
	PoolAvailable int    `json:"pool_available"`
}

// Registry is a concurrency-safe set of listeners plus the buffer pool
// masks are rendered into.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	pool    *BufferPool
	logger  *slog.Logger

	masksSent    atomic.Uint64
	masksDropped atomic.Uint64
	renderErrors atomic.Uint64
	fpsUpdates   atomic.Uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry drawing buffers from pool.
func NewRegistry(pool *BufferPool, opts ...Option) *Registry {
	r := &Registry{
		pool:   pool,
		logger: log.Component("observer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pool returns the registry's buffer pool.
func (r *Registry) Pool() *BufferPool {
	return r.pool
}

// Register adds a listener and returns its registration id. Registering a
// listener that is already present returns the existing id.
// Listener values must be comparable; register pointers.
func (r *Registry) Register(l Listener) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.listener == l {
			return e.id
		}
	}

	id := uuid.New()
	r.entries = append(r.entries, entry{id: id, listener: l})
	r.logger.Debug("listener registered", "id", id, "total", len(r.entries))
	return id
}

// Unregister removes a listener and reports whether it was present.
func (r *Registry) Unregister(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.listener != l {
			continue
		}
		// Copy-on-write: snapshots already handed out keep their backing array.
		next := make([]entry, 0, len(r.entries)-1)
		next = append(next, r.entries[:i]...)
		next = append(next, r.entries[i+1:]...)
		r.entries = next
		r.logger.Debug("listener unregistered", "id", e.id, "total", len(r.entries))
		return true
	}
	return false
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// snapshot returns the current membership. The returned slice is never
// mutated; Register appends past its length and Unregister reallocates.
func (r *Registry) snapshot() []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[:len(r.entries):len(r.entries)]
}

// NotifyMask renders m into a pooled buffer and hands that buffer to every
// listener. With no listener registered the pool is left untouched. With no
// buffer available the mask is dropped without error and NotifyMask returns
// false. A buffer that fails to render, typically one sized for an earlier
// preview, is discarded rather than returned.
func (r *Registry) NotifyMask(m Mask) bool {
	listeners := r.snapshot()
	if len(listeners) == 0 {
		return false
	}

	buf, ok := r.pool.Get()
	if !ok {
		r.masksDropped.Add(1)
		return false
	}

	if err := m.RenderTo(buf); err != nil {
		r.renderErrors.Add(1)
		r.masksDropped.Add(1)
		r.logger.Debug("mask render failed", "error", err)
		return false
	}

	for _, e := range listeners {
		e.listener.OnMaskReady(buf)
	}
	r.masksSent.Add(1)
	return true
}

// NotifyFPS sends the frame rate to every listener.
func (r *Registry) NotifyFPS(fps float64) {
	for _, e := range r.snapshot() {
		e.listener.OnFpsUpdate(fps)
	}
	r.fpsUpdates.Add(1)
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Listeners:     r.Len(),
		MasksSent:     r.masksSent.Load(),
		MasksDropped:  r.masksDropped.Load(),
		RenderErrors:  r.renderErrors.Load(),
		FpsUpdates:    r.fpsUpdates.Load(),
		PoolAvailable: r.pool.Len(),
	}
}
