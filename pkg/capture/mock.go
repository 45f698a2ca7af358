package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// Mock implements Source for testing.
// All methods can be customized via function fields.
type Mock struct {
	// OpenFunc is called when Open is invoked.
	// If nil, Open succeeds.
	OpenFunc func(device int) error

	// Sizes is returned by SupportedSizes when SizesFunc is nil.
	Sizes []Size

	// SizesFunc is called when SupportedSizes is invoked.
	SizesFunc func() ([]Size, error)

	// GrabFunc is called when Grab is invoked.
	// If nil, Grab returns true.
	GrabFunc func() bool

	// RetrieveFunc is called when Retrieve is invoked.
	// If nil, Retrieve leaves dst untouched and returns nil.
	RetrieveFunc func(dst *gocv.Mat, format ColorFormat) error

	mu         sync.Mutex
	calls      []string
	open       bool
	configured Size
	device     int
	releases   int
	lost       bool
}

// NewMock creates a mock source reporting the given sizes.
func NewMock(sizes ...Size) *Mock {
	return &Mock{Sizes: sizes}
}

// Open records the call and marks the mock open.
func (m *Mock) Open(device int) error {
	m.record("Open")
	if m.OpenFunc != nil {
		if err := m.OpenFunc(device); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.open = true
	m.lost = false
	m.device = device
	m.mu.Unlock()
	return nil
}

// SupportedSizes returns Sizes or the result of SizesFunc.
func (m *Mock) SupportedSizes() ([]Size, error) {
	m.record("SupportedSizes")
	if m.SizesFunc != nil {
		return m.SizesFunc()
	}
	return m.Sizes, nil
}

// Configure records the configured size.
func (m *Mock) Configure(size Size) error {
	m.record("Configure")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return ErrNotOpen
	}
	m.configured = size
	return nil
}

// Lose simulates an unplugged camera: Grab returns true and Retrieve
// returns ErrDeviceLost until the next Open.
func (m *Mock) Lose() {
	m.mu.Lock()
	m.lost = true
	m.mu.Unlock()
}

func (m *Mock) isLost() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lost
}

// Grab calls GrabFunc.
func (m *Mock) Grab() bool {
	m.record("Grab")
	if m.isLost() {
		return true
	}
	if m.GrabFunc != nil {
		return m.GrabFunc()
	}
	return true
}

// Retrieve calls RetrieveFunc.
func (m *Mock) Retrieve(dst *gocv.Mat, format ColorFormat) error {
	m.record("Retrieve")
	if m.isLost() {
		return ErrDeviceLost
	}
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(dst, format)
	}
	return nil
}

// Release marks the mock closed. Repeated calls are counted but harmless.
func (m *Mock) Release() error {
	m.record("Release")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.releases++
	return nil
}

// IsOpen reports whether Open succeeded and Release has not been called since.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Configured returns the last configured size.
func (m *Mock) Configured() Size {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured
}

// Device returns the last opened device index.
func (m *Mock) Device() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Releases returns how many times Release was called.
func (m *Mock) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// CallCount returns the number of calls to the named method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// Calls returns all recorded method names in order.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) record(method string) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
}
