// Package safety holds the emergency-stop latch shared between the estop
// edge handler and every motor-commanding path.
package safety

import (
	"sync/atomic"
	"time"
)

// Monitor latches an emergency stop. AssertEstop is safe to call from an
// edge handler goroutine; it never blocks.
type Monitor struct {
	asserted atomic.Bool
	// assertions counts AssertEstop calls, including repeats while latched.
	assertions atomic.Uint64
	// since holds UnixNano of the first assertion of the current latch.
	since atomic.Int64
	now   func() time.Time
}

// NewMonitor returns a Monitor in the safe state.
func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

// AssertEstop latches the emergency stop. Only Reset clears it.
func (m *Monitor) AssertEstop() {
	m.assertions.Add(1)
	if m.asserted.CompareAndSwap(false, true) {
		m.since.Store(m.now().UnixNano())
	}
}

// IsSafe reports whether motor commands may be issued.
func (m *Monitor) IsSafe() bool {
	return !m.asserted.Load()
}

// Asserted reports the latch state. It is the inverse of IsSafe.
func (m *Monitor) Asserted() bool {
	return m.asserted.Load()
}

// Since returns when the current latch was set. Zero if not asserted.
func (m *Monitor) Since() time.Time {
	if !m.asserted.Load() {
		return time.Time{}
	}
	return time.Unix(0, m.since.Load())
}

// Assertions returns how many times AssertEstop has been called.
func (m *Monitor) Assertions() uint64 {
	return m.assertions.Load()
}

// Reset clears the latch. This is the operator-driven path; nothing in the
// control cycle calls it.
func (m *Monitor) Reset() {
	m.asserted.Store(false)
	m.since.Store(0)
}
