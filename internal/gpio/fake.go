package gpio

import (
	"sync"
	"sync/atomic"
)

// FakeInputs is a test double with scripted hall samples, settable encoder
// and thermistor values, and simulated edges delivered through the same
// Handlers the real inputs use.
type FakeInputs struct {
	mu sync.Mutex

	// Samples contains scripted hall states. Each call to Halls consumes
	// the next sample; the last one repeats. No samples reads untriggered.
	Samples []HallSample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, is returned by Halls.
	ReadError error

	// ThermError, if set, is returned by Thermistors.
	ThermError error

	therm    []int
	position atomic.Int64
	skipped  atomic.Uint64
	h        Handlers
}

// HallSample is one logical hall reading.
type HallSample struct {
	Inbound  bool
	Outbound bool
}

// NewFakeInputs creates FakeInputs bound to h.
func NewFakeInputs(h Handlers, samples ...HallSample) *FakeInputs {
	return &FakeInputs{Samples: samples, h: h}
}

// Halls returns the next scripted sample.
func (f *FakeInputs) Halls() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, false, nil
	}

	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return s.Inbound, s.Outbound, nil
}

// SetHalls replaces the script with one repeating sample.
func (f *FakeInputs) SetHalls(inbound, outbound bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples = []HallSample{{Inbound: inbound, Outbound: outbound}}
	f.index = 0
}

// SetEncoder sets the reported encoder position.
func (f *FakeInputs) SetEncoder(pos int64) {
	f.position.Store(pos)
}

// EncoderPosition returns the position set by SetEncoder.
func (f *FakeInputs) EncoderPosition() int64 {
	return f.position.Load()
}

// SetEncoderSkipped sets the reported ambiguous transition count.
func (f *FakeInputs) SetEncoderSkipped(n uint64) {
	f.skipped.Store(n)
}

// EncoderSkipped returns the count set by SetEncoderSkipped.
func (f *FakeInputs) EncoderSkipped() uint64 {
	return f.skipped.Load()
}

// SetThermistors sets the raw thermistor readings.
func (f *FakeInputs) SetThermistors(v ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.therm = append([]int(nil), v...)
}

// Thermistors returns a copy of the values set by SetThermistors.
func (f *FakeInputs) Thermistors() ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ThermError != nil {
		return nil, f.ThermError
	}
	return append([]int(nil), f.therm...), nil
}

// EngineEdges simulates n engine geartooth falling edges.
func (f *FakeInputs) EngineEdges(n int) {
	for i := 0; i < n; i++ {
		f.h.call(f.h.EngineEdge)
	}
}

// GearboxEdges simulates n gearbox geartooth falling edges.
func (f *FakeInputs) GearboxEdges(n int) {
	for i := 0; i < n; i++ {
		f.h.call(f.h.GearboxEdge)
	}
}

// PressEstop simulates the estop edge.
func (f *FakeInputs) PressEstop() {
	f.h.call(f.h.Estop)
}

// Close marks the inputs as closed.
func (f *FakeInputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset rewinds the hall script.
func (f *FakeInputs) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Closed = false
}
