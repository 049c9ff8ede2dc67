package tach

import "time"

// DefaultFrames is the rolling window length used when none is configured.
const DefaultFrames = 60

type frame struct {
	pulses uint32
	dt     time.Duration
}

// Window is a fixed-capacity ring of recent per-cycle pulse deltas. The
// windowed rate is total pulses over total elapsed time of the frames
// present; a partly filled window is averaged over what it holds.
// Not safe for concurrent use.
type Window struct {
	frames []frame
	head   int
	count  int
	pulses uint64
	span   time.Duration
}

// NewWindow returns an empty window. Capacity below 1 is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{frames: make([]frame, capacity)}
}

// Push adds one cycle's delta, evicting the oldest frame when full.
func (w *Window) Push(pulses uint32, dt time.Duration) {
	if w.count == len(w.frames) {
		old := w.frames[w.head]
		w.pulses -= uint64(old.pulses)
		w.span -= old.dt
	} else {
		w.count++
	}
	w.frames[w.head] = frame{pulses: pulses, dt: dt}
	w.head = (w.head + 1) % len(w.frames)
	w.pulses += uint64(pulses)
	w.span += dt
}

// Len returns the number of frames present.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.frames) }

// Pulses returns the pulse total across present frames.
func (w *Window) Pulses() uint64 { return w.pulses }

// Span returns the elapsed time covered by present frames.
func (w *Window) Span() time.Duration { return w.span }

// RPM returns the windowed speed. ok is false when the window is empty or
// covers no time.
func (w *Window) RPM(pulsesPerRev float64) (rpm float64, ok bool) {
	if w.count == 0 || w.span <= 0 || pulsesPerRev <= 0 {
		return 0, false
	}
	return float64(w.pulses) / pulsesPerRev / w.span.Minutes(), true
}

// Reset empties the window.
func (w *Window) Reset() {
	w.head, w.count, w.pulses, w.span = 0, 0, 0, 0
}
