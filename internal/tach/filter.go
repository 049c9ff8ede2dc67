package tach

// ExpFilter is a first-order low-pass filter:
//
//	value' = alpha*sample + (1-alpha)*value
//
// Alpha is fixed at construction. The state starts at zero.
type ExpFilter struct {
	alpha float64
	value float64
}

// NewExpFilter returns a filter with the given smoothing factor, which must
// be in (0, 1].
func NewExpFilter(alpha float64) *ExpFilter {
	return &ExpFilter{alpha: alpha}
}

// Step feeds one sample and returns the new state.
func (f *ExpFilter) Step(sample float64) float64 {
	f.value = f.alpha*sample + (1-f.alpha)*f.value
	return f.value
}

// Value returns the current state.
func (f *ExpFilter) Value() float64 { return f.value }

// Alpha returns the smoothing factor.
func (f *ExpFilter) Alpha() float64 { return f.alpha }

// Reset returns the state to zero.
func (f *ExpFilter) Reset() { f.value = 0 }
