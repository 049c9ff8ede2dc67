//go:build !linux

package gpio

import "errors"

// RealInputs is not available on non-Linux platforms.
type RealInputs struct{}

// NewRealInputs returns an error on non-Linux platforms.
func NewRealInputs(pins Pins, h Handlers) (*RealInputs, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Halls is not implemented on non-Linux platforms.
func (r *RealInputs) Halls() (bool, bool, error) {
	return false, false, errors.New("gpio: not supported")
}

// EncoderPosition is not implemented on non-Linux platforms.
func (r *RealInputs) EncoderPosition() int64 { return 0 }

// EncoderSkipped is not implemented on non-Linux platforms.
func (r *RealInputs) EncoderSkipped() uint64 { return 0 }

// Thermistors is not implemented on non-Linux platforms.
func (r *RealInputs) Thermistors() ([]int, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealInputs) Close() error {
	return nil
}
