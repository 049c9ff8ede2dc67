//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// RealInputs reads the actuator sensors from actual hardware using the
// Linux GPIO character device.
type RealInputs struct {
	chip    *gpiocdev.Chip
	halls   *gpiocdev.Lines // inbound, outbound
	encoder *gpiocdev.Lines // A, B
	estop   *gpiocdev.Line
	engine  *gpiocdev.Line
	gearbox *gpiocdev.Line

	pins  Pins
	h     Handlers
	quad  Quadrature
	encA  atomic.Bool
	encB  atomic.Bool
	therm *IIOThermistors
}

// NewRealInputs requests every input line. Edge handlers start firing as
// soon as their line is requested.
func NewRealInputs(pins Pins, h Handlers) (*RealInputs, error) {
	chipName := pins.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	r := &RealInputs{
		chip:  chip,
		pins:  pins,
		h:     h,
		therm: NewIIOThermistors(pins.IIODevice, pins.Thermistors),
	}

	// Hall sensors are open-collector: pull-up, pulled low when triggered.
	r.halls, err = chip.RequestLines([]int{pins.HallInbound, pins.HallOutbound},
		gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		return nil, r.fail(fmt.Errorf("request hall pins %d,%d: %w", pins.HallInbound, pins.HallOutbound, err))
	}

	r.encoder, err = chip.RequestLines([]int{pins.EncoderA, pins.EncoderB},
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.onEncoder))
	if err != nil {
		return nil, r.fail(fmt.Errorf("request encoder pins %d,%d: %w", pins.EncoderA, pins.EncoderB, err))
	}
	levels := make([]int, 2)
	if err := r.encoder.Values(levels); err != nil {
		return nil, r.fail(fmt.Errorf("read encoder pins: %w", err))
	}
	r.encA.Store(levels[0] == 1)
	r.encB.Store(levels[1] == 1)
	r.quad.Sync(levels[0] == 1, levels[1] == 1)

	r.engine, err = chip.RequestLine(pins.EngineTooth,
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { h.call(h.EngineEdge) }))
	if err != nil {
		return nil, r.fail(fmt.Errorf("request engine geartooth pin %d: %w", pins.EngineTooth, err))
	}

	r.gearbox, err = chip.RequestLine(pins.GearboxTooth,
		gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { h.call(h.GearboxEdge) }))
	if err != nil {
		return nil, r.fail(fmt.Errorf("request gearbox geartooth pin %d: %w", pins.GearboxTooth, err))
	}

	r.estop, err = chip.RequestLine(pins.Estop,
		gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithRisingEdge,
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { h.call(h.Estop) }))
	if err != nil {
		return nil, r.fail(fmt.Errorf("request estop pin %d: %w", pins.Estop, err))
	}

	return r, nil
}

func (r *RealInputs) fail(err error) error {
	if cerr := r.Close(); cerr != nil {
		return multierr.Append(err, cerr)
	}
	return err
}

func (r *RealInputs) onEncoder(evt gpiocdev.LineEvent) {
	high := evt.Type == gpiocdev.LineEventRisingEdge
	switch evt.Offset {
	case r.pins.EncoderA:
		r.encA.Store(high)
	case r.pins.EncoderB:
		r.encB.Store(high)
	}
	r.quad.Edge(r.encA.Load(), r.encB.Load())
}

// Halls returns the logical hall states. Raw 0 = triggered.
func (r *RealInputs) Halls() (bool, bool, error) {
	v := make([]int, 2)
	if err := r.halls.Values(v); err != nil {
		return false, false, fmt.Errorf("read hall pins: %w", err)
	}
	return v[0] == 0, v[1] == 0, nil
}

// EncoderPosition returns the decoded quadrature count.
func (r *RealInputs) EncoderPosition() int64 {
	return r.quad.Position()
}

// EncoderSkipped returns the decoder's ambiguous transition count.
func (r *RealInputs) EncoderSkipped() uint64 {
	return r.quad.Skipped()
}

// Thermistors returns raw ADC counts from IIO sysfs.
func (r *RealInputs) Thermistors() ([]int, error) {
	return r.therm.Read()
}

// Close releases all lines and the chip. Every resource is closed even if
// an earlier one fails.
func (r *RealInputs) Close() error {
	var err error
	if r.estop != nil {
		err = multierr.Append(err, wrapClose("estop", r.estop.Close()))
	}
	if r.engine != nil {
		err = multierr.Append(err, wrapClose("engine geartooth", r.engine.Close()))
	}
	if r.gearbox != nil {
		err = multierr.Append(err, wrapClose("gearbox geartooth", r.gearbox.Close()))
	}
	if r.encoder != nil {
		err = multierr.Append(err, wrapClose("encoder", r.encoder.Close()))
	}
	if r.halls != nil {
		err = multierr.Append(err, wrapClose("hall", r.halls.Close()))
	}
	if r.chip != nil {
		err = multierr.Append(err, wrapClose("chip", r.chip.Close()))
	}
	return err
}

func wrapClose(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", what, err)
}
