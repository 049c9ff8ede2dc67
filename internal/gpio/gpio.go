// Package gpio provides the actuator's digital and analog inputs with
// hardware abstraction. The real implementation uses the Linux GPIO
// character device and IIO sysfs. The fake allows testing without hardware.
package gpio

// Inputs reads the sensors the control cycle samples. Edge-driven inputs
// (geartooth pulses, estop) are delivered through Handlers instead.
type Inputs interface {
	// Halls returns the logical end-of-travel switch states.
	// The sensors pull their line low when triggered: raw 0 = triggered.
	Halls() (inbound, outbound bool, err error)

	// EncoderPosition returns the actuator quadrature count.
	EncoderPosition() int64

	// EncoderSkipped counts ambiguous encoder transitions, where a missed
	// edge left the direction unknown.
	EncoderSkipped() uint64

	// Thermistors returns raw ADC counts, one per configured channel.
	Thermistors() ([]int, error)

	// Close releases hardware resources.
	Close() error
}

// Handlers are invoked from edge-event context. They must not block.
type Handlers struct {
	EngineEdge  func()
	GearboxEdge func()
	Estop       func()
}

func (h Handlers) call(f func()) {
	if f != nil {
		f()
	}
}

// Pins are GPIO line offsets on Chip plus the IIO channels of the
// thermistors.
type Pins struct {
	Chip         string `yaml:"chip" env:"CHIP"`
	Estop        int    `yaml:"estop" env:"ESTOP"`
	EncoderA     int    `yaml:"encoder_a" env:"ENCODER_A"`
	EncoderB     int    `yaml:"encoder_b" env:"ENCODER_B"`
	HallInbound  int    `yaml:"hall_inbound" env:"HALL_INBOUND"`
	HallOutbound int    `yaml:"hall_outbound" env:"HALL_OUTBOUND"`
	EngineTooth  int    `yaml:"engine_geartooth" env:"ENGINE_GEARTOOTH"`
	GearboxTooth int    `yaml:"gearbox_geartooth" env:"GEARBOX_GEARTOOTH"`

	// IIODevice is the sysfs directory of the ADC, e.g.
	// /sys/bus/iio/devices/iio:device0.
	IIODevice   string `yaml:"iio_device" env:"IIO_DEVICE"`
	Thermistors []int  `yaml:"thermistors" env:"THERMISTORS" envSeparator:","`
}

// Lines returns the GPIO line offsets keyed by role, for duplicate checks.
func (p Pins) Lines() map[string]int {
	return map[string]int{
		"estop":             p.Estop,
		"encoder_a":         p.EncoderA,
		"encoder_b":         p.EncoderB,
		"hall_inbound":      p.HallInbound,
		"hall_outbound":     p.HallOutbound,
		"engine_geartooth":  p.EngineTooth,
		"gearbox_geartooth": p.GearboxTooth,
	}
}
