// Package config loads the actuator configuration from YAML with
// environment overrides. Values are resolved once at startup and handed to
// components by value.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/cvt-actuator/internal/gpio"
	"github.com/sweeney/cvt-actuator/internal/odrive"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete daemon configuration.
type Config struct {
	Pins     gpio.Pins `yaml:"pins" envPrefix:"CVT_PIN_"`
	Actuator Actuator  `yaml:"actuator" envPrefix:"CVT_ACTUATOR_"`
	Tach     Tach      `yaml:"tach" envPrefix:"CVT_TACH_"`
	Gains    Gains     `yaml:"gains" envPrefix:"CVT_GAIN_"`
	Engine   Engine    `yaml:"engine" envPrefix:"CVT_ENGINE_"`
	Serial   Serial    `yaml:"serial" envPrefix:"CVT_SERIAL_"`
	MQTT     MQTT      `yaml:"mqtt" envPrefix:"CVT_MQTT_"`
	HTTP     HTTP      `yaml:"http" envPrefix:"CVT_HTTP_"`
}

// Actuator configures the motor-controller axes and the control cycle.
type Actuator struct {
	Axis              int           `yaml:"axis" env:"AXIS"`
	CoolingAxis       int           `yaml:"cooling_axis" env:"COOLING_AXIS"`
	CyclePeriod       time.Duration `yaml:"cycle_period" env:"CYCLE_PERIOD"`
	HomingTimeout     time.Duration `yaml:"homing_timeout" env:"HOMING_TIMEOUT"`
	HomingVelocity    float64       `yaml:"homing_velocity" env:"HOMING_VELOCITY"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	ParsePolicy       string        `yaml:"parse_policy" env:"PARSE_POLICY"`
	LinkTimeoutCycles int           `yaml:"link_timeout_cycles" env:"LINK_TIMEOUT_CYCLES"`
	// Mode is the control mode each cycle applies: idle, velocity or hold.
	Mode     string  `yaml:"mode" env:"MODE"`
	Velocity float64 `yaml:"velocity" env:"VELOCITY"`
	// SampleBus reads bus voltage and current every cycle.
	SampleBus bool `yaml:"sample_bus" env:"SAMPLE_BUS"`
}

// Tach configures the pulse-to-RPM pipeline.
type Tach struct {
	EngineTeeth  int     `yaml:"engine_teeth" env:"ENGINE_TEETH"`
	GearboxTeeth int     `yaml:"gearbox_teeth" env:"GEARBOX_TEETH"`
	Frames       int     `yaml:"frames" env:"FRAMES"`
	Alpha        float64 `yaml:"alpha" env:"ALPHA"`
	// MinRatio and MaxRatio bound a plausible gearbox/engine ratio. Zero
	// derives them from the overdrive and eCVT maximum drive ratios.
	MinRatio float64 `yaml:"min_ratio" env:"MIN_RATIO"`
	MaxRatio float64 `yaml:"max_ratio" env:"MAX_RATIO"`
}

// Gains are carried through to telemetry; no controller applies them.
type Gains struct {
	P float64 `yaml:"p" env:"P"`
	I float64 `yaml:"i" env:"I"`
	D float64 `yaml:"d" env:"D"`
}

// Engine holds engine speed set points in RPM and the CVT drive ratios.
type Engine struct {
	Idle           float64 `yaml:"idle" env:"IDLE"`
	Engage         float64 `yaml:"engage" env:"ENGAGE"`
	Launch         float64 `yaml:"launch" env:"LAUNCH"`
	Torque         float64 `yaml:"torque" env:"TORQUE"`
	Power          float64 `yaml:"power" env:"POWER"`
	Desired        float64 `yaml:"desired" env:"DESIRED"`
	Minimum        float64 `yaml:"minimum" env:"MINIMUM"`
	OverdriveRatio float64 `yaml:"overdrive_ratio" env:"OVERDRIVE_RATIO"`
	ECVTMaxRatio   float64 `yaml:"ecvt_max_ratio" env:"ECVT_MAX_RATIO"`
}

// Serial selects the controller's serial device.
type Serial struct {
	Device      string             `yaml:"device" env:"DEVICE"`
	Port        odrive.PortOptions `yaml:"port"`
	ConnectWait time.Duration      `yaml:"connect_wait" env:"CONNECT_WAIT"`
}

// MQTT configures the telemetry link.
type MQTT struct {
	Broker       string `yaml:"broker" env:"BROKER"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	PublishEvery int    `yaml:"publish_every" env:"PUBLISH_EVERY"`
	BufferSize   int    `yaml:"buffer_size" env:"BUFFER_SIZE"`
	QueueDepth   int    `yaml:"queue_depth" env:"QUEUE_DEPTH"`
}

// HTTP configures the status server. Empty Addr disables it.
type HTTP struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Default returns the vehicle's stock configuration.
func Default() Config {
	return Config{
		Pins: gpio.Pins{
			Chip:         "gpiochip0",
			Estop:        36,
			EncoderA:     3,
			EncoderB:     4,
			HallInbound:  22,
			HallOutbound: 23,
			EngineTooth:  37,
			GearboxTooth: 35,
			IIODevice:    "/sys/bus/iio/devices/iio:device0",
			Thermistors:  []int{0, 1, 2},
		},
		Actuator: Actuator{
			Axis:              1,
			CoolingAxis:       0,
			CyclePeriod:       10 * time.Millisecond,
			HomingTimeout:     30 * time.Second,
			HomingVelocity:    0.5,
			ReadTimeout:       odrive.DefaultReadTimeout,
			PollInterval:      odrive.DefaultPollInterval,
			ParsePolicy:       odrive.ParseLenient.String(),
			LinkTimeoutCycles: 5,
			Mode:              "idle",
		},
		Tach: Tach{
			EngineTeeth:  88,
			GearboxTeeth: 88,
			Frames:       60,
			Alpha:        0.5,
		},
		Gains: Gains{P: 0.015},
		Engine: Engine{
			Idle:           1750,
			Engage:         2100,
			Launch:         2600,
			Torque:         2700,
			Power:          3400,
			Desired:        2250,
			Minimum:        1000,
			OverdriveRatio: 0.85,
			ECVTMaxRatio:   4.25,
		},
		Serial: Serial{
			Device:      "/dev/ttyACM0",
			ConnectWait: time.Second,
		},
		MQTT: MQTT{
			Broker:       "tcp://192.168.1.200:1883",
			ClientID:     "cvt-actuator",
			PublishEvery: 10,
			BufferSize:   1000,
			QueueDepth:   16,
		},
		HTTP: HTTP{Addr: ":80"},
	}
}

// Load reads path (if non-empty) over the defaults, applies CVT_*
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks ranges and that no GPIO line is assigned twice.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	seen := make(map[int]string)
	for _, role := range []string{"estop", "encoder_a", "encoder_b", "hall_inbound", "hall_outbound", "engine_geartooth", "gearbox_geartooth"} {
		line := c.Pins.Lines()[role]
		if line < 0 {
			return invalid("pin %s: negative line %d", role, line)
		}
		if other, ok := seen[line]; ok {
			return invalid("pin %s: line %d already used by %s", role, line, other)
		}
		seen[line] = role
	}

	a := c.Actuator
	if a.Axis < 0 || a.CoolingAxis < 0 {
		return invalid("axis numbers must be non-negative")
	}
	if a.CyclePeriod <= 0 {
		return invalid("cycle_period must be positive")
	}
	if a.HomingTimeout <= 0 {
		return invalid("homing_timeout must be positive")
	}
	if a.HomingVelocity <= 0 {
		return invalid("homing_velocity must be positive")
	}
	if a.ReadTimeout <= 0 || a.PollInterval <= 0 {
		return invalid("read_timeout and poll_interval must be positive")
	}
	if a.ParsePolicy != "lenient" && a.ParsePolicy != "strict" {
		return invalid("parse_policy %q: want lenient or strict", a.ParsePolicy)
	}
	if a.LinkTimeoutCycles < 1 {
		return invalid("link_timeout_cycles must be at least 1")
	}
	switch a.Mode {
	case "idle", "velocity", "hold":
	default:
		return invalid("mode %q: want idle, velocity or hold", a.Mode)
	}

	t := c.Tach
	if t.EngineTeeth <= 0 || t.GearboxTeeth <= 0 {
		return invalid("teeth per revolution must be positive")
	}
	if t.Frames <= 0 {
		return invalid("frames must be positive")
	}
	if t.Alpha <= 0 || t.Alpha > 1 {
		return invalid("alpha %v: must be in (0, 1]", t.Alpha)
	}

	e := c.Engine
	if e.OverdriveRatio <= 0 || e.ECVTMaxRatio <= e.OverdriveRatio {
		return invalid("drive ratios: need 0 < overdrive_ratio < ecvt_max_ratio")
	}
	if lo, hi := c.RatioBounds(); lo <= 0 || hi <= lo {
		return invalid("ratio bounds [%v, %v] are empty", lo, hi)
	}

	if c.MQTT.PublishEvery < 1 {
		return invalid("mqtt publish_every must be at least 1")
	}
	if c.MQTT.BufferSize < 0 {
		return invalid("mqtt buffer_size must be non-negative")
	}
	if c.MQTT.QueueDepth < 1 {
		return invalid("mqtt queue_depth must be at least 1")
	}
	return nil
}

// RatioBounds returns the plausible gearbox/engine speed ratio range.
// A drive ratio r (engine turns per gearbox turn) maps to a speed ratio 1/r,
// so the eCVT maximum gives the low bound and overdrive the high bound.
func (c Config) RatioBounds() (lo, hi float64) {
	lo, hi = c.Tach.MinRatio, c.Tach.MaxRatio
	if lo == 0 && c.Engine.ECVTMaxRatio > 0 {
		lo = 1 / c.Engine.ECVTMaxRatio
	}
	if hi == 0 && c.Engine.OverdriveRatio > 0 {
		hi = 1 / c.Engine.OverdriveRatio
	}
	return lo, hi
}

// GearboxEngageRPM is the gearbox speed at engagement in the lowest ratio.
func (e Engine) GearboxEngageRPM() float64 { return e.Engage / e.ECVTMaxRatio }

// GearboxPowerRPM is the gearbox speed at peak power in the lowest ratio.
func (e Engine) GearboxPowerRPM() float64 { return e.Power / e.ECVTMaxRatio }

// GearboxOverdriveRPM is the gearbox speed at peak power in overdrive.
func (e Engine) GearboxOverdriveRPM() float64 { return e.Power / e.OverdriveRatio }
