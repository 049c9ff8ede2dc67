// Package control runs the actuator's control cycle: sample the sensors,
// update the speed estimates, command the motor and assemble telemetry.
package control

import (
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/sweeney/cvt-actuator/internal/homing"
	"github.com/sweeney/cvt-actuator/internal/odrive"
	"github.com/sweeney/cvt-actuator/internal/tach"
	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

// Record is one cycle's telemetry.
type Record = telemetry.Record

// Mode selects the motor command a cycle issues.
type Mode int

const (
	// ModeIdle requests the Idle state on the actuator axis every cycle.
	ModeIdle Mode = iota
	// ModeVelocity commands the configured velocity every cycle.
	ModeVelocity
	// ModeHold issues no motor command.
	ModeHold
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeVelocity:
		return "velocity"
	case ModeHold:
		return "hold"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "idle", "":
		return ModeIdle, nil
	case "velocity":
		return ModeVelocity, nil
	case "hold":
		return ModeHold, nil
	}
	return ModeIdle, fmt.Errorf("control: unknown mode %q", s)
}

// Motor is the controller surface one cycle uses.
type Motor interface {
	SetAxisState(axis int, state odrive.AxisState, waitForIdle bool, timeout time.Duration) (bool, error)
	SetVelocity(axis int, velocity float64) error
	BusVoltage() (float64, error)
	BusCurrent() (float64, error)
}

// Sensors are the polled inputs.
type Sensors interface {
	Halls() (inbound, outbound bool, err error)
	EncoderPosition() int64
	Thermistors() ([]int, error)
}

// Counter is the pulse tally source.
type Counter interface {
	Snapshot() tach.Snapshot
	Elapsed() time.Duration
}

// Safety reports the emergency-stop latch.
type Safety interface {
	IsSafe() bool
}

// Config parameterizes a Loop.
type Config struct {
	Axis         int
	Mode         Mode
	Velocity     float64
	RefRPM       float64
	EngineTeeth  float64
	GearboxTeeth float64
	Frames       int
	Alpha        float64
	Ratio        tach.RatioBounds
	// LinkTimeoutCycles consecutive cycles with a protocol timeout raise
	// StatusLinkTimeout. One clean cycle clears it.
	LinkTimeoutCycles int
	// SampleBus reads bus voltage and current every cycle.
	SampleBus bool
}

// Loop is one actuator's control cycle. It is owned by a single goroutine.
type Loop struct {
	cfg     Config
	motor   Motor
	sensors Sensors
	counter Counter
	safety  Safety

	engine  *tach.Estimator
	gearbox *tach.Estimator
	prev    tach.Snapshot

	mode         Mode
	velocity     float64
	streak       int
	homingFailed bool
	cycles       uint64
	warned       map[string]bool
}

// New returns a Loop. The first cycle measures from the snapshot taken here.
func New(cfg Config, motor Motor, sensors Sensors, counter Counter, safety Safety) (*Loop, error) {
	engine, err := tach.NewEstimator(tach.EstimatorConfig{
		Shaft: tach.Engine, PulsesPerRev: cfg.EngineTeeth, Frames: cfg.Frames, Alpha: cfg.Alpha,
	})
	if err != nil {
		return nil, fmt.Errorf("engine estimator: %w", err)
	}
	gearbox, err := tach.NewEstimator(tach.EstimatorConfig{
		Shaft: tach.Gearbox, PulsesPerRev: cfg.GearboxTeeth, Frames: cfg.Frames, Alpha: cfg.Alpha,
	})
	if err != nil {
		return nil, fmt.Errorf("gearbox estimator: %w", err)
	}
	if cfg.LinkTimeoutCycles < 1 {
		cfg.LinkTimeoutCycles = 1
	}
	return &Loop{
		cfg:      cfg,
		motor:    motor,
		sensors:  sensors,
		counter:  counter,
		safety:   safety,
		engine:   engine,
		gearbox:  gearbox,
		prev:     counter.Snapshot(),
		mode:     cfg.Mode,
		velocity: cfg.Velocity,
		warned:   make(map[string]bool),
	}, nil
}

// SetMode changes the command issued from the next cycle on.
func (l *Loop) SetMode(m Mode, velocity float64) {
	l.mode = m
	l.velocity = velocity
}

// Mode returns the current mode and velocity target.
func (l *Loop) Mode() (Mode, float64) { return l.mode, l.velocity }

// SetHomingResult records a homing outcome. A failed attempt is reported
// in every record until a later attempt succeeds.
func (l *Loop) SetHomingResult(res homing.Result) {
	l.homingFailed = res.Status != homing.StatusSuccess
}

// Stop requests Idle on the actuator axis without waiting. The interlock
// still applies, so Stop while the estop is latched returns ErrSuppressed.
func (l *Loop) Stop() error {
	_, err := l.motor.SetAxisState(l.cfg.Axis, odrive.StateIdle, false, 0)
	return err
}

// Cycles returns how many cycles have run.
func (l *Loop) Cycles() uint64 { return l.cycles }

// Cycle runs one control cycle and returns its record.
func (l *Loop) Cycle() Record {
	l.cycles++
	safe := l.safety.IsSafe()

	cur := l.counter.Snapshot()
	eng := l.engine.Update(l.prev, cur)
	gb := l.gearbox.Update(l.prev, cur)
	if cur.Time > l.prev.Time {
		// A stale snapshot keeps prev so its pulses land in the next cycle.
		l.prev = cur
	}

	rec := Record{
		RPM:             eng.Windowed,
		RPMCount:        eng.Pulses,
		Elapsed:         eng.Elapsed,
		Frames:          eng.Frames,
		ExpDecay:        eng.Filtered,
		RefRPM:          l.cfg.RefRPM,
		Estop:           !safe,
		GearboxRPM:      gb.Windowed,
		GearboxExpDecay: gb.Filtered,
		Ratio:           -1,
		Start:           cur.Time,
	}
	if eng.Stale {
		rec.RPMCount = 0
		rec.Elapsed = 0
	}
	if r, ok := tach.Ratio(eng.Filtered, gb.Filtered, l.cfg.Ratio); ok {
		rec.Ratio = r
	}

	var err error
	rec.HallIn, rec.HallOut, err = l.sensors.Halls()
	l.warn("halls", err)
	rec.EncoderPos = l.sensors.EncoderPosition()

	for i := range rec.Thermistors {
		rec.Thermistors[i] = -1
	}
	therm, err := l.sensors.Thermistors()
	l.warn("thermistors", err)
	copy(rec.Thermistors[:], therm)

	timedOut := false
	if safe {
		rec.Velocity, err = l.command()
		l.warn("command", err)
	}
	if l.cfg.SampleBus {
		var verr, cerr error
		rec.Voltage, verr = l.motor.BusVoltage()
		rec.Current, cerr = l.motor.BusCurrent()
		timedOut = odrive.IsTimeout(verr) || odrive.IsTimeout(cerr)
		l.warn("bus", multierr.Combine(verr, cerr))
	}

	if timedOut {
		l.streak++
	} else {
		l.streak = 0
	}

	switch {
	case !safe:
		rec.Status = telemetry.StatusEstop
	case l.homingFailed:
		rec.Status = telemetry.StatusHomingFailed
	case l.streak >= l.cfg.LinkTimeoutCycles:
		rec.Status = telemetry.StatusLinkTimeout
	default:
		rec.Status = telemetry.StatusOK
	}

	rec.Stop = l.counter.Elapsed()
	return rec
}

// command issues this cycle's motor command and returns the commanded
// velocity.
func (l *Loop) command() (float64, error) {
	switch l.mode {
	case ModeIdle:
		_, err := l.motor.SetAxisState(l.cfg.Axis, odrive.StateIdle, false, 0)
		return 0, err
	case ModeVelocity:
		if err := l.motor.SetVelocity(l.cfg.Axis, l.velocity); err != nil {
			return 0, err
		}
		return l.velocity, nil
	}
	return 0, nil
}

// warn logs the first error of each kind and the recovery after it, so a
// persistent fault does not log at the cycle rate.
func (l *Loop) warn(what string, err error) {
	switch {
	case err != nil && !l.warned[what]:
		log.Printf("control: %s: %v", what, err)
		l.warned[what] = true
	case err == nil && l.warned[what]:
		log.Printf("control: %s recovered", what)
		l.warned[what] = false
	}
}
