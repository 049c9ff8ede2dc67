// Package homing drives the actuator to its outbound end-of-travel switch to
// establish an absolute encoder datum.
//
// The machine is polled: Begin starts a sequence and Poll advances it with
// the caller's notion of time. It does no sleeping of its own, so tests drive
// it with synthetic timestamps. Run wraps both for the daemon.
package homing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.uber.org/multierr"

	"github.com/sweeney/cvt-actuator/internal/odrive"
)

// Defaults used when Config fields are zero.
const (
	DefaultSeekVelocity = 0.5
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 5 * time.Millisecond
)

// ErrBusy is returned by Begin while a sequence is in progress.
var ErrBusy = errors.New("homing: already in progress")

// State is the homing sequence state.
type State int

const (
	StateIdle State = iota
	StateSeekOutbound
	// StateSeekInbound is reserved for an inbound leg towards the inbound
	// switch. No transition enters it.
	StateSeekInbound
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeekOutbound:
		return "seek_outbound"
	case StateSeekInbound:
		return "seek_inbound"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends a sequence.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Status is the outcome of one homing attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is produced once per attempt and not modified afterwards.
// Positions are encoder counts; nil means the switch was never reached.
type Result struct {
	Status   Status
	Inbound  *int64
	Outbound *int64
	Elapsed  time.Duration
}

// Motor is the subset of the controller client homing needs.
type Motor interface {
	SetAxisState(axis int, state odrive.AxisState, waitForIdle bool, timeout time.Duration) (bool, error)
	SetVelocity(axis int, velocity float64) error
}

// Sensors reads the end-of-travel switches and the actuator encoder.
type Sensors interface {
	Halls() (inbound, outbound bool, err error)
	EncoderPosition() int64
}

// Interlock reports whether motion is allowed.
type Interlock interface {
	IsSafe() bool
}

// Config parameterizes a Machine.
type Config struct {
	Axis         int
	SeekVelocity float64
	Timeout      time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SeekVelocity == 0 {
		c.SeekVelocity = DefaultSeekVelocity
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// Machine sequences one actuator axis to its outbound switch.
// It is owned by a single goroutine.
type Machine struct {
	cfg       Config
	motor     Motor
	sensors   Sensors
	interlock Interlock
	now       func() time.Time

	state   State
	started time.Time
	result  *Result
	halls   int // consecutive hall read errors, for log throttling
}

// New returns a Machine in StateIdle.
func New(cfg Config, motor Motor, sensors Sensors, interlock Interlock) *Machine {
	return &Machine{
		cfg:       cfg.withDefaults(),
		motor:     motor,
		sensors:   sensors,
		interlock: interlock,
		now:       time.Now,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Result returns the outcome of the last finished attempt.
func (m *Machine) Result() (Result, bool) {
	if m.result == nil {
		return Result{}, false
	}
	return *m.result, true
}

// Begin starts a sequence: closed-loop control on the axis, then the seek
// velocity. If either command cannot be issued the attempt ends Aborted
// straight away and the motor is stopped.
func (m *Machine) Begin(now time.Time) error {
	if m.state == StateSeekOutbound {
		return ErrBusy
	}
	m.state = StateSeekOutbound
	m.started = now
	m.result = nil
	m.halls = 0

	if !m.safe() {
		m.finish(now, StatusAborted, nil)
		return nil
	}

	_, err := m.motor.SetAxisState(m.cfg.Axis, odrive.StateClosedLoopControl, false, 0)
	if err == nil {
		err = m.motor.SetVelocity(m.cfg.Axis, m.cfg.SeekVelocity)
	}
	if err != nil {
		m.finish(now, StatusAborted, nil)
		if errors.Is(err, odrive.ErrSuppressed) {
			return nil
		}
		return fmt.Errorf("homing: start axis %d: %w", m.cfg.Axis, err)
	}
	return nil
}

// Poll advances the sequence and reports whether it has finished.
// An unsafe interlock aborts before the switch is even read.
func (m *Machine) Poll(now time.Time) bool {
	if m.state != StateSeekOutbound {
		return m.state.Terminal()
	}

	if !m.safe() {
		m.finish(now, StatusAborted, nil)
		return true
	}

	_, outbound, err := m.sensors.Halls()
	if err != nil {
		if m.halls == 0 {
			log.Printf("homing: read halls: %v", err)
		}
		m.halls++
		outbound = false
	} else {
		m.halls = 0
	}

	if outbound {
		pos := m.sensors.EncoderPosition()
		m.finish(now, StatusSuccess, &pos)
		return true
	}

	if now.Sub(m.started) > m.cfg.Timeout {
		m.finish(now, StatusTimeout, nil)
		return true
	}
	return false
}

// Run begins a sequence and polls it every PollInterval until it finishes
// or ctx is done. Cancelling ctx aborts the attempt with the motor stopped.
func (m *Machine) Run(ctx context.Context) (Result, error) {
	if err := m.Begin(m.now()); err != nil {
		res, _ := m.Result()
		return res, err
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for !m.Poll(m.now()) {
		select {
		case <-ctx.Done():
			m.finish(m.now(), StatusAborted, nil)
			res, _ := m.Result()
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
	res, _ := m.Result()
	return res, nil
}

func (m *Machine) safe() bool {
	return m.interlock == nil || m.interlock.IsSafe()
}

// finish commands zero velocity and Idle, whatever the outcome, then
// records the result. Under estop both commands come back suppressed.
func (m *Machine) finish(now time.Time, status Status, outbound *int64) {
	err := multierr.Combine(
		m.motor.SetVelocity(m.cfg.Axis, 0),
		ignoreResult(m.motor.SetAxisState(m.cfg.Axis, odrive.StateIdle, false, 0)),
	)
	if err != nil {
		if errors.Is(err, odrive.ErrSuppressed) {
			log.Printf("homing: stop axis %d suppressed: estop asserted", m.cfg.Axis)
		} else {
			log.Printf("homing: stop axis %d: %v", m.cfg.Axis, err)
		}
	}

	if status == StatusSuccess {
		m.state = StateStopped
	} else {
		m.state = StateFailed
	}
	m.result = &Result{
		Status:   status,
		Outbound: outbound,
		Elapsed:  now.Sub(m.started),
	}
}

func ignoreResult(_ bool, err error) error { return err }
