package odrive

import (
	"errors"
	"fmt"
)

// AxisState is a motor-controller axis state code.
type AxisState int

const (
	StateUndefined                AxisState = 0
	StateIdle                     AxisState = 1
	StateStartupSequence          AxisState = 2
	StateFullCalibration          AxisState = 3
	StateMotorCalibration         AxisState = 4
	StateEncoderIndexSearch       AxisState = 6
	StateEncoderOffsetCalibration AxisState = 7
	// StateClosedLoopControl is the state the actuator uses for velocity
	// control.
	StateClosedLoopControl AxisState = 8
)

func (s AxisState) String() string {
	switch s {
	case StateUndefined:
		return "undefined"
	case StateIdle:
		return "idle"
	case StateStartupSequence:
		return "startup_sequence"
	case StateFullCalibration:
		return "full_calibration"
	case StateMotorCalibration:
		return "motor_calibration"
	case StateEncoderIndexSearch:
		return "encoder_index_search"
	case StateEncoderOffsetCalibration:
		return "encoder_offset_calibration"
	case StateClosedLoopControl:
		return "closed_loop_control"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrTimeout is returned when no complete reply line arrives in time.
	ErrTimeout = errors.New("odrive: reply timeout")

	// ErrSuppressed is returned instead of issuing a motion or state command
	// while the emergency stop is asserted.
	ErrSuppressed = errors.New("odrive: command suppressed, estop asserted")

	// ErrMalformed is returned by numeric reads under ParseStrict.
	ErrMalformed = errors.New("odrive: malformed numeric reply")
)

// ParsePolicy decides what numeric reads do with a reply that is not a
// number.
type ParsePolicy int

const (
	// ParseLenient turns a malformed reply into zero and counts it in
	// Stats.Malformed. This keeps the control cycle running over one noisy
	// reply.
	ParseLenient ParsePolicy = iota
	// ParseStrict returns ErrMalformed.
	ParseStrict
)

func (p ParsePolicy) String() string {
	if p == ParseStrict {
		return "strict"
	}
	return "lenient"
}

// ParsePolicyFromString maps "strict" to ParseStrict and anything else to
// ParseLenient.
func ParsePolicyFromString(s string) ParsePolicy {
	if s == "strict" {
		return ParseStrict
	}
	return ParseLenient
}

// Command builders for the ASCII protocol. Each returns the command without
// its terminator.

func cmdRequestState(axis int, s AxisState) string {
	return fmt.Sprintf("w axis%d.requested_state %d", axis, int(s))
}

func cmdCurrentState(axis int) string {
	return fmt.Sprintf("r axis%d.current_state", axis)
}

func cmdVelocity(axis int, velocity float64) string {
	return fmt.Sprintf("v %d %s 0", axis, formatFloat(velocity))
}

func cmdVelEstimate(axis int) string {
	return fmt.Sprintf("r axis%d.encoder.vel_estimate", axis)
}

const (
	cmdSystemError = "r error"
	cmdBusVoltage  = "r vbus_voltage"
	cmdBusCurrent  = "r ibus"
)

// errorSources lists the per-axis error registers in report order.
var errorSources = []string{"axis", "motor", "sensorless_estimator", "encoder", "controller"}

func cmdAxisError(axis int, source string) string {
	if source == "axis" {
		return fmt.Sprintf("r axis%d.error", axis)
	}
	return fmt.Sprintf("r axis%d.%s.error", axis, source)
}

// IsTimeout reports whether err is a reply timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
