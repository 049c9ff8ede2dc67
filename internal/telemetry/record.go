// Package telemetry defines the per-cycle record handed to the logging and
// publishing collaborators. Field order is a contract with downstream log
// parsers: new fields are appended, never inserted.
package telemetry

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Status is the cycle status code carried in every record.
type Status int

const (
	StatusOK Status = iota
	StatusLinkTimeout
	StatusHomingFailed
	StatusEstop
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusLinkTimeout:
		return "link_timeout"
	case StatusHomingFailed:
		return "homing_failed"
	case StatusEstop:
		return "estop"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ThermistorCount is the number of thermistor columns.
const ThermistorCount = 3

// Record is one control cycle's telemetry.
type Record struct {
	Status     Status
	RPM        float64       // engine rolling-window average
	RPMCount   uint32        // engine pulses this cycle
	Elapsed    time.Duration // since the previous snapshot
	Velocity   float64       // commanded actuator velocity
	EncoderPos int64
	HallIn     bool
	HallOut    bool
	Voltage    float64
	Current    float64
	Frames     int     // engine rolling-window fill
	ExpDecay   float64 // engine filtered RPM
	RefRPM     float64
	Estop      bool

	GearboxRPM      float64
	GearboxExpDecay float64
	// Ratio is gearbox/engine speed, or -1 when unavailable.
	Ratio       float64
	Thermistors [ThermistorCount]int // raw counts, -1 when unread
	Start       time.Duration        // cycle start, since counter start
	Stop        time.Duration        // cycle end, since counter start
}

// Field is one named column.
type Field struct {
	Name  string
	Value float64
}

var names = []string{
	"status", "rpm", "rpm_count", "dt", "act_vel", "enc_pos", "hall_in", "hall_out",
	"o_vol", "o_curr", "roll_frame", "exp_decay", "ref_rpm", "estop",
	"gb_rpm", "gb_exp_decay", "ratio", "therm_1", "therm_2", "therm_3", "t_start", "t_stop",
}

// Names returns the column names in contract order.
func Names() []string {
	return append([]string(nil), names...)
}

// Header returns the CSV header line.
func Header() string {
	return strings.Join(names, ", ")
}

// Fields returns the record's columns in contract order. Durations are
// microseconds; booleans are 0 or 1.
func (r Record) Fields() []Field {
	values := []float64{
		float64(r.Status),
		r.RPM,
		float64(r.RPMCount),
		float64(r.Elapsed.Microseconds()),
		r.Velocity,
		float64(r.EncoderPos),
		b2f(r.HallIn),
		b2f(r.HallOut),
		r.Voltage,
		r.Current,
		float64(r.Frames),
		r.ExpDecay,
		r.RefRPM,
		b2f(r.Estop),
		r.GearboxRPM,
		r.GearboxExpDecay,
		r.Ratio,
		float64(r.Thermistors[0]),
		float64(r.Thermistors[1]),
		float64(r.Thermistors[2]),
		float64(r.Start.Microseconds()),
		float64(r.Stop.Microseconds()),
	}
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n, Value: values[i]}
	}
	return out
}

// CSV returns the record as one row matching Header.
func (r Record) CSV() string {
	fields := r.Fields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = formatValue(f.Value)
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the record as an object with keys in contract order.
// A NaN or infinite field is an error.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range r.Fields() {
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			return nil, fmt.Errorf("telemetry: field %s is %v", f.Name, f.Value)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(f.Name))
		b.WriteByte(':')
		b.WriteString(formatValue(f.Value))
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
