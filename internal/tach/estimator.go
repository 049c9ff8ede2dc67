package tach

import (
	"fmt"
	"time"
)

// EstimatorConfig configures one shaft's estimator.
type EstimatorConfig struct {
	Shaft        Shaft
	PulsesPerRev float64
	Frames       int
	Alpha        float64
}

// Sample is one cycle's speed estimate for a shaft.
type Sample struct {
	// Raw is this cycle's delta converted to RPM.
	Raw float64
	// Windowed is the rolling-window average RPM fed to the filter.
	Windowed float64
	// Filtered is the exponential filter output.
	Filtered float64
	// Pulses counted this cycle.
	Pulses uint32
	// Elapsed since the previous snapshot.
	Elapsed time.Duration
	// Time of the snapshot, relative to counter start.
	Time time.Duration
	// Frames present in the rolling window.
	Frames int
	// Stale is set when no time elapsed and the previous estimate was reused.
	Stale bool
}

// Estimator converts snapshot pairs into a smoothed RPM. A single cycle
// quantizes to very few pulses at low speed, so the per-cycle delta goes
// through the rolling window first and the exponential stage smooths what
// the window leaves.
type Estimator struct {
	cfg    EstimatorConfig
	window *Window
	filter *ExpFilter
	last   Sample
}

// NewEstimator validates cfg and returns an estimator. Frames <= 0 uses
// DefaultFrames.
func NewEstimator(cfg EstimatorConfig) (*Estimator, error) {
	if cfg.PulsesPerRev <= 0 {
		return nil, fmt.Errorf("tach: pulses per revolution must be positive, got %v", cfg.PulsesPerRev)
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("tach: filter alpha must be in (0, 1], got %v", cfg.Alpha)
	}
	if cfg.Frames <= 0 {
		cfg.Frames = DefaultFrames
	}
	return &Estimator{
		cfg:    cfg,
		window: NewWindow(cfg.Frames),
		filter: NewExpFilter(cfg.Alpha),
	}, nil
}

// Update estimates speed from two snapshots of the configured shaft, cur
// taken after prev.
func (e *Estimator) Update(prev, cur Snapshot) Sample {
	return e.UpdateCount(cur.Delta(prev, e.cfg.Shaft), cur.Time-prev.Time, cur.Time)
}

// UpdateCount estimates speed from a pulse delta over dt. When dt is not
// positive the previous sample is returned unchanged except for Stale.
func (e *Estimator) UpdateCount(pulses uint32, dt, at time.Duration) Sample {
	if dt <= 0 {
		s := e.last
		s.Stale = true
		return s
	}

	raw := float64(pulses) / e.cfg.PulsesPerRev / dt.Minutes()
	e.window.Push(pulses, dt)
	windowed, _ := e.window.RPM(e.cfg.PulsesPerRev)

	e.last = Sample{
		Raw:      raw,
		Windowed: windowed,
		Filtered: e.filter.Step(windowed),
		Pulses:   pulses,
		Elapsed:  dt,
		Time:     at,
		Frames:   e.window.Len(),
	}
	return e.last
}

// Last returns the most recent non-stale sample.
func (e *Estimator) Last() Sample { return e.last }

// Shaft returns the shaft this estimator tracks.
func (e *Estimator) Shaft() Shaft { return e.cfg.Shaft }

// Reset clears the window and filter.
func (e *Estimator) Reset() {
	e.window.Reset()
	e.filter.Reset()
	e.last = Sample{}
}

// RatioBounds limits plausible gearbox/engine speed ratios.
type RatioBounds struct {
	Min float64
	Max float64
}

// Ratio returns gearboxRPM/engineRPM. ok is false when either speed is not
// positive or the ratio falls outside bounds; callers report the ratio as
// unavailable in that case.
func Ratio(engineRPM, gearboxRPM float64, b RatioBounds) (ratio float64, ok bool) {
	if engineRPM <= 0 || gearboxRPM <= 0 {
		return 0, false
	}
	r := gearboxRPM / engineRPM
	if r < b.Min || r > b.Max {
		return 0, false
	}
	return r, true
}
