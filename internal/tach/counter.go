// Package tach turns gear-tooth pulses into shaft speed.
//
// Edge handlers call Counter.OnEdge from their own goroutine; the control
// cycle takes Snapshots and feeds consecutive pairs to an Estimator per
// shaft. Nothing here performs I/O or sleeps.
package tach

import (
	"sync/atomic"
	"time"
)

// Shaft identifies a rotating shaft with a gear-tooth sensor.
type Shaft int

const (
	Engine Shaft = iota
	Gearbox
)

func (s Shaft) String() string {
	switch s {
	case Engine:
		return "engine"
	case Gearbox:
		return "gearbox"
	default:
		return "unknown"
	}
}

const (
	engineOne   = 1 << 32
	gearboxMask = 1<<32 - 1
)

// Counter holds both shaft tallies in one 64-bit word: engine in the high
// half, gearbox in the low half. A single atomic load therefore yields a
// consistent pair.
//
// Each half wraps independently at 2^32. Deltas use modular arithmetic so
// one wrap between snapshots is harmless. Wrap detection is not attempted.
type Counter struct {
	packed atomic.Uint64
	start  time.Time
	now    func() time.Time
}

// NewCounter returns a Counter whose snapshot times are measured from the
// first call to now. A nil now uses time.Now.
func NewCounter(now func() time.Time) *Counter {
	if now == nil {
		now = time.Now
	}
	return &Counter{start: now(), now: now}
}

// OnEdge counts one falling edge on the given shaft. It never blocks or
// allocates.
func (c *Counter) OnEdge(s Shaft) {
	switch s {
	case Engine:
		c.packed.Add(engineOne)
	case Gearbox:
		c.OnGearboxEdge()
	}
}

// OnEngineEdge counts one engine edge. Overflow leaves the top of the word,
// so the gearbox half is untouched.
func (c *Counter) OnEngineEdge() { c.packed.Add(engineOne) }

// OnGearboxEdge counts one gearbox edge. The low half wraps without
// carrying into the engine half.
func (c *Counter) OnGearboxEdge() {
	for {
		v := c.packed.Load()
		next := v&^gearboxMask | uint64(uint32(v)+1)
		if c.packed.CompareAndSwap(v, next) {
			return
		}
	}
}

// Snapshot captures both tallies and the elapsed time since the counter
// was created.
func (c *Counter) Snapshot() Snapshot {
	v := c.packed.Load()
	return Snapshot{
		Engine:  uint32(v >> 32),
		Gearbox: uint32(v),
		Time:    c.now().Sub(c.start),
	}
}

// Elapsed returns time since the counter was created, on the same clock
// as Snapshot.Time.
func (c *Counter) Elapsed() time.Duration {
	return c.now().Sub(c.start)
}

// Snapshot is a consistent read of both tallies.
type Snapshot struct {
	Engine  uint32
	Gearbox uint32
	Time    time.Duration
}

// Count returns the tally for one shaft.
func (s Snapshot) Count(shaft Shaft) uint32 {
	if shaft == Gearbox {
		return s.Gearbox
	}
	return s.Engine
}

// Delta returns pulses counted on shaft between prev and s.
func (s Snapshot) Delta(prev Snapshot, shaft Shaft) uint32 {
	return s.Count(shaft) - prev.Count(shaft)
}
