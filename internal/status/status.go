// Package status provides a thread-safe status tracker for the actuator daemon.
// It is written by the control goroutine and read by HTTP handlers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// HomingInfo is the outcome of the last homing attempt.
type HomingInfo struct {
	Status   string
	Outbound *int64
	Elapsed  time.Duration
	At       time.Time
}

// LinkStats mirrors the protocol client's counters.
type LinkStats struct {
	Commands   uint64
	Queries    uint64
	Timeouts   uint64
	Malformed  uint64
	Suppressed uint64
}

// Config contains daemon configuration for display.
type Config struct {
	Axis          int
	CyclePeriodMs int64
	SerialDevice  string
	Broker        string
	HTTPPort      string
	PublishEvery  int
	Frames        int
	Alpha         float64
	GainP         float64
	GainI         float64
	GainD         float64
	SetPoints     SetPoints
}

// SetPoints are the engine speed targets and the gearbox speeds they imply,
// in RPM.
type SetPoints struct {
	Idle             float64
	Engage           float64
	Launch           float64
	Torque           float64
	Power            float64
	Desired          float64
	Minimum          float64
	GearboxEngage    float64
	GearboxPower     float64
	GearboxOverdrive float64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Record        telemetry.Record
	HasRecord     bool
	RecordAt      time.Time
	Cycles        uint64
	Mode          string
	Velocity      float64
	Estop         bool
	EstopSince    time.Time
	Homing        *HomingInfo
	Link          LinkStats
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTBuffered  int
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// State summarizes the latest record's status code.
func (s Snapshot) State() string {
	if !s.HasRecord {
		return "starting"
	}
	return s.Record.Status.String()
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			Mode:      "idle",
		},
	}
}

// UpdateRecord stores the latest cycle record. Called from runLoop on
// every cycle.
func (t *Tracker) UpdateRecord(rec telemetry.Record, at time.Time) {
	t.mu.Lock()
	t.snap.Record = rec
	t.snap.HasRecord = true
	t.snap.RecordAt = at
	t.snap.Cycles++
	if rec.Estop && !t.snap.Estop {
		t.snap.EstopSince = at
	}
	t.snap.Estop = rec.Estop
	t.mu.Unlock()
}

// SetMode records the control mode and velocity target.
func (t *Tracker) SetMode(mode string, velocity float64) {
	t.mu.Lock()
	t.snap.Mode = mode
	t.snap.Velocity = velocity
	t.mu.Unlock()
}

// SetHoming records a homing outcome.
func (t *Tracker) SetHoming(info HomingInfo) {
	t.mu.Lock()
	t.snap.Homing = &info
	t.mu.Unlock()
}

// SetLink records the protocol client's counters.
func (t *Tracker) SetLink(stats LinkStats) {
	t.mu.Lock()
	t.snap.Link = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetMQTTBuffered records how many messages await replay to the broker.
func (t *Tracker) SetMQTTBuffered(n int) {
	t.mu.Lock()
	t.snap.MQTTBuffered = n
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.Homing != nil {
		h := *s.Homing
		s.Homing = &h
	}
	if s.Network != nil {
		n := *s.Network
		s.Network = &n
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
