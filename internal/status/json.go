package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	State         string          `json:"state"`
	Mode          string          `json:"mode"`
	Velocity      float64         `json:"velocity"`
	Estop         bool            `json:"estop"`
	EstopSince    string          `json:"estop_since,omitempty"`
	Cycles        uint64          `json:"cycles"`
	Record        json.RawMessage `json:"record,omitempty"`
	RecordError   string          `json:"record_error,omitempty"`
	Homing        *HomingJSON     `json:"homing,omitempty"`
	Link          LinkJSON        `json:"link"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Network       *NetworkJSON    `json:"network,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// HomingJSON is the JSON representation of the last homing attempt.
type HomingJSON struct {
	Status    string `json:"status"`
	Outbound  *int64 `json:"outbound,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	At        string `json:"at"`
}

// LinkJSON is the JSON representation of protocol counters.
type LinkJSON struct {
	Commands   uint64 `json:"commands"`
	Queries    uint64 `json:"queries"`
	Timeouts   uint64 `json:"timeouts"`
	Malformed  uint64 `json:"malformed"`
	Suppressed uint64 `json:"suppressed"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Axis          int           `json:"axis"`
	CyclePeriodMs int64         `json:"cycle_period_ms"`
	SerialDevice  string        `json:"serial_device"`
	Broker        string        `json:"broker"`
	HTTPPort      string        `json:"http_port"`
	PublishEvery  int           `json:"publish_every"`
	Frames        int           `json:"frames"`
	Alpha         float64       `json:"alpha"`
	GainP         float64       `json:"gain_p"`
	GainI         float64       `json:"gain_i"`
	GainD         float64       `json:"gain_d"`
	SetPoints     SetPointsJSON `json:"set_points"`
}

// SetPointsJSON is the JSON representation of the speed set points.
type SetPointsJSON struct {
	Idle             float64 `json:"idle"`
	Engage           float64 `json:"engage"`
	Launch           float64 `json:"launch"`
	Torque           float64 `json:"torque"`
	Power            float64 `json:"power"`
	Desired          float64 `json:"desired"`
	Minimum          float64 `json:"minimum"`
	GearboxEngage    float64 `json:"gearbox_engage"`
	GearboxPower     float64 `json:"gearbox_power"`
	GearboxOverdrive float64 `json:"gearbox_overdrive"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		State:         snap.State(),
		Mode:          snap.Mode,
		Velocity:      snap.Velocity,
		Estop:         snap.Estop,
		Cycles:        snap.Cycles,
		Link:          LinkJSON(snap.Link),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker, Buffered: snap.MQTTBuffered},
		Config: ConfigJSON{
			Axis:          snap.Config.Axis,
			CyclePeriodMs: snap.Config.CyclePeriodMs,
			SerialDevice:  snap.Config.SerialDevice,
			Broker:        snap.Config.Broker,
			HTTPPort:      snap.Config.HTTPPort,
			PublishEvery:  snap.Config.PublishEvery,
			Frames:        snap.Config.Frames,
			Alpha:         snap.Config.Alpha,
			GainP:         snap.Config.GainP,
			GainI:         snap.Config.GainI,
			GainD:         snap.Config.GainD,
			SetPoints:     SetPointsJSON(snap.Config.SetPoints),
		},
	}
	if snap.Estop && !snap.EstopSince.IsZero() {
		inner.EstopSince = snap.EstopSince.UTC().Format(time.RFC3339)
	}
	if snap.HasRecord {
		rec, err := json.Marshal(snap.Record)
		if err != nil {
			inner.RecordError = err.Error()
		} else {
			inner.Record = rec
		}
	}
	if snap.Homing != nil {
		inner.Homing = &HomingJSON{
			Status:    snap.Homing.Status,
			Outbound:  snap.Homing.Outbound,
			ElapsedMs: snap.Homing.Elapsed.Milliseconds(),
			At:        snap.Homing.At.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
