// Package mqtt publishes telemetry records and lifecycle events, with an
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

// TopicTelemetry carries sampled control-cycle records.
const TopicTelemetry = "vehicle/cvt/telemetry"

// TopicSystem carries lifecycle events.
const TopicSystem = "vehicle/cvt/system"

// System event names.
const (
	EventStartup     = "STARTUP"
	EventHoming      = "HOMING"
	EventEstop       = "ESTOP"
	EventShutdown    = "SHUTDOWN"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes telemetry to MQTT.
type Publisher interface {
	// PublishRecord sends one telemetry record.
	// Returns error if publishing fails (should not crash the process).
	PublishRecord(at time.Time, rec telemetry.Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "ESTOP", "SHUTDOWN"
	Reason     string // e.g. "SIGTERM", homing status
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// RecordPayload is the MQTT message for one telemetry record. Record keys
// keep the telemetry column order.
type RecordPayload struct {
	Telemetry RecordInner `json:"telemetry"`
}

// RecordInner contains the record and its wall-clock time.
type RecordInner struct {
	Timestamp string           `json:"timestamp"`
	Status    string           `json:"status"`
	Record    telemetry.Record `json:"record"`
}

// FormatRecordPayload creates the JSON payload for a record.
func FormatRecordPayload(at time.Time, rec telemetry.Record) ([]byte, error) {
	return json.Marshal(RecordPayload{
		Telemetry: RecordInner{
			Timestamp: at.UTC().Format(time.RFC3339Nano),
			Status:    rec.Status.String(),
			Record:    rec,
		},
	})
}

// SystemPayload is the MQTT message for system events that don't carry a
// full status snapshot (LWT, RECONNECTED).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// WillPayload is the last-will message the broker publishes if the
// connection drops uncleanly.
func WillPayload() []byte {
	data, _ := json.Marshal(SystemPayload{
		System: SystemPayloadInner{Event: EventOffline, Reason: "connection lost"},
	})
	return data
}
