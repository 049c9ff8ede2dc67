package status

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{Axis: 1, CyclePeriodMs: 10, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.CyclePeriodMs != 10 {
		t.Errorf("Config.CyclePeriodMs: got %d, want 10", snap.Config.CyclePeriodMs)
	}
	if snap.HasRecord {
		t.Error("expected HasRecord=false initially")
	}
	if snap.State() != "starting" {
		t.Errorf("State: got %q, want starting", snap.State())
	}
	if snap.Mode != "idle" {
		t.Errorf("Mode: got %q, want idle", snap.Mode)
	}
}

func TestUpdateRecordAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC)

	tr.UpdateRecord(telemetry.Record{Status: telemetry.StatusLinkTimeout, RPM: 1800}, at)
	tr.UpdateRecord(telemetry.Record{Status: telemetry.StatusOK, RPM: 1850}, at.Add(10*time.Millisecond))

	snap := tr.Snapshot()
	if !snap.HasRecord {
		t.Fatal("expected HasRecord=true")
	}
	if snap.Record.RPM != 1850 {
		t.Errorf("RPM: got %v, want 1850", snap.Record.RPM)
	}
	if snap.Cycles != 2 {
		t.Errorf("Cycles: got %d, want 2", snap.Cycles)
	}
	if snap.State() != "ok" {
		t.Errorf("State: got %q, want ok", snap.State())
	}
	if !snap.RecordAt.Equal(at.Add(10 * time.Millisecond)) {
		t.Errorf("RecordAt: got %v", snap.RecordAt)
	}
}

func TestEstopSinceTracksTransition(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tr.UpdateRecord(telemetry.Record{}, t0)
	tr.UpdateRecord(telemetry.Record{Estop: true}, t0.Add(time.Second))
	tr.UpdateRecord(telemetry.Record{Estop: true}, t0.Add(2*time.Second))

	snap := tr.Snapshot()
	if !snap.Estop {
		t.Fatal("expected Estop=true")
	}
	if !snap.EstopSince.Equal(t0.Add(time.Second)) {
		t.Errorf("EstopSince: got %v, want first asserted cycle", snap.EstopSince)
	}

	tr.UpdateRecord(telemetry.Record{}, t0.Add(3*time.Second))
	if tr.Snapshot().Estop {
		t.Error("expected Estop=false after release")
	}
}

func TestSetModeHomingLink(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	pos := int64(-2048)

	tr.SetMode("velocity", 0.5)
	tr.SetHoming(HomingInfo{Status: "success", Outbound: &pos, Elapsed: 1200 * time.Millisecond})
	tr.SetLink(LinkStats{Commands: 10, Timeouts: 2})

	snap := tr.Snapshot()
	if snap.Mode != "velocity" || snap.Velocity != 0.5 {
		t.Errorf("mode: got %s %v", snap.Mode, snap.Velocity)
	}
	if snap.Homing == nil || snap.Homing.Status != "success" || *snap.Homing.Outbound != -2048 {
		t.Errorf("homing: got %+v", snap.Homing)
	}
	if snap.Link.Commands != 10 || snap.Link.Timeouts != 2 {
		t.Errorf("link: got %+v", snap.Link)
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", SSID: "MyNet"})
	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", snap.Network.IP)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{StartTime: start, Now: start.Add(90 * time.Second)}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.UpdateRecord(telemetry.Record{RPM: 1000}, time.Now())
	tr.SetHoming(HomingInfo{Status: "timeout"})

	snap1 := tr.Snapshot()
	snap1.Homing.Status = "changed"

	tr.UpdateRecord(telemetry.Record{RPM: 2000}, time.Now())

	if snap1.Record.RPM != 1000 {
		t.Error("snapshot should be a copy; Record was modified")
	}
	if tr.Snapshot().Homing.Status != "timeout" {
		t.Error("snapshot Homing should not alias tracker state")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Record:        telemetry.Record{Status: telemetry.StatusOK, RPM: 2250, Ratio: 0.5},
		HasRecord:     true,
		Cycles:        90000,
		Mode:          "hold",
		Link:          LinkStats{Queries: 7, Malformed: 1},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Axis: 1, CyclePeriodMs: 10, PublishEvery: 10, Broker: "tcp://localhost:1883", HTTPPort: ":80", GainP: 0.015},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.State != "ok" {
		t.Errorf("State: got %q, want ok", parsed.Status.State)
	}
	if parsed.Status.Mode != "hold" {
		t.Errorf("Mode: got %q, want hold", parsed.Status.Mode)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.Cycles != 90000 {
		t.Errorf("Cycles: got %d, want 90000", parsed.Status.Cycles)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Link.Queries != 7 || parsed.Status.Link.Malformed != 1 {
		t.Errorf("Link: got %+v", parsed.Status.Link)
	}
	if parsed.Status.Config.GainP != 0.015 || parsed.Status.Config.CyclePeriodMs != 10 {
		t.Errorf("Config: got %+v", parsed.Status.Config)
	}

	var rec map[string]float64
	if err := json.Unmarshal(parsed.Status.Record, &rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec["rpm"] != 2250 || rec["ratio"] != 0.5 {
		t.Errorf("record: got %v", rec)
	}
	if parsed.Status.Event != "" || parsed.Status.Reason != "" {
		t.Errorf("expected no event/reason for web format, got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
}

func TestFormatJSONBeforeFirstCycle(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatJSON(snap)

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if raw["status"]["state"] != "starting" {
		t.Errorf("state: got %v, want starting", raw["status"]["state"])
	}
	for _, key := range []string{"record", "homing", "estop_since", "network"} {
		if _, ok := raw["status"][key]; ok {
			t.Errorf("%s should be omitted before it is known", key)
		}
	}
}

func TestFormatJSONSetPointsAndBuffered(t *testing.T) {
	tr := NewTracker(time.Now(), Config{SetPoints: SetPoints{Idle: 1750, Desired: 2250, GearboxOverdrive: 4000}})
	tr.SetMQTTBuffered(42)

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	sp := parsed.Status.Config.SetPoints
	if sp.Idle != 1750 || sp.Desired != 2250 || sp.GearboxOverdrive != 4000 {
		t.Errorf("SetPoints: got %+v", sp)
	}
	if parsed.Status.MQTT.Buffered != 42 {
		t.Errorf("MQTT.Buffered: got %d, want 42", parsed.Status.MQTT.Buffered)
	}
}

func TestFormatJSONUnencodableRecord(t *testing.T) {
	snap := Snapshot{
		Record:    telemetry.Record{RPM: 1800, Voltage: math.NaN()},
		HasRecord: true,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Record != nil {
		t.Errorf("record: got %s, want omitted", parsed.Status.Record)
	}
	if !strings.Contains(parsed.Status.RecordError, "o_vol") {
		t.Errorf("record_error: got %q", parsed.Status.RecordError)
	}
}

func TestFormatJSONEstopAndHoming(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pos := int64(4096)
	snap := Snapshot{
		Record:     telemetry.Record{Status: telemetry.StatusEstop, Estop: true},
		HasRecord:  true,
		Estop:      true,
		EstopSince: start.Add(time.Minute),
		Homing:     &HomingInfo{Status: "success", Outbound: &pos, Elapsed: 1500 * time.Millisecond, At: start},
		StartTime:  start,
		Now:        start.Add(2 * time.Minute),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.State != "estop" || !parsed.Status.Estop {
		t.Errorf("estop: got state=%q estop=%v", parsed.Status.State, parsed.Status.Estop)
	}
	if parsed.Status.EstopSince != "2026-01-01T00:01:00Z" {
		t.Errorf("EstopSince: got %q", parsed.Status.EstopSince)
	}
	h := parsed.Status.Homing
	if h == nil || h.Status != "success" || h.ElapsedMs != 1500 || h.Outbound == nil || *h.Outbound != 4096 {
		t.Errorf("Homing: got %+v", h)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.UpdateRecord(telemetry.Record{RPM: float64(i), Estop: i%3 == 0}, time.Now())
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
			tr.SetHoming(HomingInfo{Status: "success"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
