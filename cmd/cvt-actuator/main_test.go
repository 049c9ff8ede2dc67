package main

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/cvt-actuator/internal/config"
	"github.com/sweeney/cvt-actuator/internal/gpio"
	"github.com/sweeney/cvt-actuator/internal/homing"
	"github.com/sweeney/cvt-actuator/internal/mqtt"
	"github.com/sweeney/cvt-actuator/internal/odrive"
	"github.com/sweeney/cvt-actuator/internal/safety"
	"github.com/sweeney/cvt-actuator/internal/status"
	"github.com/sweeney/cvt-actuator/internal/tach"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("SIGINT: got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("SIGTERM: got %q", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("SIGHUP: got %q", got)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{
		mode:     modeOperating,
		serial:   "/dev/ttyUSB3",
		broker:   "tcp://10.0.0.5:1883",
		httpAddr: "off",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyUSB3" {
		t.Errorf("Serial.Device: got %q", cfg.Serial.Device)
	}
	if cfg.MQTT.Broker != "tcp://10.0.0.5:1883" {
		t.Errorf("MQTT.Broker: got %q", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr: got %q, want disabled", cfg.HTTP.Addr)
	}

	cfg, err = loadConfig(options{mode: modeDiagnostic, httpAddr: ":8080"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr: got %q", cfg.HTTP.Addr)
	}
}

func TestLoadConfigRejectsUnknownMode(t *testing.T) {
	if _, err := loadConfig(options{mode: "race"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(options{mode: modeOperating, configPath: "/nonexistent/cvt.yaml"}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// --- daemon rig ---

type testRig struct {
	d         *daemon
	transport *odrive.FakeTransport
	inputs    *gpio.FakeInputs
	pub       *mqtt.FakePublisher
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cfg := config.Default()

	monitor := safety.NewMonitor()
	counter := tach.NewCounter(nil)
	inputs := gpio.NewFakeInputs(gpio.Handlers{
		EngineEdge:  counter.OnEngineEdge,
		GearboxEdge: counter.OnGearboxEdge,
		Estop:       monitor.AssertEstop,
	})
	transport := odrive.NewFakeTransport()
	client := odrive.NewClient(transport, odrive.Options{
		ReadTimeout: 2 * time.Millisecond,
		Interlock:   monitor,
		Sleep:       func(time.Duration) {},
	})
	loop, err := newLoop(cfg, client, inputs, counter, monitor)
	if err != nil {
		t.Fatalf("newLoop: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	pub.Connected = true

	d := &daemon{
		cfg:        cfg,
		client:     client,
		inputs:     inputs,
		counter:    counter,
		monitor:    monitor,
		loop:       loop,
		tracker:    status.NewTracker(time.Now(), statusConfig(cfg)),
		publisher:  pub,
		mqttStatus: pub,
		now:        time.Now,
	}
	return &testRig{d: d, transport: transport, inputs: inputs, pub: pub}
}

// runRunLoop drives runLoop for nTicks ticks, calling between(i) after
// tick i is delivered, then sends sig and returns runLoop's error.
func runRunLoop(t *testing.T, r *testRig, publishEvery, nTicks int, between func(i int), signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(r.d, publishEvery, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
		if between != nil {
			between(i)
		}
	}
	sig <- signal

	return <-errCh
}

func TestRunLoopPublishesEveryNth(t *testing.T) {
	r := newTestRig(t)

	if err := runRunLoop(t, r, 10, 25, nil, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(r.pub.Records) != 2 {
		t.Errorf("records: got %d, want 2", len(r.pub.Records))
	}
	if got := r.d.tracker.Snapshot().Cycles; got != 25 {
		t.Errorf("tracker cycles: got %d, want 25", got)
	}
	if !r.d.tracker.Snapshot().MQTTConnected {
		t.Error("tracker should reflect broker connection")
	}
}

func TestRunLoopShutdown(t *testing.T) {
	r := newTestRig(t)

	if err := runRunLoop(t, r, 10, 3, nil, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	names := r.pub.SystemEventNames()
	if len(names) != 1 || names[0] != mqtt.EventShutdown {
		t.Fatalf("system events: got %v, want [SHUTDOWN]", names)
	}
	ev := r.pub.SystemEvents[0]
	if ev.Reason != "SIGINT" || !ev.Retained {
		t.Errorf("shutdown event: got %+v", ev)
	}
	if !strings.Contains(string(r.pub.SystemPayloads[0]), `"event":"SHUTDOWN"`) {
		t.Errorf("payload: got %s", r.pub.SystemPayloads[0])
	}

	// 3 idle cycles plus the shutdown idle.
	sent := r.transport.Sent()
	if len(sent) != 4 || sent[3] != "w axis1.requested_state 1" {
		t.Errorf("writes: got %v", sent)
	}
}

func TestRunLoopEstopPublishedOnce(t *testing.T) {
	r := newTestRig(t)

	between := func(i int) {
		if i == 2 {
			r.inputs.PressEstop()
		}
	}
	if err := runRunLoop(t, r, 10, 12, between, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	names := r.pub.SystemEventNames()
	if len(names) != 2 || names[0] != mqtt.EventEstop || names[1] != mqtt.EventShutdown {
		t.Fatalf("system events: got %v, want [ESTOP SHUTDOWN]", names)
	}
	snap := r.d.tracker.Snapshot()
	if !snap.Estop || snap.State() != "estop" {
		t.Errorf("tracker: estop=%v state=%s", snap.Estop, snap.State())
	}
	if snap.Link.Suppressed == 0 {
		t.Error("shutdown idle should have been suppressed")
	}
}

func TestRunLoopSurvivesPublishErrors(t *testing.T) {
	r := newTestRig(t)
	r.pub.PublishError = errors.New("broker down")

	if err := runRunLoop(t, r, 1, 5, nil, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if got := r.d.tracker.Snapshot().Cycles; got != 5 {
		t.Errorf("cycles: got %d, want 5", got)
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Errorf("shutdown should still publish, got %v", r.pub.SystemEventNames())
	}
}

func TestHomeSuccess(t *testing.T) {
	r := newTestRig(t)
	r.inputs.SetHalls(false, true)
	r.inputs.SetEncoder(777)

	res := r.d.home(context.Background())

	if res.Status != homing.StatusSuccess {
		t.Fatalf("status: got %v, want success", res.Status)
	}
	if res.Outbound == nil || *res.Outbound != 777 {
		t.Errorf("outbound: got %v", res.Outbound)
	}
	snap := r.d.tracker.Snapshot()
	if snap.Homing == nil || snap.Homing.Status != "success" {
		t.Errorf("tracker homing: got %+v", snap.Homing)
	}
	names := r.pub.SystemEventNames()
	if len(names) != 1 || names[0] != mqtt.EventHoming || r.pub.SystemEvents[0].Reason != "success" {
		t.Errorf("events: got %+v", r.pub.SystemEvents)
	}

	sent := r.transport.Sent()
	want := []string{"w axis1.requested_state 8", "v 1 0.5000 0", "v 1 0.0000 0", "w axis1.requested_state 1"}
	if strings.Join(sent, "|") != strings.Join(want, "|") {
		t.Errorf("writes:\ngot  %v\nwant %v", sent, want)
	}
}

func TestHomeAbortedByEstopMarksRecords(t *testing.T) {
	r := newTestRig(t)
	r.inputs.PressEstop()

	res := r.d.home(context.Background())
	if res.Status != homing.StatusAborted {
		t.Fatalf("status: got %v, want aborted", res.Status)
	}

	r.d.monitor.Reset()
	rec := r.d.loop.Cycle()
	if rec.Status.String() != "homing_failed" {
		t.Errorf("record status after failed homing: got %v", rec.Status)
	}
}

func TestRunReports(t *testing.T) {
	r := newTestRig(t)
	r.inputs.SetEncoder(42)

	tick := make(chan time.Time, 2)
	tick <- time.Time{}
	tick <- time.Time{}
	var out strings.Builder

	if err := runReports(r.d, 3, &out, tick, make(chan os.Signal)); err != nil {
		t.Fatalf("runReports: %v", err)
	}
	if n := strings.Count(out.String(), "--- report "); n != 3 {
		t.Errorf("reports: got %d, want 3", n)
	}
	if !strings.Contains(out.String(), "--- report 3/3") || !strings.Contains(out.String(), "encoder: 42") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRunReportsStopsOnSignal(t *testing.T) {
	r := newTestRig(t)
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGINT
	var out strings.Builder

	if err := runReports(r.d, 100, &out, make(chan time.Time), sig); err != nil {
		t.Fatalf("runReports: %v", err)
	}
	if n := strings.Count(out.String(), "--- report "); n != 1 {
		t.Errorf("reports: got %d, want 1", n)
	}
}

func TestAxes(t *testing.T) {
	r := newTestRig(t)
	if got := r.d.axes(); len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("axes: got %v, want [1 0]", got)
	}
	r.d.cfg.Actuator.CoolingAxis = 1
	if got := r.d.axes(); len(got) != 1 {
		t.Errorf("axes: got %v, want [1]", got)
	}
}

func TestStatusConfigSetPoints(t *testing.T) {
	sp := statusConfig(config.Default()).SetPoints

	if sp.Idle != 1750 || sp.Desired != 2250 || sp.Power != 3400 {
		t.Errorf("engine set points: got %+v", sp)
	}
	if math.Abs(sp.GearboxEngage-2100/4.25) > 1e-9 || math.Abs(sp.GearboxOverdrive-3400/0.85) > 1e-9 {
		t.Errorf("gearbox set points: got %+v", sp)
	}
}

type bufferingBroker struct{ n int }

func (b bufferingBroker) IsConnected() bool { return false }
func (b bufferingBroker) Buffered() int     { return b.n }

func TestRefreshReportsBufferedMessages(t *testing.T) {
	r := newTestRig(t)
	r.d.mqttStatus = bufferingBroker{n: 7}

	r.d.refresh()

	snap := r.d.tracker.Snapshot()
	if snap.MQTTConnected || snap.MQTTBuffered != 7 {
		t.Errorf("mqtt: connected=%v buffered=%d, want false/7", snap.MQTTConnected, snap.MQTTBuffered)
	}
}
