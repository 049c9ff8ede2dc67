// Command cvt-actuator drives the CVT actuator: it counts engine and gearbox
// geartooth pulses, commands the actuator motor controller over serial and
// publishes per-cycle telemetry to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/cvt-actuator/internal/config"
	"github.com/sweeney/cvt-actuator/internal/control"
	"github.com/sweeney/cvt-actuator/internal/gpio"
	"github.com/sweeney/cvt-actuator/internal/mqtt"
	"github.com/sweeney/cvt-actuator/internal/odrive"
	"github.com/sweeney/cvt-actuator/internal/safety"
	"github.com/sweeney/cvt-actuator/internal/status"
	"github.com/sweeney/cvt-actuator/internal/tach"
	"github.com/sweeney/cvt-actuator/internal/web"
)

const (
	modeOperating  = "operating"
	modeDiagnostic = "diagnostic"

	// idleWait bounds the wait for the axis to report Idle.
	idleWait = 5 * time.Second
	// reconnectInterval is the retry period while the serial device is absent.
	reconnectInterval = time.Second
)

type options struct {
	configPath   string
	mode         string
	serial       string
	broker       string
	httpAddr     string
	home         bool
	interactive  bool
	diagInterval time.Duration
	diagShots    int
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (empty for built-in defaults)")
	flag.StringVar(&o.mode, "mode", modeOperating, "operating or diagnostic")
	flag.StringVar(&o.serial, "serial", "", "Controller serial device (overrides config)")
	flag.StringVar(&o.broker, "broker", "", "MQTT broker address (overrides config)")
	flag.StringVar(&o.httpAddr, "http", "", `HTTP status address (overrides config, "off" disables)`)
	flag.BoolVar(&o.home, "home", false, "Home the actuator on startup")
	flag.BoolVar(&o.interactive, "interactive", false, "Diagnostic mode: interactive shell instead of periodic reports")
	flag.DurationVar(&o.diagInterval, "diag-interval", 500*time.Millisecond, "Diagnostic report interval")
	flag.IntVar(&o.diagShots, "diag-shots", 100, "Diagnostic reports before exiting")

	flag.Parse()

	cfg, err := loadConfig(o)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if err := run(cfg, o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig resolves the config file and environment, then applies flag
// overrides.
func loadConfig(o options) (config.Config, error) {
	if o.mode != modeOperating && o.mode != modeDiagnostic {
		return config.Config{}, fmt.Errorf("unknown mode %q: expected %s or %s", o.mode, modeOperating, modeDiagnostic)
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.serial != "" {
		cfg.Serial.Device = o.serial
	}
	if o.broker != "" {
		cfg.MQTT.Broker = o.broker
	}
	switch o.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = o.httpAddr
	}
	return cfg, cfg.Validate()
}

func run(cfg config.Config, o options) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := safety.NewMonitor()
	counter := tach.NewCounter(nil)

	// Initialize GPIO
	inputs, err := gpio.NewRealInputs(cfg.Pins, gpio.Handlers{
		EngineEdge:  counter.OnEngineEdge,
		GearboxEdge: counter.OnGearboxEdge,
		Estop:       monitor.AssertEstop,
	})
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer inputs.Close()

	// Open the controller link
	port, err := odrive.Connect(ctx, cfg.Serial.Device, cfg.Serial.Port, reconnectInterval)
	if err != nil {
		return fmt.Errorf("open controller: %w", err)
	}
	defer port.Close()
	// The controller ignores commands for a moment after the port opens.
	time.Sleep(cfg.Serial.ConnectWait)

	client := odrive.NewClient(port, odrive.Options{
		ReadTimeout:  cfg.Actuator.ReadTimeout,
		PollInterval: cfg.Actuator.PollInterval,
		Parse:        odrive.ParsePolicyFromString(cfg.Actuator.ParsePolicy),
		Interlock:    monitor,
	})

	idle, err := client.SetAxisState(cfg.Actuator.Axis, odrive.StateIdle, true, idleWait)
	switch {
	case errors.Is(err, odrive.ErrSuppressed):
		log.Printf("startup idle suppressed: estop asserted")
	case err != nil:
		return fmt.Errorf("idle axis%d: %w", cfg.Actuator.Axis, err)
	case !idle:
		log.Printf("axis%d not idle after %v", cfg.Actuator.Axis, idleWait)
	}

	loop, err := newLoop(cfg, client, inputs, counter, monitor)
	if err != nil {
		return err
	}

	// Initialize MQTT. Publishing runs off the control goroutine.
	broker := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		BufferSize: cfg.MQTT.BufferSize,
	})
	publisher := mqtt.NewAsync(broker, cfg.MQTT.QueueDepth)
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	m, v := loop.Mode()
	tracker.SetMode(m.String(), v)

	d := &daemon{
		cfg:        cfg,
		client:     client,
		inputs:     inputs,
		counter:    counter,
		monitor:    monitor,
		loop:       loop,
		tracker:    tracker,
		publisher:  publisher,
		mqttStatus: broker,
		now:        time.Now,
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	if o.mode == modeDiagnostic {
		return runDiagnostic(ctx, d, o, sigCh)
	}

	if o.home {
		d.home(ctx)
	}

	d.publishSystem(mqtt.EventStartup, "", true)

	log.Printf("started: axis=%d cycle=%v mode=%s broker=%s publish_every=%d",
		cfg.Actuator.Axis, cfg.Actuator.CyclePeriod, m, cfg.MQTT.Broker, cfg.MQTT.PublishEvery)

	ticker := time.NewTicker(cfg.Actuator.CyclePeriod)
	defer ticker.Stop()

	return runLoop(d, cfg.MQTT.PublishEvery, ticker.C, sigCh)
}

func newLoop(cfg config.Config, motor control.Motor, sensors control.Sensors, counter control.Counter, interlock control.Safety) (*control.Loop, error) {
	mode, err := control.ParseMode(cfg.Actuator.Mode)
	if err != nil {
		return nil, err
	}
	lo, hi := cfg.RatioBounds()
	loop, err := control.New(control.Config{
		Axis:              cfg.Actuator.Axis,
		Mode:              mode,
		Velocity:          cfg.Actuator.Velocity,
		RefRPM:            cfg.Engine.Desired,
		EngineTeeth:       float64(cfg.Tach.EngineTeeth),
		GearboxTeeth:      float64(cfg.Tach.GearboxTeeth),
		Frames:            cfg.Tach.Frames,
		Alpha:             cfg.Tach.Alpha,
		Ratio:             tach.RatioBounds{Min: lo, Max: hi},
		LinkTimeoutCycles: cfg.Actuator.LinkTimeoutCycles,
		SampleBus:         cfg.Actuator.SampleBus,
	}, motor, sensors, counter, interlock)
	if err != nil {
		return nil, fmt.Errorf("control loop: %w", err)
	}
	return loop, nil
}

func statusConfig(cfg config.Config) status.Config {
	e := cfg.Engine
	return status.Config{
		Axis:          cfg.Actuator.Axis,
		CyclePeriodMs: cfg.Actuator.CyclePeriod.Milliseconds(),
		SerialDevice:  cfg.Serial.Device,
		Broker:        cfg.MQTT.Broker,
		HTTPPort:      cfg.HTTP.Addr,
		PublishEvery:  cfg.MQTT.PublishEvery,
		Frames:        cfg.Tach.Frames,
		Alpha:         cfg.Tach.Alpha,
		GainP:         cfg.Gains.P,
		GainI:         cfg.Gains.I,
		GainD:         cfg.Gains.D,
		SetPoints: status.SetPoints{
			Idle:             e.Idle,
			Engage:           e.Engage,
			Launch:           e.Launch,
			Torque:           e.Torque,
			Power:            e.Power,
			Desired:          e.Desired,
			Minimum:          e.Minimum,
			GearboxEngage:    e.GearboxEngageRPM(),
			GearboxPower:     e.GearboxPowerRPM(),
			GearboxOverdrive: e.GearboxOverdriveRPM(),
		},
	}
}

func runLoop(d *daemon, publishEvery int, tick <-chan time.Time, sig <-chan os.Signal) error {
	if publishEvery < 1 {
		publishEvery = 1
	}
	estop := false
	publishFailing := false

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			if err := d.loop.Stop(); err != nil {
				log.Printf("shutdown idle: %v", err)
			}
			d.publishSystem(mqtt.EventShutdown, signalName(s), true)
			return nil

		case <-tick:
			rec := d.loop.Cycle()
			t := d.now()
			d.tracker.UpdateRecord(rec, t)

			if rec.Estop != estop {
				estop = rec.Estop
				if estop {
					log.Printf("estop asserted: motor commands suppressed")
					d.publishSystem(mqtt.EventEstop, "asserted", false)
				} else {
					log.Printf("estop cleared")
				}
			}

			if d.loop.Cycles()%uint64(publishEvery) != 0 {
				continue
			}
			err := d.publisher.PublishRecord(t, rec)
			switch {
			case err != nil && !publishFailing:
				// Don't crash on publish failure
				log.Printf("publish error: %v", err)
				publishFailing = true
			case err == nil && publishFailing:
				log.Printf("publish recovered")
				publishFailing = false
			}
			d.refresh()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
