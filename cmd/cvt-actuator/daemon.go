package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/sweeney/cvt-actuator/internal/config"
	"github.com/sweeney/cvt-actuator/internal/control"
	"github.com/sweeney/cvt-actuator/internal/gpio"
	"github.com/sweeney/cvt-actuator/internal/homing"
	"github.com/sweeney/cvt-actuator/internal/mqtt"
	"github.com/sweeney/cvt-actuator/internal/odrive"
	"github.com/sweeney/cvt-actuator/internal/safety"
	"github.com/sweeney/cvt-actuator/internal/status"
	"github.com/sweeney/cvt-actuator/internal/tach"
)

// daemon bundles the components shared by operating and diagnostic modes.
// Serial access is single-owner: only the goroutine running the mode uses
// client.
type daemon struct {
	cfg        config.Config
	client     *odrive.Client
	inputs     gpio.Inputs
	counter    *tach.Counter
	monitor    *safety.Monitor
	loop       *control.Loop
	tracker    *status.Tracker
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	now        func() time.Time
}

// axes lists the controller axes to report on, actuator first.
func (d *daemon) axes() []int {
	a := d.cfg.Actuator
	if a.CoolingAxis == a.Axis {
		return []int{a.Axis}
	}
	return []int{a.Axis, a.CoolingAxis}
}

// refresh copies link counters and broker state into the tracker.
func (d *daemon) refresh() {
	d.tracker.SetLink(status.LinkStats(d.client.Stats()))
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if b, ok := d.mqttStatus.(interface{ Buffered() int }); ok {
		d.tracker.SetMQTTBuffered(b.Buffered())
	}
}

// publishSystem publishes a system event carrying the full status snapshot.
func (d *daemon) publishSystem(event, reason string, retained bool) {
	d.refresh()
	snap := d.tracker.Snapshot()
	e := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	name := strings.ToLower(event)
	if err := d.publisher.PublishSystem(e); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
	} else {
		log.Printf("published %s event", name)
	}
}

// home runs one homing attempt and records its outcome everywhere it is
// reported.
func (d *daemon) home(ctx context.Context) homing.Result {
	a := d.cfg.Actuator
	m := homing.New(homing.Config{
		Axis:         a.Axis,
		SeekVelocity: a.HomingVelocity,
		Timeout:      a.HomingTimeout,
	}, d.client, d.inputs, d.monitor)

	log.Printf("homing: axis=%d velocity=%v timeout=%v", a.Axis, a.HomingVelocity, a.HomingTimeout)
	res, err := m.Run(ctx)
	if err != nil {
		log.Printf("homing: %v", err)
	}
	if res.Outbound != nil {
		log.Printf("homing: %s after %v, outbound=%d", res.Status, res.Elapsed, *res.Outbound)
	} else {
		log.Printf("homing: %s after %v", res.Status, res.Elapsed)
	}

	d.loop.SetHomingResult(res)
	d.tracker.SetHoming(status.HomingInfo{
		Status:   res.Status.String(),
		Outbound: res.Outbound,
		Elapsed:  res.Elapsed,
		At:       d.now(),
	})
	d.publishSystem(mqtt.EventHoming, res.Status.String(), false)
	return res
}
