package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/cvt-actuator/internal/status"
	"github.com/sweeney/cvt-actuator/internal/telemetry"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"num": func(v float64) string {
		return fmt.Sprintf("%.6g", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="2">
<title>CVT Actuator</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.fault { color: red; font-weight: bold; }
.starting { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>CVT Actuator</h1>

<h2>State</h2>
<table>
<tr><th>Status</th><td id="state" class="{{if eq .State "ok"}}ok{{else if eq .State "starting"}}starting{{else}}fault{{end}}">{{.State}}</td></tr>
<tr><th>E-stop</th><td class="{{if .Estop}}fault{{else}}ok{{end}}">{{if .Estop}}ASSERTED{{else}}clear{{end}}</td></tr>
<tr><th>Mode</th><td>{{.Mode}}{{if eq .Mode "velocity"}} ({{num .Velocity}}){{end}}</td></tr>
<tr><th>Homing</th><td>{{if .Homing}}{{.Homing.Status}}{{if .Homing.Outbound}} at {{.Homing.Outbound}}{{end}}{{else}}not run{{end}}</td></tr>
<tr><th>Cycles</th><td>{{.Cycles}}</td></tr>
</table>

{{if .HasRecord}}
<h2>Latest Record</h2>
<table>
{{range .Fields}}<tr><th>{{.Name}}</th><td>{{num .Value}}</td></tr>
{{end}}</table>
{{end}}

<h2>Link</h2>
<table>
<tr><th>Serial</th><td>{{.Config.SerialDevice}}</td></tr>
<tr><th>Commands</th><td>{{.Link.Commands}}</td></tr>
<tr><th>Queries</th><td>{{.Link.Queries}}</td></tr>
<tr><th>Timeouts</th><td>{{.Link.Timeouts}}</td></tr>
<tr><th>Malformed</th><td>{{.Link.Malformed}}</td></tr>
<tr><th>Suppressed</th><td>{{.Link.Suppressed}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Axis</th><td>{{.Config.Axis}}</td></tr>
<tr><th>Cycle</th><td>{{.Config.CyclePeriodMs}}ms</td></tr>
<tr><th>Publish</th><td>every {{.Config.PublishEvery}} cycles</td></tr>
<tr><th>Window</th><td>{{.Config.Frames}} frames, alpha {{num .Config.Alpha}}</td></tr>
<tr><th>Gains</th><td>P {{num .Config.GainP}} I {{num .Config.GainI}} D {{num .Config.GainD}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/record.json">record</a> | <a href="/record.csv">CSV</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has methods the template needs as fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		State  string
		Fields []telemetry.Field
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		State:    snap.State(),
		Fields:   snap.Record.Fields(),
	}
	indexTmpl.Execute(w, data)
}
