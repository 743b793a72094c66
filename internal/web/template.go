package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/regulation"
	"github.com/sweeney/dimmer-regulator/internal/status"
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
	"stateClass": func(s regulation.State) string {
		switch s {
		case regulation.Active:
			return "on"
		case regulation.Off:
			return "off"
		}
		return "transition"
	},
	"volts": func(mv uint32) string {
		return fmt.Sprintf("%d.%02d V", mv/1000, mv%1000/10)
	},
	"celsius": func(tenths int16) string {
		return fmt.Sprintf("%.1f °C", float64(tenths)/10)
	},
	"hex": func(id uint16) string { return fmt.Sprintf("0x%04X", id) },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Dimmer Regulator</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.transition { color: orange; }
.connected { color: green; }
.disconnected, .fault { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Dimmer Regulator{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Channels</h2>
<table>
<tr><th>#</th><th>State</th><th>Brightness</th><th>Output</th><th>Current</th><th>Temperature</th><th>Control</th></tr>
{{range $i, $c := .Regulation.Channels}}<tr id="ch-{{$i}}">
<td>{{$i}}</td>
<td class="state {{stateClass $c.State}}">{{$c.State}}{{if $c.Calibrating}} (calibrating){{end}}</td>
<td>{{if $c.On}}{{$c.Percent}}%{{else}}off{{end}}</td>
<td class="volts">{{volts $c.Millivolts}}</td>
<td class="amps">{{$c.Milliamps}} mA</td>
<td>{{celsius $c.Temperature}}</td>
<td>{{if $c.CannotReach}}<span class="fault">cannot reach</span>{{else if $c.Reached}}reached{{else if $c.HardwareEnabled}}regulating{{else}}-{{end}}</td>
</tr>
{{end}}</table>

<h2>Supply</h2>
<table>
<tr><th>System voltage</th><td>{{if .Ready}}{{volts .Regulation.SystemVoltage}}{{else}}<span class="transition">discovering</span>{{end}}</td></tr>
<tr><th>Night mode</th><td>{{if .Regulation.NightMode}}on{{else}}off{{end}}</td></tr>
<tr><th>Reduced output</th><td>{{if .Regulation.Reduced}}<span class="fault">yes</span>{{else}}no{{end}}</td></tr>
</table>

<h2>Faults</h2>
<table>
<tr><th>Reported</th><td>{{.Faults.Reported}}</td></tr>
{{if .Faults.Reported}}<tr><th>Last</th><td class="fault">{{.Faults.Last}} ({{hex .Faults.LastID}})</td></tr>{{end}}
<tr><th>Pending</th><td>{{.Faults.Pending}}</td></tr>
<tr><th>Retry</th><td>{{if .Faults.RetryTimeout}}{{.Faults.RetryTimeout}}s (attempt {{.Faults.RetryCount}}){{else}}idle{{end}}</td></tr>
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
<tr><th>Cadence</th><td>{{.Config.MeasurementMs}}/{{.Config.ControllerMs}}/{{.Config.FaultsMs}} ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
{{if .Config.Simulated}}<tr><th>Hardware</th><td class="transition">simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.TopicPrefix}}/telemetry";
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });
  client.on("reconnect", function() { setDot("pending", "reconnecting"); });
  client.on("offline", function() { setDot("err", "offline"); });
  client.on("error", function() { setDot("err", "error"); });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      (msg.channels || []).forEach(function(c) {
        var row = document.getElementById("ch-" + c.channel);
        if (!row) return;
        var st = row.querySelector(".state");
        st.textContent = c.state + (c.calibrating ? " (calibrating)" : "");
        st.className = "state " + (c.state === "ACTIVE" ? "on" : c.state === "OFF" ? "off" : "transition");
        row.querySelector(".volts").textContent = (c.millivolts / 1000).toFixed(2) + " V";
        row.querySelector(".amps").textContent = c.milliamps + " mA";
      });
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	indexTmpl.Execute(w, snap)
}
