package status

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

func fixedTracker(start, now time.Time, cfg Config) *Tracker {
	tr := NewTracker(start, cfg)
	tr.now = func() time.Time { return now }
	return tr
}

func sampleRegulation() regulation.Snapshot {
	var s regulation.Snapshot
	s.SystemVoltage = 24000
	s.Channels[1] = regulation.ChannelSnapshot{
		State:           regulation.Active,
		Requested:       regulation.Active,
		On:              true,
		Percent:         50,
		Millivolts:      12000,
		Milliamps:       38,
		Temperature:     215,
		RequestedCount:  596,
		MeasuredCount:   594,
		Compare:         80,
		Reached:         true,
		HardwareEnabled: true,
	}
	return s
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{MeasurementMs: 2, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.MeasurementMs != 2 {
		t.Errorf("Config.MeasurementMs: got %d, want 2", snap.Config.MeasurementMs)
	}
	if snap.Ready() {
		t.Error("expected Ready=false before the supply voltage is known")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(sampleRegulation())

	snap := tr.Snapshot()
	if !snap.Ready() {
		t.Error("expected Ready=true with a system voltage")
	}
	if snap.Regulation.Channels[1].State != regulation.Active {
		t.Errorf("channel 1 state: got %s", snap.Regulation.Channels[1].State)
	}
}

func TestRecordFault(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := fixedTracker(now, now, Config{})

	tr.RecordFault(fault.Report{Code: fault.PWM(0), ID: 0xA014, Name: "PWM_0", Priority: 1})
	tr.RecordFault(fault.Report{Code: fault.PinFault, ID: 0xA018, Name: "PIN_FAULT", Priority: 1})
	tr.SetRetry(2, 90, 3)

	f := tr.Snapshot().Faults
	if f.Reported != 2 || f.Last != "PIN_FAULT" || f.LastID != 0xA018 {
		t.Errorf("faults: %+v", f)
	}
	if f.Pending != 2 || f.RetryTimeout != 90 || f.RetryCount != 3 {
		t.Errorf("retry: %+v", f)
	}
	if !f.LastTime.Equal(now) {
		t.Errorf("LastTime: got %v", f.LastTime)
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
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})
	if got := tr.Snapshot().Network; got == nil || got.IP != "192.168.1.42" {
		t.Errorf("Network: got %+v", got)
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start.Add(90*time.Second), Config{})
	if got := tr.Snapshot().Uptime(); got != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", got)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(start, start.Add(61500*time.Millisecond), Config{Broker: "tcp://b:1883", TopicPrefix: "dimmer"})
	tr.Update(sampleRegulation())
	tr.SetMQTTConnected(true)

	data := FormatJSON(tr.Snapshot())
	if !strings.Contains(string(data), "\n  ") {
		t.Error("expected indented JSON")
	}

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	s := parsed.Status
	if s.Event != "" || s.Reason != "" {
		t.Error("web status should carry no event")
	}
	if !s.Ready || s.SystemVoltageMV != 24000 || !s.AnyActive {
		t.Errorf("summary: %+v", s)
	}
	if s.UptimeSeconds != 61 {
		t.Errorf("uptime: got %d, want 61", s.UptimeSeconds)
	}
	if len(s.Channels) != regulation.NumChannels {
		t.Fatalf("channels: got %d", len(s.Channels))
	}
	c := s.Channels[1]
	if c.Channel != 1 || c.State != "ACTIVE" || c.Percent != 50 || c.Millivolts != 12000 || c.TemperatureC != 21.5 {
		t.Errorf("channel 1: %+v", c)
	}
	if s.Channels[0].State != "OFF" {
		t.Errorf("channel 0 state: %s", s.Channels[0].State)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://b:1883" || s.Config.TopicPrefix != "dimmer" {
		t.Errorf("mqtt/config: %+v %+v", s.MQTT, s.Config)
	}
	if s.Faults.LastID != "" {
		t.Error("last fault id should be omitted before any fault")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(now, now, Config{})
	tr.RecordFault(fault.Report{ID: 0xA009, Name: "LOAD_MISSING_0"})

	data := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")
	if strings.Contains(string(data), "\n") {
		t.Error("event payload should be compact")
	}
	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event: %+v", parsed.Status)
	}
	if parsed.Status.Faults.LastID != "0xA009" || parsed.Status.Faults.Reported != 1 {
		t.Errorf("faults: %+v", parsed.Status.Faults)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	data := FormatStatusEvent(NewTracker(time.Now(), Config{}).Snapshot(), "STARTUP", "")
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("reason should be omitted")
	}
	if _, ok := raw["status"]["network"]; ok {
		t.Error("network should be omitted when unknown")
	}
}

func TestFormatTelemetry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := fixedTracker(now, now, Config{})
	tr.Update(sampleRegulation())

	var parsed TelemetryJSON
	if err := json.Unmarshal(FormatTelemetry(tr.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Timestamp != "2026-01-01T00:00:00Z" || parsed.SystemVoltageMV != 24000 {
		t.Errorf("telemetry: %+v", parsed)
	}
	if len(parsed.Channels) != regulation.NumChannels || parsed.Channels[1].MeasuredCount != 594 {
		t.Errorf("channels: %+v", parsed.Channels)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Update(sampleRegulation())
				tr.RecordFault(fault.Report{Name: "PWM_0"})
				tr.SetMQTTConnected(j%2 == 0)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = FormatJSON(tr.Snapshot())
			}
		}()
	}
	wg.Wait()
	if got := tr.Snapshot().Faults.Reported; got != 1000 {
		t.Errorf("Reported: got %d, want 1000", got)
	}
}
