package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event           string        `json:"event,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Ready           bool          `json:"ready"`
	SystemVoltageMV uint32        `json:"system_voltage_mv"`
	NightMode       bool          `json:"night_mode"`
	Reduced         bool          `json:"reduced"`
	AnyActive       bool          `json:"any_active"`
	Channels        []ChannelJSON `json:"channels"`
	Faults          FaultsJSON    `json:"faults"`
	UptimeSeconds   int64         `json:"uptime_seconds"`
	StartTime       string        `json:"start_time"`
	Timestamp       string        `json:"timestamp"`
	MQTT            MQTTStatus    `json:"mqtt"`
	Network         *NetworkJSON  `json:"network,omitempty"`
	Config          ConfigJSON    `json:"config"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Channel         int     `json:"channel"`
	State           string  `json:"state"`
	Requested       string  `json:"requested"`
	On              bool    `json:"on"`
	Percent         uint8   `json:"percent"`
	Millivolts      uint32  `json:"millivolts"`
	Milliamps       uint32  `json:"milliamps"`
	TemperatureC    float64 `json:"temperature_c"`
	RequestedCount  uint16  `json:"requested_count"`
	MeasuredCount   uint16  `json:"measured_count"`
	Compare         uint16  `json:"compare"`
	Reached         bool    `json:"reached"`
	CannotReach     bool    `json:"cannot_reach"`
	HardwareEnabled bool    `json:"hardware_enabled"`
	Initialized     bool    `json:"initialized"`
	Calibrating     bool    `json:"calibrating"`
}

// FaultsJSON is the JSON representation of fault handling.
type FaultsJSON struct {
	Reported     int    `json:"reported"`
	Last         string `json:"last,omitempty"`
	LastID       string `json:"last_id,omitempty"`
	LastTime     string `json:"last_time,omitempty"`
	Pending      int    `json:"pending"`
	RetryTimeout uint32 `json:"retry_timeout_s"`
	RetryCount   uint8  `json:"retry_count"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
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
	MeasurementMs int64  `json:"measurement_ms"`
	ControllerMs  int64  `json:"controller_ms"`
	FaultsMs      int64  `json:"faults_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker"`
	TopicPrefix   string `json:"topic_prefix"`
	HTTPPort      string `json:"http_port"`
	WSBroker      string `json:"ws_broker,omitempty"`
	Simulated     bool   `json:"simulated,omitempty"`
}

// TelemetryJSON is the payload published on the telemetry topic.
type TelemetryJSON struct {
	Timestamp       string        `json:"timestamp"`
	SystemVoltageMV uint32        `json:"system_voltage_mv"`
	Channels        []ChannelJSON `json:"channels"`
}

// Channels converts the per-channel part of a regulation snapshot.
func Channels(reg regulation.Snapshot) []ChannelJSON {
	out := make([]ChannelJSON, len(reg.Channels))
	for i, c := range reg.Channels {
		out[i] = ChannelJSON{
			Channel:         i,
			State:           c.State.String(),
			Requested:       c.Requested.String(),
			On:              c.On,
			Percent:         c.Percent,
			Millivolts:      c.Millivolts,
			Milliamps:       c.Milliamps,
			TemperatureC:    float64(c.Temperature) / 10,
			RequestedCount:  c.RequestedCount,
			MeasuredCount:   c.MeasuredCount,
			Compare:         c.Compare,
			Reached:         c.Reached,
			CannotReach:     c.CannotReach,
			HardwareEnabled: c.HardwareEnabled,
			Initialized:     c.Initialized,
			Calibrating:     c.Calibrating,
		}
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	f := snap.Faults
	faults := FaultsJSON{
		Reported:     f.Reported,
		Last:         f.Last,
		Pending:      f.Pending,
		RetryTimeout: f.RetryTimeout,
		RetryCount:   f.RetryCount,
	}
	if f.Reported > 0 {
		faults.LastID = fmt.Sprintf("0x%04X", f.LastID)
		faults.LastTime = f.LastTime.UTC().Format(time.RFC3339)
	}

	return StatusInner{
		Ready:           snap.Ready(),
		SystemVoltageMV: snap.Regulation.SystemVoltage,
		NightMode:       snap.Regulation.NightMode,
		Reduced:         snap.Regulation.Reduced,
		AnyActive:       snap.Regulation.AnyActive(),
		Channels:        Channels(snap.Regulation),
		Faults:          faults,
		UptimeSeconds:   int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:       snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		MQTT:            MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			MeasurementMs: snap.Config.MeasurementMs,
			ControllerMs:  snap.Config.ControllerMs,
			FaultsMs:      snap.Config.FaultsMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			TopicPrefix:   snap.Config.TopicPrefix,
			HTTPPort:      snap.Config.HTTPPort,
			WSBroker:      snap.Config.WSBroker,
			Simulated:     snap.Config.Simulated,
		},
	}
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

// FormatTelemetry returns the channel telemetry payload.
func FormatTelemetry(snap Snapshot) []byte {
	data, _ := json.Marshal(TelemetryJSON{
		Timestamp:       snap.Now.UTC().Format(time.RFC3339),
		SystemVoltageMV: snap.Regulation.SystemVoltage,
		Channels:        Channels(snap.Regulation),
	})
	return data
}
