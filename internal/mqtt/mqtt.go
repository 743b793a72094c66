// Package mqtt publishes fault reports, telemetry and lifecycle events and
// receives commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/fault"
)

// Topic suffixes below the configured prefix.
const (
	TopicFaults    = "faults"
	TopicSystem    = "system"
	TopicTelemetry = "telemetry"
	TopicCommand   = "cmd"
)

// Topics resolves the topic names for a prefix.
type Topics struct {
	Faults    string
	System    string
	Telemetry string
	Command   string
}

// NewTopics returns the topics below prefix.
func NewTopics(prefix string) Topics {
	return Topics{
		Faults:    prefix + "/" + TopicFaults,
		System:    prefix + "/" + TopicSystem,
		Telemetry: prefix + "/" + TopicTelemetry,
		Command:   prefix + "/" + TopicCommand,
	}
}

// Publisher publishes to MQTT. It satisfies fault.Sink.
type Publisher interface {
	// Report publishes a debounced fault.
	Report(r fault.Report) error

	// PublishTelemetry sends a pre-formatted channel snapshot.
	PublishTelemetry(payload []byte) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT,
// RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown only, e.g. SIGTERM
	RawPayload []byte // pre-formatted payload, returned as is by FormatSystemPayload
	Retained   bool
}

// SystemPayload is the payload of simple events that carry no status
// snapshot (LWT, RECONNECTED).
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
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}

// FaultPayload is the payload of a fault report.
type FaultPayload struct {
	Fault FaultPayloadInner `json:"fault"`
}

// FaultPayloadInner contains the fault details.
type FaultPayloadInner struct {
	Timestamp string `json:"timestamp"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Priority  uint8  `json:"priority"`
}

// FormatFaultPayload creates the JSON payload for a fault report.
func FormatFaultPayload(r fault.Report, t time.Time) ([]byte, error) {
	return json.Marshal(FaultPayload{
		Fault: FaultPayloadInner{
			Timestamp: t.UTC().Format(time.RFC3339),
			ID:        fmt.Sprintf("0x%04X", r.ID),
			Name:      r.Name,
			Priority:  r.Priority,
		},
	})
}
