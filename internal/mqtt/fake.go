package mqtt

import (
	"sync"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/fault"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Faults contains every fault report that was published.
	Faults []fault.Report

	// FaultPayloads contains the JSON payloads of the fault reports.
	FaultPayloads [][]byte

	// Telemetry contains the telemetry payloads.
	Telemetry [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	// Now stamps fault payloads. Defaults to time.Now.
	Now func() time.Time
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

// Report records the fault report.
func (f *FakePublisher) Report(r fault.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	payload, err := FormatFaultPayload(r, now())
	if err != nil {
		return err
	}
	f.Faults = append(f.Faults, r)
	f.FaultPayloads = append(f.FaultPayloads, payload)
	return nil
}

// PublishTelemetry records the payload.
func (f *FakePublisher) PublishTelemetry(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the connection state.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.Connected = c
	f.mu.Unlock()
}

// Events returns the names of the recorded system events in order.
func (f *FakePublisher) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		names[i] = e.Event
	}
	return names
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Faults = nil
	f.FaultPayloads = nil
	f.Telemetry = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.PublishError = nil
	f.Closed = false
}
