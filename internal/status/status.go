// Package status provides a thread-safe status tracker for the dimmer
// daemon. It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	MeasurementMs int64
	ControllerMs  int64
	FaultsMs      int64
	HeartbeatMs   int64
	Broker        string
	TopicPrefix   string
	HTTPPort      string
	WSBroker      string // websocket broker URL for browser MQTT (empty = disabled)
	Simulated     bool
}

// Faults summarises fault handling.
type Faults struct {
	Reported     int
	Last         string
	LastID       uint16
	LastTime     time.Time
	Pending      int
	RetryTimeout uint32
	RetryCount   uint8
}

// Snapshot is a point-in-time view of daemon state. It is a value type,
// safe to use after the lock is released.
type Snapshot struct {
	Regulation    regulation.Snapshot
	Faults        Faults
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the supply voltage is known, which channels need
// before they can be switched on.
func (s Snapshot) Ready() bool {
	return s.Regulation.SystemVoltage != 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the latest regulation snapshot.
func (t *Tracker) Update(reg regulation.Snapshot) {
	t.mu.Lock()
	t.snap.Regulation = reg
	t.mu.Unlock()
}

// SetRetry records the fault handler's pending count and retry timer.
func (t *Tracker) SetRetry(pending int, timeout uint32, count uint8) {
	t.mu.Lock()
	t.snap.Faults.Pending = pending
	t.snap.Faults.RetryTimeout = timeout
	t.snap.Faults.RetryCount = count
	t.mu.Unlock()
}

// RecordFault counts a reported fault.
func (t *Tracker) RecordFault(r fault.Report) {
	t.mu.Lock()
	t.snap.Faults.Reported++
	t.snap.Faults.Last = r.Name
	t.snap.Faults.LastID = r.ID
	t.snap.Faults.LastTime = t.now()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state. Now is set
// at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
