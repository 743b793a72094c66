// Package regulation sequences the output channels of a PWM dimmer and
// regulates each one toward its requested brightness.
//
// Each channel walks OFF -> ENTRY -> ACTIVE -> EXIT -> OFF. ENTRY enables
// the hardware after a PWM self-test, ACTIVE keeps the target count fresh
// while the controller nudges the compare register one step per control
// cycle, and EXIT dims to zero before OFF disables the hardware.
//
// Requests may come from any goroutine; they are queued and applied at the
// start of the next measurement tick. Tick methods must all be called from
// a single goroutine.
package regulation

import (
	"errors"
	"fmt"
)

// NumChannels is the number of output channels.
const NumChannels = 4

// Controller and sequencing constants.
const (
	DefaultTolerance   = 4
	SafeCompare        = 10
	DefaultMailboxSize = 32
)

var (
	// ErrInvalidChannel is returned for a channel outside [0, NumChannels).
	ErrInvalidChannel = errors.New("regulation: invalid channel")

	// ErrInvalidState is returned when requesting a state other than OFF or ACTIVE.
	ErrInvalidState = errors.New("regulation: only OFF and ACTIVE can be requested")

	// ErrMailboxFull is returned when requests arrive faster than ticks drain them.
	ErrMailboxFull = errors.New("regulation: request mailbox full")
)

// State is the sequencing state of a channel.
type State uint8

const (
	Off State = iota
	Entry
	Active
	Exit
)

func (s State) String() string {
	switch s {
	case Off:
		return "OFF"
	case Entry:
		return "ENTRY"
	case Active:
		return "ACTIVE"
	case Exit:
		return "EXIT"
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// ParseState parses the name of a requestable state.
func ParseState(s string) (State, error) {
	switch s {
	case "OFF", "off":
		return Off, nil
	case "ACTIVE", "active", "ON", "on":
		return Active, nil
	}
	return Off, fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// Calibration holds the counts captured at the threshold and the top of
// a channel's output range.
type Calibration struct {
	MinCurrentCount uint16 `yaml:"min_current_count" json:"min_current_count"`
	MaxCurrentCount uint16 `yaml:"max_current_count" json:"max_current_count"`
	MinVoltageCount uint16 `yaml:"min_voltage_count" json:"min_voltage_count"`
	MaxVoltageCount uint16 `yaml:"max_voltage_count" json:"max_voltage_count"`
	MinCompare      uint16 `yaml:"min_compare" json:"min_compare"`
	MaxCompare      uint16 `yaml:"max_compare" json:"max_compare"`
}

// Valid reports whether the calibration spans a usable voltage range.
func (c Calibration) Valid() bool {
	return c.MaxVoltageCount > c.MinVoltageCount
}

// ChannelSettings are the persisted values of one channel.
type ChannelSettings struct {
	Initialized bool        `yaml:"initialized"`
	Calibration Calibration `yaml:"calibration"`
	Percent     uint8       `yaml:"percent"`
	On          bool        `yaml:"on"`
}

// Settings are the persisted values of all channels.
type Settings struct {
	Channels [NumChannels]ChannelSettings `yaml:"channels"`
}

// Store loads and saves Settings.
type Store interface {
	Load() (Settings, error)
	Save(s Settings) error
}

// ChannelSnapshot is a point-in-time view of one channel.
type ChannelSnapshot struct {
	State           State
	Requested       State
	Percent         uint8
	On              bool
	RequestedCount  uint16
	MeasuredCount   uint16
	Compare         uint16
	Reached         bool
	CannotReach     bool
	HardwareEnabled bool
	Initialized     bool
	Calibrating     bool
	Calibration     Calibration
	RawVoltageCount uint16
	CurrentCount    uint16
	Millivolts      uint32
	Milliamps       uint32
	Temperature     int16 // tenths of a degree Celsius
}

// Snapshot is a point-in-time view of the engine.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Channels      [NumChannels]ChannelSnapshot
	SystemVoltage uint32
	NightMode     bool
	Reduced       bool
}

// AnyActive reports whether any channel is enabled or heading to ACTIVE.
func (s Snapshot) AnyActive() bool {
	for _, c := range s.Channels {
		if c.HardwareEnabled || c.Requested == Active {
			return true
		}
	}
	return false
}
