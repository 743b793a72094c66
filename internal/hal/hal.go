// Package hal provides hardware access for the regulation engine.
// The real implementation drives Linux GPIO character devices, hardware PWM
// and an I2C ADC. The fake implementation simulates a dimmer output stage
// so the engine can be tested without hardware.
package hal

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by the real backend on platforms without Linux
// GPIO support.
var ErrUnsupported = errors.New("hal: not supported on this platform (requires Linux)")

// Quantity selects which analog input of a channel to sample.
type Quantity uint8

const (
	Voltage Quantity = iota
	Current
	Temperature
)

func (q Quantity) String() string {
	switch q {
	case Voltage:
		return "voltage"
	case Current:
		return "current"
	case Temperature:
		return "temperature"
	}
	return fmt.Sprintf("quantity(%d)", uint8(q))
}

// ParseQuantity is the inverse of Quantity.String.
func ParseQuantity(s string) (Quantity, error) {
	for _, q := range []Quantity{Voltage, Current, Temperature} {
		if q.String() == s {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown analog quantity %q", s)
}

// Pin is a logical digital output index into Layout.Pins.
type Pin int

// ChannelPins are the digital lines belonging to one output channel.
type ChannelPins struct {
	DriverEnable Pin
	SupplyEnable Pin
	PWMFeedback  Pin
}

// PinMapping places a logical pin on a hardware port. Check marks pins
// whose data and status registers are compared during port validation.
type PinMapping struct {
	Port  int
	Bit   uint8
	Check bool
}

// Layout describes how channels map onto pins and pins onto ports.
type Layout struct {
	Channels []ChannelPins
	Pins     []PinMapping
	Ports    int
}

// DefaultLayout assigns three consecutive pins per channel (driver enable,
// supply enable, PWM feedback) and packs them eight to a port. Enable pins
// are checked; feedback inputs are not.
func DefaultLayout(channels int) Layout {
	l := Layout{Channels: make([]ChannelPins, channels)}
	for ch := 0; ch < channels; ch++ {
		base := Pin(3 * ch)
		l.Channels[ch] = ChannelPins{DriverEnable: base, SupplyEnable: base + 1, PWMFeedback: base + 2}
		l.Pins = append(l.Pins,
			PinMapping{Port: int(base) / 8, Bit: uint8(base % 8), Check: true},
			PinMapping{Port: int(base+1) / 8, Bit: uint8((base + 1) % 8), Check: true},
			PinMapping{Port: int(base+2) / 8, Bit: uint8((base + 2) % 8)},
		)
	}
	l.Ports = (len(l.Pins) + 7) / 8
	return l
}

// Validate checks that every channel pin is mapped and every port index is
// in range.
func (l Layout) Validate() error {
	for i, m := range l.Pins {
		if m.Port < 0 || m.Port >= l.Ports {
			return fmt.Errorf("pin %d: port %d out of range", i, m.Port)
		}
		if m.Bit > 7 {
			return fmt.Errorf("pin %d: bit %d out of range", i, m.Bit)
		}
	}
	for ch, p := range l.Channels {
		for _, pin := range []Pin{p.DriverEnable, p.SupplyEnable, p.PWMFeedback} {
			if pin < 0 || int(pin) >= len(l.Pins) {
				return fmt.Errorf("channel %d: pin %d not mapped", ch, pin)
			}
		}
	}
	return nil
}

// Hardware is register-level access to the output stage.
type Hardware interface {
	// ReadAnalog returns the raw ADC count of quantity q on channel ch.
	ReadAnalog(ch int, q Quantity) (uint16, error)

	// ReadCompare and WriteCompare access the PWM duty register.
	ReadCompare(ch int) (uint16, error)
	WriteCompare(ch int, v uint16) error

	// ReadPeriod returns the PWM period; compare values lie in [0, period].
	ReadPeriod(ch int) (uint16, error)

	StartPWM(ch int) error
	StopPWM(ch int) error

	SetDigitalOutput(pin Pin, level bool) error
	ReadDigitalOutput(pin Pin) (bool, error)

	// ReadPortData returns the output data register of a port and
	// ReadPortStatus the sensed pin levels.
	ReadPortData(port int) (uint8, error)
	ReadPortStatus(port int) (uint8, error)

	// Close releases hardware resources.
	Close() error
}
