//go:build !linux

package hal

import "periph.io/x/conn/v3/physic"

// AnalogInput places one channel quantity on an ADS1115 input.
type AnalogInput struct {
	Channel  int
	Quantity Quantity
	Address  uint16
	Input    int
}

// LinuxConfig describes the wiring of the real output stage.
type LinuxConfig struct {
	Chip         string
	Lines        []int
	PWMPins      []string
	PWMFrequency physic.Frequency
	Period       uint16
	I2CBus       string
	Analog       []AnalogInput
}

// Linux is not available on non-Linux platforms.
type Linux struct{}

// NewLinux returns ErrUnsupported on non-Linux platforms.
func NewLinux(layout Layout, cfg LinuxConfig) (*Linux, error) {
	return nil, ErrUnsupported
}

func (l *Linux) ReadAnalog(ch int, q Quantity) (uint16, error) { return 0, ErrUnsupported }
func (l *Linux) ReadCompare(ch int) (uint16, error)            { return 0, ErrUnsupported }
func (l *Linux) WriteCompare(ch int, v uint16) error           { return ErrUnsupported }
func (l *Linux) ReadPeriod(ch int) (uint16, error)             { return 0, ErrUnsupported }
func (l *Linux) StartPWM(ch int) error                         { return ErrUnsupported }
func (l *Linux) StopPWM(ch int) error                          { return ErrUnsupported }
func (l *Linux) SetDigitalOutput(pin Pin, level bool) error    { return ErrUnsupported }
func (l *Linux) ReadDigitalOutput(pin Pin) (bool, error)       { return false, ErrUnsupported }
func (l *Linux) ReadPortData(port int) (uint8, error)          { return 0, ErrUnsupported }
func (l *Linux) ReadPortStatus(port int) (uint8, error)        { return 0, ErrUnsupported }

// Close is a no-op on non-Linux platforms.
func (l *Linux) Close() error { return nil }
