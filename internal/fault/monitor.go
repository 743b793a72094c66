package fault

import (
	"log"

	"github.com/sweeney/dimmer-regulator/internal/hal"
	"github.com/sweeney/dimmer-regulator/internal/measure"
)

// PWMTestRetries bounds how many feedback reads the PWM self-test makes
// per edge.
const PWMTestRetries = 10

// Default thresholds.
const (
	DefaultOverCurrentMilliamps = 600
	DefaultMaxTemperature       = 600 // tenths of a degree Celsius
	DefaultLeakCount            = 50
	DefaultLoadCheckCount       = 100
)

// Limits are the thresholds used by the periodic checks.
type Limits struct {
	OverCurrentMilliamps uint32
	MaxTemperature       int16  // tenths of a degree Celsius
	LeakCount            uint16 // output voltage count tolerated while disabled
	LoadCheckCount       uint16 // output voltage count above which current must flow
}

// DefaultLimits returns the built-in thresholds.
func DefaultLimits() Limits {
	return Limits{
		OverCurrentMilliamps: DefaultOverCurrentMilliamps,
		MaxTemperature:       DefaultMaxTemperature,
		LeakCount:            DefaultLeakCount,
		LoadCheckCount:       DefaultLoadCheckCount,
	}
}

// Monitor runs self-tests and threshold checks against the hardware and
// raises faults. A channel's PWM fault is raised once per failure streak.
type Monitor struct {
	hw         hal.Hardware
	layout     hal.Layout
	raiser     Raiser
	limits     Limits
	masks      PortMasks
	portsValid bool
	pwmFaulted []bool
}

// NewMonitor builds the port masks for layout. Port validation is disabled
// when the masks fail their checksum.
func NewMonitor(hw hal.Hardware, layout hal.Layout, raiser Raiser, limits Limits) *Monitor {
	m := &Monitor{
		hw:         hw,
		layout:     layout,
		raiser:     raiser,
		limits:     limits,
		masks:      BuildPortMasks(layout),
		pwmFaulted: make([]bool, len(layout.Channels)),
	}
	m.portsValid = m.masks.Valid()
	if !m.portsValid {
		log.Printf("fault: port masks %v fail checksum %d, port validation disabled", m.masks, m.masks.Checksum())
	}
	return m
}

// Limits returns the configured thresholds.
func (m *Monitor) Limits() Limits { return m.limits }

// PortValidation reports whether port validation is active.
func (m *Monitor) PortValidation() bool { return m.portsValid }

// PWMSelfTest drives ch to full duty and expects its feedback high, then
// to zero duty and expects it low. It leaves the compare register at 0.
func (m *Monitor) PWMSelfTest(ch int) bool {
	ok := m.pwmEdges(ch)
	if ok {
		if m.pwmFaulted[ch] {
			log.Printf("fault: channel %d pwm self-test recovered", ch)
		}
		m.pwmFaulted[ch] = false
		return true
	}
	if !m.pwmFaulted[ch] {
		log.Printf("fault: channel %d pwm self-test failed", ch)
		m.raiser.Raise(PWM(ch))
	}
	m.pwmFaulted[ch] = true
	return false
}

func (m *Monitor) pwmEdges(ch int) bool {
	period, err := m.hw.ReadPeriod(ch)
	if err != nil {
		log.Printf("fault: channel %d read period: %v", ch, err)
		return false
	}
	fb := m.layout.Channels[ch].PWMFeedback
	for _, step := range []struct {
		compare uint16
		want    bool
	}{{period, true}, {0, false}} {
		if err := m.hw.WriteCompare(ch, step.compare); err != nil {
			log.Printf("fault: channel %d write compare: %v", ch, err)
			return false
		}
		if !m.waitLevel(fb, step.want) {
			return false
		}
	}
	return true
}

func (m *Monitor) waitLevel(pin hal.Pin, want bool) bool {
	for i := 0; i < PWMTestRetries; i++ {
		level, err := m.hw.ReadDigitalOutput(pin)
		if err == nil && level == want {
			return true
		}
	}
	return false
}

// PWMFaulted reports whether the last self-test of ch failed.
func (m *Monitor) PWMFaulted(ch int) bool { return m.pwmFaulted[ch] }

// ValidatePorts compares the data and status registers of every monitored
// port and returns the pins that disagree. Any mismatch raises PinFault.
func (m *Monitor) ValidatePorts() []hal.Pin {
	if !m.portsValid {
		return nil
	}
	var faulty []hal.Pin
	for port, mask := range m.masks {
		if mask == 0 {
			continue
		}
		data, err := m.hw.ReadPortData(port)
		if err != nil {
			log.Printf("fault: read port %d data: %v", port, err)
			continue
		}
		status, err := m.hw.ReadPortStatus(port)
		if err != nil {
			log.Printf("fault: read port %d status: %v", port, err)
			continue
		}
		if bits := (data & mask) ^ (status & mask); bits != 0 {
			faulty = append(faulty, pinsFor(m.layout, port, bits)...)
		}
	}
	if len(faulty) > 0 {
		m.raiser.Raise(PinFault)
	}
	return faulty
}

// CheckCurrent raises OverCurrent when the current count of ch exceeds the
// limit.
func (m *Monitor) CheckCurrent(ch int, count uint16) bool {
	if measure.CountsToMilliamps(count) <= m.limits.OverCurrentMilliamps {
		return true
	}
	m.raiser.Raise(OverCurrent(ch))
	return false
}

// CheckTemperature raises OverTemperature when the NTC of ch reads above
// the limit.
func (m *Monitor) CheckTemperature(ch int, count uint16) bool {
	if measure.CountsToTemperature(count) <= m.limits.MaxTemperature {
		return true
	}
	m.raiser.Raise(OverTemperature(ch))
	return false
}

// CheckOutput raises OutputVoltage when a disabled channel still shows
// output voltage, and LoadMissing when an enabled channel has voltage but
// no current.
func (m *Monitor) CheckOutput(ch int, enabled bool, voltage, current uint16) bool {
	if !enabled {
		if voltage > m.limits.LeakCount {
			m.raiser.Raise(OutputVoltage(ch))
			return false
		}
		return true
	}
	if voltage > m.limits.LoadCheckCount && current == 0 {
		m.raiser.Raise(LoadMissing(ch))
		return false
	}
	return true
}
