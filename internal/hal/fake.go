package hal

import (
	"fmt"
	"sync"

	"github.com/sweeney/dimmer-regulator/internal/measure"
)

// DefaultTemperatureCount is the NTC count the fake reports at room
// temperature (20.0 C).
const DefaultTemperatureCount = 630

type fakeChannel struct {
	running     bool
	compare     uint16
	period      uint16
	writes      int
	load        uint32 // current per output count, in thousandths
	tempCount   uint16
	stuck       bool
	stuckLevel  bool
	analogError error
}

// Fake simulates a dimmer output stage. The output voltage count is
// proportional to compare/period of the supply count while PWM runs and
// both enables are high; the voltage sense input reads the complement.
type Fake struct {
	mu          sync.Mutex
	layout      Layout
	supplyCount uint16
	channels    []fakeChannel
	levels      []bool
	portFault   []uint8

	// Err, if set, is returned by every call.
	Err error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFake returns a Fake for the given layout with every channel using
// period and a resistive load drawing 0.2 current counts per voltage count.
func NewFake(layout Layout, period uint16) *Fake {
	f := &Fake{
		layout:      layout,
		supplyCount: measure.MillivoltsToCounts(measure.DefaultUpperMillivolts),
		channels:    make([]fakeChannel, len(layout.Channels)),
		levels:      make([]bool, len(layout.Pins)),
		portFault:   make([]uint8, layout.Ports),
	}
	for i := range f.channels {
		f.channels[i] = fakeChannel{period: period, load: 200, tempCount: DefaultTemperatureCount}
	}
	return f
}

// SetSupplyCount sets the supply voltage as an ADC count.
func (f *Fake) SetSupplyCount(c uint16) {
	f.mu.Lock()
	f.supplyCount = c
	f.mu.Unlock()
}

// SetLoad sets the current drawn per output count, in thousandths.
// Zero simulates a missing load.
func (f *Fake) SetLoad(ch int, perMille uint32) {
	f.mu.Lock()
	f.channels[ch].load = perMille
	f.mu.Unlock()
}

// SetTemperatureCount sets the raw NTC count of a channel.
func (f *Fake) SetTemperatureCount(ch int, c uint16) {
	f.mu.Lock()
	f.channels[ch].tempCount = c
	f.mu.Unlock()
}

// StickFeedback forces the PWM feedback pin of ch to level.
func (f *Fake) StickFeedback(ch int, level bool) {
	f.mu.Lock()
	f.channels[ch].stuck = true
	f.channels[ch].stuckLevel = level
	f.mu.Unlock()
}

// ReleaseFeedback undoes StickFeedback.
func (f *Fake) ReleaseFeedback(ch int) {
	f.mu.Lock()
	f.channels[ch].stuck = false
	f.mu.Unlock()
}

// SetPortFault flips the given status bits of a port relative to its data.
func (f *Fake) SetPortFault(port int, mask uint8) {
	f.mu.Lock()
	f.portFault[port] = mask
	f.mu.Unlock()
}

// SetAnalogError makes ReadAnalog fail for ch until cleared with nil.
func (f *Fake) SetAnalogError(ch int, err error) {
	f.mu.Lock()
	f.channels[ch].analogError = err
	f.mu.Unlock()
}

// Compare returns the last written compare value of ch.
func (f *Fake) Compare(ch int) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[ch].compare
}

// CompareWrites returns how many times WriteCompare was called for ch.
func (f *Fake) CompareWrites(ch int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[ch].writes
}

// Running reports whether PWM is started on ch.
func (f *Fake) Running(ch int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[ch].running
}

// Level returns the driven level of a pin.
func (f *Fake) Level(pin Pin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levels[pin]
}

// outputCount is the simulated output voltage count. Caller holds f.mu.
func (f *Fake) outputCount(ch int) uint32 {
	c := f.channels[ch]
	pins := f.layout.Channels[ch]
	if !c.running || c.period == 0 || !f.levels[pins.DriverEnable] || !f.levels[pins.SupplyEnable] {
		return 0
	}
	return uint32(f.supplyCount) * uint32(c.compare) / uint32(c.period)
}

func (f *Fake) checkChannel(ch int) error {
	if f.Err != nil {
		return f.Err
	}
	if ch < 0 || ch >= len(f.channels) {
		return fmt.Errorf("channel %d out of range", ch)
	}
	return nil
}

func (f *Fake) checkPin(pin Pin) error {
	if f.Err != nil {
		return f.Err
	}
	if pin < 0 || int(pin) >= len(f.levels) {
		return fmt.Errorf("pin %d out of range", pin)
	}
	return nil
}

// ReadAnalog returns the simulated raw count of q on ch.
func (f *Fake) ReadAnalog(ch int, q Quantity) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return 0, err
	}
	if err := f.channels[ch].analogError; err != nil {
		return 0, err
	}
	out := f.outputCount(ch)
	switch q {
	case Voltage:
		return uint16(measure.Clamp(uint32(f.supplyCount)-out, 0, measure.ADCMax)), nil
	case Current:
		return uint16(measure.Clamp(out*f.channels[ch].load/1000, 0, measure.ADCMax)), nil
	case Temperature:
		return f.channels[ch].tempCount, nil
	}
	return 0, fmt.Errorf("unknown quantity %v", q)
}

// ReadCompare returns the compare register of ch.
func (f *Fake) ReadCompare(ch int) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return 0, err
	}
	return f.channels[ch].compare, nil
}

// WriteCompare sets the compare register of ch.
func (f *Fake) WriteCompare(ch int, v uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	if v > f.channels[ch].period {
		return fmt.Errorf("compare %d above period %d", v, f.channels[ch].period)
	}
	f.channels[ch].compare = v
	f.channels[ch].writes++
	return nil
}

// ReadPeriod returns the PWM period of ch.
func (f *Fake) ReadPeriod(ch int) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return 0, err
	}
	return f.channels[ch].period, nil
}

// StartPWM starts the PWM generator of ch.
func (f *Fake) StartPWM(ch int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.channels[ch].running = true
	return nil
}

// StopPWM stops the PWM generator of ch and clears its compare register.
func (f *Fake) StopPWM(ch int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkChannel(ch); err != nil {
		return err
	}
	f.channels[ch].running = false
	f.channels[ch].compare = 0
	return nil
}

// SetDigitalOutput drives a pin.
func (f *Fake) SetDigitalOutput(pin Pin, level bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPin(pin); err != nil {
		return err
	}
	f.levels[pin] = level
	return nil
}

// ReadDigitalOutput returns the level of a pin. PWM feedback pins follow
// the generator: high while running with a non-zero compare.
func (f *Fake) ReadDigitalOutput(pin Pin) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkPin(pin); err != nil {
		return false, err
	}
	for ch, p := range f.layout.Channels {
		if p.PWMFeedback != pin {
			continue
		}
		c := f.channels[ch]
		if c.stuck {
			return c.stuckLevel, nil
		}
		return c.running && c.compare > 0, nil
	}
	return f.levels[pin], nil
}

// ReadPortData assembles a port's data register from the driven levels.
func (f *Fake) ReadPortData(port int) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.portData(port)
}

// ReadPortStatus returns the port's data register with injected faults.
func (f *Fake) ReadPortStatus(port int) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.portData(port)
	if err != nil {
		return 0, err
	}
	return data ^ f.portFault[port], nil
}

func (f *Fake) portData(port int) (uint8, error) {
	if f.Err != nil {
		return 0, f.Err
	}
	if port < 0 || port >= len(f.portFault) {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	var data uint8
	for i, m := range f.layout.Pins {
		if m.Port == port && f.levels[i] {
			data |= 1 << m.Bit
		}
	}
	return data, nil
}

// Close marks the fake as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
