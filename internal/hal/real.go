//go:build linux

package hal

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/sweeney/dimmer-regulator/internal/measure"
)

// AnalogInput places one channel quantity on an ADS1115 input.
type AnalogInput struct {
	Channel  int
	Quantity Quantity
	Address  uint16
	Input    int
}

// LinuxConfig describes the wiring of the real output stage.
type LinuxConfig struct {
	Chip         string   // gpio character device, e.g. "gpiochip0"
	Lines        []int    // line offset for every logical pin
	PWMPins      []string // periph pin name of each channel's PWM output
	PWMFrequency physic.Frequency
	Period       uint16
	I2CBus       string // empty selects the first bus
	Analog       []AnalogInput
}

type analogKey struct {
	ch int
	q  Quantity
}

// Linux drives enable lines through the GPIO character device, duty cycle
// through periph hardware PWM and samples analog inputs from ADS1115 ADCs.
type Linux struct {
	layout  Layout
	cfg     LinuxConfig
	chip    *gpiocdev.Chip
	lines   []*gpiocdev.Line
	levels  []bool
	pwm     []gpio.PinIO
	compare []uint16
	running []bool
	bus     i2c.BusCloser
	adcs    []*ads1x15.Dev
	inputs  map[analogKey]ads1x15.PinADC
}

// NewLinux opens all hardware described by cfg. Enable pins start low and
// PWM stopped.
func NewLinux(layout Layout, cfg LinuxConfig) (*Linux, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	if len(cfg.Lines) != len(layout.Pins) {
		return nil, fmt.Errorf("%d line offsets for %d pins", len(cfg.Lines), len(layout.Pins))
	}
	if len(cfg.PWMPins) != len(layout.Channels) {
		return nil, fmt.Errorf("%d pwm pins for %d channels", len(cfg.PWMPins), len(layout.Channels))
	}
	if cfg.Period == 0 {
		return nil, fmt.Errorf("pwm period must be non-zero")
	}

	l := &Linux{
		layout:  layout,
		cfg:     cfg,
		lines:   make([]*gpiocdev.Line, len(layout.Pins)),
		levels:  make([]bool, len(layout.Pins)),
		pwm:     make([]gpio.PinIO, len(layout.Channels)),
		compare: make([]uint16, len(layout.Channels)),
		running: make([]bool, len(layout.Channels)),
		inputs:  make(map[analogKey]ads1x15.PinADC),
	}

	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	l.chip = chip

	feedback := make(map[Pin]bool)
	for _, p := range layout.Channels {
		feedback[p.PWMFeedback] = true
	}
	for i, offset := range cfg.Lines {
		var line *gpiocdev.Line
		if feedback[Pin(i)] {
			line, err = chip.RequestLine(offset, gpiocdev.AsInput, gpiocdev.WithPullDown)
		} else {
			line, err = chip.RequestLine(offset, gpiocdev.AsOutput(0))
		}
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("request pin %d (line %d): %w", i, offset, err)
		}
		l.lines[i] = line
	}

	if _, err := host.Init(); err != nil {
		l.Close()
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	for ch, name := range cfg.PWMPins {
		p := gpioreg.ByName(name)
		if p == nil {
			l.Close()
			return nil, fmt.Errorf("channel %d: pwm pin %q not found", ch, name)
		}
		if err := p.Out(gpio.Low); err != nil {
			l.Close()
			return nil, fmt.Errorf("channel %d: drive pwm pin low: %w", ch, err)
		}
		l.pwm[ch] = p
	}

	if len(cfg.Analog) > 0 {
		if err := l.openADC(); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

var adsInputs = [...]ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

func (l *Linux) openADC() error {
	bus, err := i2creg.Open(l.cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("open i2c bus %q: %w", l.cfg.I2CBus, err)
	}
	l.bus = bus

	devs := make(map[uint16]*ads1x15.Dev)
	for _, in := range l.cfg.Analog {
		if in.Input < 0 || in.Input >= len(adsInputs) {
			return fmt.Errorf("channel %d %v: ads input %d out of range", in.Channel, in.Quantity, in.Input)
		}
		dev, ok := devs[in.Address]
		if !ok {
			dev, err = ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: in.Address})
			if err != nil {
				return fmt.Errorf("open ads1115 at %#x: %w", in.Address, err)
			}
			devs[in.Address] = dev
			l.adcs = append(l.adcs, dev)
		}
		pin, err := dev.PinForChannel(adsInputs[in.Input], 4096*physic.MilliVolt, 860*physic.Hertz, ads1x15.BestQuality)
		if err != nil {
			return fmt.Errorf("channel %d %v: %w", in.Channel, in.Quantity, err)
		}
		l.inputs[analogKey{in.Channel, in.Quantity}] = pin
	}
	return nil
}

func (l *Linux) checkChannel(ch int) error {
	if ch < 0 || ch >= len(l.pwm) {
		return fmt.Errorf("channel %d out of range", ch)
	}
	return nil
}

// ReadAnalog samples the ADC input wired to q on ch and scales it to
// [0, measure.ADCMax] over the sense reference.
func (l *Linux) ReadAnalog(ch int, q Quantity) (uint16, error) {
	pin, ok := l.inputs[analogKey{ch, q}]
	if !ok {
		return 0, fmt.Errorf("channel %d: no %v input", ch, q)
	}
	s, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("read channel %d %v: %w", ch, q, err)
	}
	mv := int64(s.V / physic.MilliVolt)
	return uint16(measure.Clamp(mv*measure.ADCMax/measure.VRefMillivolts, 0, measure.ADCMax)), nil
}

// ReadCompare returns the last duty written to ch.
func (l *Linux) ReadCompare(ch int) (uint16, error) {
	if err := l.checkChannel(ch); err != nil {
		return 0, err
	}
	return l.compare[ch], nil
}

// WriteCompare sets the duty of ch to v/period.
func (l *Linux) WriteCompare(ch int, v uint16) error {
	if err := l.checkChannel(ch); err != nil {
		return err
	}
	if v > l.cfg.Period {
		return fmt.Errorf("compare %d above period %d", v, l.cfg.Period)
	}
	l.compare[ch] = v
	if !l.running[ch] {
		return nil
	}
	return l.applyDuty(ch)
}

func (l *Linux) applyDuty(ch int) error {
	duty := gpio.Duty(uint64(l.compare[ch]) * uint64(gpio.DutyMax) / uint64(l.cfg.Period))
	if err := l.pwm[ch].PWM(duty, l.cfg.PWMFrequency); err != nil {
		return fmt.Errorf("channel %d pwm: %w", ch, err)
	}
	return nil
}

// ReadPeriod returns the configured period.
func (l *Linux) ReadPeriod(ch int) (uint16, error) {
	if err := l.checkChannel(ch); err != nil {
		return 0, err
	}
	return l.cfg.Period, nil
}

// StartPWM starts the generator at the current compare value.
func (l *Linux) StartPWM(ch int) error {
	if err := l.checkChannel(ch); err != nil {
		return err
	}
	l.running[ch] = true
	return l.applyDuty(ch)
}

// StopPWM halts the generator and parks the pin low.
func (l *Linux) StopPWM(ch int) error {
	if err := l.checkChannel(ch); err != nil {
		return err
	}
	l.running[ch] = false
	l.compare[ch] = 0
	if err := l.pwm[ch].Halt(); err != nil {
		return fmt.Errorf("channel %d halt pwm: %w", ch, err)
	}
	return l.pwm[ch].Out(gpio.Low)
}

// SetDigitalOutput drives an output line.
func (l *Linux) SetDigitalOutput(pin Pin, level bool) error {
	if pin < 0 || int(pin) >= len(l.lines) {
		return fmt.Errorf("pin %d out of range", pin)
	}
	v := 0
	if level {
		v = 1
	}
	if err := l.lines[pin].SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	l.levels[pin] = level
	return nil
}

// ReadDigitalOutput reads the current level of a line.
func (l *Linux) ReadDigitalOutput(pin Pin) (bool, error) {
	if pin < 0 || int(pin) >= len(l.lines) {
		return false, fmt.Errorf("pin %d out of range", pin)
	}
	v, err := l.lines[pin].Value()
	if err != nil {
		return false, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return v == 1, nil
}

// ReadPortData returns the levels last driven on a port.
func (l *Linux) ReadPortData(port int) (uint8, error) {
	if port < 0 || port >= l.layout.Ports {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	var data uint8
	for i, m := range l.layout.Pins {
		if m.Port == port && l.levels[i] {
			data |= 1 << m.Bit
		}
	}
	return data, nil
}

// ReadPortStatus reads back the levels of every line on a port.
func (l *Linux) ReadPortStatus(port int) (uint8, error) {
	if port < 0 || port >= l.layout.Ports {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	var status uint8
	for i, m := range l.layout.Pins {
		if m.Port != port {
			continue
		}
		v, err := l.lines[i].Value()
		if err != nil {
			return 0, fmt.Errorf("read pin %d: %w", i, err)
		}
		if v == 1 {
			status |= 1 << m.Bit
		}
	}
	return status, nil
}

// Close stops every PWM output, drives enable lines low and releases all
// devices. Lines are reconfigured as pulled-down inputs before release so
// the stage stays off across a reboot.
func (l *Linux) Close() error {
	var errs []error

	for ch, p := range l.pwm {
		if p == nil {
			continue
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt pwm %d: %w", ch, err))
		}
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("park pwm %d: %w", ch, err))
		}
	}
	for _, pin := range l.inputs {
		if err := pin.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt adc input: %w", err))
		}
	}
	for _, dev := range l.adcs {
		if err := dev.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt adc: %w", err))
		}
	}
	if l.bus != nil {
		if err := l.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close i2c bus: %w", err))
		}
	}
	for i, line := range l.lines {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", i, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", i, err))
		}
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
