package regulation

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/hal"
	"github.com/sweeney/dimmer-regulator/internal/measure"
)

// Config wires an Engine to its collaborators.
type Config struct {
	Hardware hal.Hardware
	Layout   hal.Layout
	Monitor  *fault.Monitor
	Faults   fault.Raiser

	// Store persists calibration and user settings. Optional.
	Store Store

	// Tolerance is the controller dead band in counts. Zero selects
	// DefaultTolerance.
	Tolerance uint16

	// Smoothing averages candidate compare values before writing them.
	Smoothing bool

	// MailboxSize bounds queued requests. Zero selects DefaultMailboxSize.
	MailboxSize int
}

type channel struct {
	state        State
	requested    State
	next         State
	stateReached bool

	requestedCount         uint16
	previousRequestedCount uint16
	measuredCount          uint16
	reached                bool
	cannotReach            bool

	initialized bool
	calibration Calibration
	recalibrate bool
	sweep       sweep

	percent uint8
	on      bool

	pwmRunning  bool
	compare     uint16 // candidate compare value
	lastWritten uint16
	history     measure.Averager

	voltage     measure.Averager
	current     measure.Averager
	temperature measure.Averager
	samples     int
	analogErr   bool
}

// Engine owns every channel. See the package documentation for the
// threading rules.
type Engine struct {
	hw        hal.Hardware
	layout    hal.Layout
	mapper    *measure.Mapper
	monitor   *fault.Monitor
	faults    fault.Raiser
	store     Store
	tolerance uint16
	smoothing bool

	requests chan request
	channels [NumChannels]channel
	enabled  [NumChannels]atomic.Bool

	nightMode bool
	reduced   bool
	dirty     bool

	mu   sync.RWMutex
	snap Snapshot
}

// New creates an Engine with every channel OFF. Persisted settings are
// loaded from cfg.Store: calibration is applied and channels that were on
// are requested ACTIVE again.
func New(cfg Config) (*Engine, error) {
	if cfg.Hardware == nil || cfg.Monitor == nil || cfg.Faults == nil {
		return nil, fmt.Errorf("regulation: hardware, monitor and faults are required")
	}
	if len(cfg.Layout.Channels) != NumChannels {
		return nil, fmt.Errorf("regulation: layout has %d channels, want %d", len(cfg.Layout.Channels), NumChannels)
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("regulation: %w", err)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}

	e := &Engine{
		hw:        cfg.Hardware,
		layout:    cfg.Layout,
		mapper:    measure.NewMapper(NumChannels),
		monitor:   cfg.Monitor,
		faults:    cfg.Faults,
		store:     cfg.Store,
		tolerance: cfg.Tolerance,
		smoothing: cfg.Smoothing,
		requests:  make(chan request, cfg.MailboxSize),
	}
	for ch := range e.channels {
		e.channels[ch].percent = measure.PercentHigh
	}

	if e.store != nil {
		s, err := e.store.Load()
		if err != nil {
			return nil, fmt.Errorf("regulation: load settings: %w", err)
		}
		e.restore(s)
	}
	e.publish()
	return e, nil
}

func (e *Engine) restore(s Settings) {
	for ch, cs := range s.Channels {
		c := &e.channels[ch]
		c.calibration = cs.Calibration
		c.initialized = cs.Initialized && cs.Calibration.Valid()
		if c.initialized {
			e.applyCalibration(ch)
		}
		if cs.Percent != 0 {
			c.percent = measure.Clamp(cs.Percent, measure.PercentLow, measure.PercentHigh)
		}
		c.on = cs.On
		if c.on {
			c.requested = Active
		}
	}
}

// Settings returns the values that would be persisted.
func (e *Engine) settings() Settings {
	var s Settings
	for ch := range e.channels {
		c := &e.channels[ch]
		s.Channels[ch] = ChannelSettings{
			Initialized: c.initialized,
			Calibration: c.calibration,
			Percent:     c.percent,
			On:          c.on,
		}
	}
	return s
}

// FlushSettings saves settings if they changed since the last save.
// Call it from the tick goroutine, typically once a second.
func (e *Engine) FlushSettings() error {
	if !e.dirty || e.store == nil {
		return nil
	}
	if err := e.store.Save(e.settings()); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	e.dirty = false
	return nil
}

func (e *Engine) applyCalibration(ch int) {
	cal := e.channels[ch].calibration
	if !cal.Valid() {
		return
	}
	lower := measure.CountsToMillivolts(cal.MinVoltageCount)
	upper := measure.CountsToMillivolts(cal.MaxVoltageCount)
	if err := e.mapper.SetLimits(ch, lower, upper); err != nil {
		log.Printf("regulation: channel %d calibration limits: %v", ch, err)
	}
}

// TickMeasurement applies queued requests, samples every analog input and
// runs one state machine step per channel. Call it every 2 ms.
func (e *Engine) TickMeasurement() {
	e.drain()
	for ch := range e.channels {
		e.sample(ch)
		e.step(ch)
	}
	e.publish()
}

func (e *Engine) sample(ch int) {
	c := &e.channels[ch]
	failed := false
	for _, in := range []struct {
		q   hal.Quantity
		avg *measure.Averager
	}{
		{hal.Voltage, &c.voltage},
		{hal.Current, &c.current},
		{hal.Temperature, &c.temperature},
	} {
		raw, err := e.hw.ReadAnalog(ch, in.q)
		if err != nil {
			if !c.analogErr {
				log.Printf("regulation: channel %d read %v: %v", ch, in.q, err)
			}
			failed = true
			continue
		}
		in.avg.Add(raw)
	}
	if c.analogErr && !failed {
		log.Printf("regulation: channel %d analog inputs recovered", ch)
	}
	c.analogErr = failed
	if !failed && c.samples < measure.AverageLen {
		c.samples++
	}
}

// measuredVoltage is the output voltage count: the sense input reads the
// complement against the supply.
func (e *Engine) measuredVoltage(ch int) uint16 {
	return measure.Complement(e.mapper.SystemVoltageCount(), e.channels[ch].voltage.Value())
}

// TickFaultChecks runs the threshold checks and port validation. Call it
// every 51 ms.
func (e *Engine) TickFaultChecks() {
	known := e.mapper.SystemVoltage() != 0
	for ch := range e.channels {
		c := &e.channels[ch]
		if c.samples < measure.AverageLen {
			continue
		}
		cur := c.current.Value()
		e.monitor.CheckCurrent(ch, cur)
		e.monitor.CheckTemperature(ch, c.temperature.Value())
		if !known {
			continue
		}
		switch {
		case !e.enabled[ch].Load() && !c.pwmRunning:
			e.monitor.CheckOutput(ch, false, e.measuredVoltage(ch), cur)
		case c.state == Active && !c.sweep.running():
			e.monitor.CheckOutput(ch, true, e.measuredVoltage(ch), cur)
		}
	}
	e.monitor.ValidatePorts()
}

// State returns the current state of ch.
func (e *Engine) State(ch int) (State, error) {
	if ch < 0 || ch >= NumChannels {
		return Off, ErrInvalidChannel
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.Channels[ch].State, nil
}

// HardwareEnabled reports whether the driver and supply of ch are enabled.
func (e *Engine) HardwareEnabled(ch int) bool {
	if ch < 0 || ch >= NumChannels {
		return false
	}
	return e.enabled[ch].Load()
}

// AnyActive reports whether any channel is in use.
func (e *Engine) AnyActive() bool {
	return e.Snapshot().AnyActive()
}

// Snapshot returns the state published by the last tick.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) publish() {
	var s Snapshot
	s.SystemVoltage = e.mapper.SystemVoltage()
	s.NightMode = e.nightMode
	s.Reduced = e.reduced
	for ch := range e.channels {
		c := &e.channels[ch]
		s.Channels[ch] = ChannelSnapshot{
			State:           c.state,
			Requested:       c.requested,
			Percent:         c.percent,
			On:              c.on,
			RequestedCount:  c.requestedCount,
			MeasuredCount:   c.measuredCount,
			Compare:         c.lastWritten,
			Reached:         c.reached,
			CannotReach:     c.cannotReach,
			HardwareEnabled: e.enabled[ch].Load(),
			Initialized:     c.initialized,
			Calibrating:     c.sweep.running() || (c.recalibrate && c.requested == Active),
			Calibration:     c.calibration,
			RawVoltageCount: c.voltage.Value(),
			CurrentCount:    c.current.Value(),
			Millivolts:      measure.CountsToMillivolts(e.measuredVoltage(ch)),
			Milliamps:       measure.CountsToMilliamps(c.current.Value()),
			Temperature:     measure.CountsToTemperature(c.temperature.Value()),
		}
	}
	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()
}
