package regulation

import (
	"log"

	"github.com/sweeney/dimmer-regulator/internal/measure"
)

type requestKind uint8

const (
	reqState requestKind = iota
	reqSetpoint
	reqMinCalibration
	reqMaxCalibration
	reqCalibrate
	reqRelative
	reqAbsolute
	reqNightMode
	reqReduced
	reqSystemVoltage
)

type request struct {
	kind    requestKind
	ch      int
	state   State
	percent uint8
	delta   int
	flag    bool
	mv      uint32

	current, voltage, compare uint16
}

func (e *Engine) enqueue(r request) error {
	select {
	case e.requests <- r:
		return nil
	default:
		return ErrMailboxFull
	}
}

func validChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return ErrInvalidChannel
	}
	return nil
}

// RequestState asks channel ch to go OFF or ACTIVE.
func (e *Engine) RequestState(ch int, s State) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if s != Off && s != Active {
		return ErrInvalidState
	}
	return e.enqueue(request{kind: reqState, ch: ch, state: s})
}

// RequestSetpoint sets the brightness of ch and switches it on or off.
// percent is clamped to [5, 100].
func (e *Engine) RequestSetpoint(ch int, percent uint8, on bool) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return e.enqueue(request{kind: reqSetpoint, ch: ch, percent: percent, flag: on})
}

// SetMinCalibration records the counts at which ch starts drawing current.
func (e *Engine) SetMinCalibration(ch int, current, voltage, compare uint16) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return e.enqueue(request{kind: reqMinCalibration, ch: ch, current: current, voltage: voltage, compare: compare})
}

// SetMaxCalibration records the counts at the top of the range of ch and
// marks the channel calibrated when the range is usable.
func (e *Engine) SetMaxCalibration(ch int, current, voltage, compare uint16) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return e.enqueue(request{kind: reqMaxCalibration, ch: ch, current: current, voltage: voltage, compare: compare})
}

// RequestCalibration restarts ch through EXIT and ENTRY and runs the
// calibration sweep once it is ACTIVE again.
func (e *Engine) RequestCalibration(ch int) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	return e.enqueue(request{kind: reqCalibrate, ch: ch})
}

// ChangeRelative adds delta percent to every channel requested ACTIVE.
func (e *Engine) ChangeRelative(delta int) error {
	return e.enqueue(request{kind: reqRelative, delta: delta})
}

// ChangeAbsolute sets every channel requested ACTIVE to percent.
func (e *Engine) ChangeAbsolute(percent uint8) error {
	return e.enqueue(request{kind: reqAbsolute, percent: percent})
}

// SetNightMode holds every channel at the lowest brightness while on.
func (e *Engine) SetNightMode(on bool) error {
	return e.enqueue(request{kind: reqNightMode, flag: on})
}

// SetOutputReduced halves every brightness while on. It is the corrective
// action applied while a fault retry timer runs.
func (e *Engine) SetOutputReduced(on bool) error {
	return e.enqueue(request{kind: reqReduced, flag: on})
}

// NotifySystemVoltage reports the supply voltage. Channels cannot pass
// ENTRY until it is non-zero.
func (e *Engine) NotifySystemVoltage(mv uint32) error {
	return e.enqueue(request{kind: reqSystemVoltage, mv: mv})
}

func (e *Engine) drain() {
	for {
		select {
		case r := <-e.requests:
			e.apply(r)
		default:
			return
		}
	}
}

func (e *Engine) apply(r request) {
	switch r.kind {
	case reqState:
		e.setRequested(r.ch, r.state)
	case reqSetpoint:
		c := &e.channels[r.ch]
		c.percent = measure.Clamp(r.percent, measure.PercentLow, measure.PercentHigh)
		e.dirty = true
		if r.flag {
			e.setRequested(r.ch, Active)
		} else {
			e.setRequested(r.ch, Off)
		}
	case reqMinCalibration:
		e.setMinCalibration(r.ch, r.current, r.voltage, r.compare)
	case reqMaxCalibration:
		e.setMaxCalibration(r.ch, r.current, r.voltage, r.compare)
	case reqCalibrate:
		c := &e.channels[r.ch]
		c.recalibrate = true
		c.initialized = false
		e.mapper.ClearLimits(r.ch)
		log.Printf("regulation: channel %d calibration requested", r.ch)
	case reqRelative:
		for ch := range e.channels {
			c := &e.channels[ch]
			if c.requested != Active {
				continue
			}
			p := measure.Clamp(int(c.percent)+r.delta, measure.PercentLow, measure.PercentHigh)
			c.percent = uint8(p)
			e.dirty = true
		}
	case reqAbsolute:
		for ch := range e.channels {
			c := &e.channels[ch]
			if c.requested != Active {
				continue
			}
			c.percent = measure.Clamp(r.percent, measure.PercentLow, measure.PercentHigh)
			e.dirty = true
		}
	case reqNightMode:
		e.nightMode = r.flag
	case reqReduced:
		if r.flag != e.reduced {
			log.Printf("regulation: reduced output %v", r.flag)
		}
		e.reduced = r.flag
	case reqSystemVoltage:
		if e.mapper.SetSystemVoltage(r.mv) {
			log.Printf("regulation: system voltage %d mV", r.mv)
		}
	}
}

func (e *Engine) setRequested(ch int, s State) {
	c := &e.channels[ch]
	on := s == Active
	if c.on != on {
		c.on = on
		e.dirty = true
	}
	if s == Off && c.recalibrate {
		c.recalibrate = false
		log.Printf("regulation: channel %d calibration cancelled", ch)
	}
	c.requested = s
}

// targetPercent applies night mode and output reduction to the user
// brightness of ch.
func (e *Engine) targetPercent(ch int) uint8 {
	p := e.channels[ch].percent
	if e.nightMode {
		p = measure.PercentLow
	}
	if e.reduced {
		p /= 2
	}
	return measure.Clamp(p, measure.PercentLow, measure.PercentHigh)
}

func (e *Engine) setMinCalibration(ch int, current, voltage, compare uint16) {
	c := &e.channels[ch]
	c.calibration.MinCurrentCount = current
	c.calibration.MinVoltageCount = voltage
	c.calibration.MinCompare = compare
	e.dirty = true
	log.Printf("regulation: channel %d min calibration current=%d voltage=%d compare=%d", ch, current, voltage, compare)
}

func (e *Engine) setMaxCalibration(ch int, current, voltage, compare uint16) {
	c := &e.channels[ch]
	c.calibration.MaxCurrentCount = current
	c.calibration.MaxVoltageCount = voltage
	c.calibration.MaxCompare = compare
	log.Printf("regulation: channel %d max calibration current=%d voltage=%d compare=%d", ch, current, voltage, compare)
	if !c.calibration.Valid() {
		log.Printf("regulation: channel %d calibration range empty, keeping defaults", ch)
		return
	}
	c.initialized = true
	e.applyCalibration(ch)
	e.dirty = true
}
