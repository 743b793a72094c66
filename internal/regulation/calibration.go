package regulation

import (
	"log"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/measure"
)

// CalibrationStepMillivolts is how far the sweep raises the target after
// each settled step.
const CalibrationStepMillivolts = 250

// saturationSamples is how many settled steps without a voltage rise end
// the upper sweep.
const saturationSamples = 3

var calibrationStep = measure.MillivoltsToCounts(CalibrationStepMillivolts)

type sweepPhase uint8

const (
	sweepIdle sweepPhase = iota
	sweepMin
	sweepMax
	sweepDone
)

// sweep ramps an ACTIVE channel's target upward to find where current
// starts to flow and where the output saturates.
type sweep struct {
	phase       sweepPhase
	saturation  uint8
	lastVoltage uint16
}

func (s *sweep) start()        { *s = sweep{phase: sweepMin} }
func (s *sweep) stop()         { *s = sweep{} }
func (s *sweep) running() bool { return s.phase != sweepIdle }

// sweepStep advances the calibration sweep of ch. It only moves the target
// once the controller has settled on the previous one. It reports true
// when the sweep has ended.
func (e *Engine) sweepStep(ch int) bool {
	c := &e.channels[ch]
	s := &c.sweep

	if c.requested == Off {
		log.Printf("regulation: channel %d calibration aborted", ch)
		s.stop()
		return true
	}
	if s.phase == sweepDone {
		s.stop()
		e.dirty = true
		if err := e.FlushSettings(); err != nil {
			log.Printf("regulation: channel %d %v", ch, err)
		}
		log.Printf("regulation: channel %d calibration done, initialized=%v", ch, c.initialized)
		return true
	}
	if !c.reached && !c.cannotReach {
		return false
	}

	cur := c.current.Value()
	top := c.cannotReach && c.measuredCount < c.requestedCount
	last := int(c.requestedCount)+int(calibrationStep) > measure.ADCMax

	switch s.phase {
	case sweepMin:
		if cur > 0 {
			e.setMinCalibration(ch, cur, c.measuredCount, c.lastWritten)
			s.phase = sweepMax
			s.saturation = saturationSamples
			s.lastVoltage = c.measuredCount
			return false
		}
		if top || last {
			log.Printf("regulation: channel %d calibration found no load", ch)
			e.faults.Raise(fault.LoadMissing(ch))
			s.stop()
			return true
		}
	case sweepMax:
		if !top && c.measuredCount >= s.lastVoltage+calibrationStep/2 {
			if s.saturation < saturationSamples {
				s.saturation++
			}
			s.lastVoltage = c.measuredCount
		} else if s.saturation > 0 {
			s.saturation--
		}
		limit := measure.MilliampsToCounts(e.monitor.Limits().OverCurrentMilliamps)
		if cur >= limit || s.saturation == 0 || last {
			e.setMaxCalibration(ch, cur, c.measuredCount, c.lastWritten)
			s.phase = sweepDone
			return false
		}
	}
	c.requestedCount += calibrationStep
	return false
}
