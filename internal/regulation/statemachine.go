package regulation

import "log"

// step runs the action of the current state, then moves to the next state
// once the action has completed and a different state is requested.
func (e *Engine) step(ch int) {
	c := &e.channels[ch]

	switch c.state {
	case Off:
		c.stateReached = e.off(ch)
	case Entry:
		c.stateReached = e.entry(ch)
	case Active:
		c.stateReached = e.active(ch)
	case Exit:
		c.stateReached = e.exit(ch)
	}

	if c.requestedCount != c.previousRequestedCount {
		c.reached = false
		c.cannotReach = false
		c.previousRequestedCount = c.requestedCount
	}

	c.next = c.nextState()

	restart := c.recalibrate && c.state == Active
	if (c.requested != c.state || restart) && c.stateReached && c.next != c.state {
		log.Printf("regulation: channel %d %s -> %s", ch, c.state, c.next)
		c.state = c.next
		c.stateReached = false
		if c.state == Active && c.recalibrate {
			c.recalibrate = false
			c.sweep.start()
			log.Printf("regulation: channel %d calibration sweep started", ch)
		}
	}
}

func (c *channel) nextState() State {
	if c.requested == Off {
		switch c.state {
		case Entry, Active:
			return Exit
		case Exit:
			if c.reached || c.cannotReach {
				return Off
			}
			return Exit
		}
		return Off
	}
	switch c.state {
	case Off:
		return Entry
	case Entry:
		return Active
	case Active:
		if c.recalibrate {
			return Exit
		}
		return Active
	}
	return Entry
}

// off disables the output stage if anything is still running.
func (e *Engine) off(ch int) bool {
	c := &e.channels[ch]
	if !e.enabled[ch].Load() && !c.pwmRunning {
		return true
	}
	pins := e.layout.Channels[ch]
	if err := e.hw.SetDigitalOutput(pins.DriverEnable, false); err != nil {
		log.Printf("regulation: channel %d disable driver: %v", ch, err)
	}
	if err := e.hw.SetDigitalOutput(pins.SupplyEnable, false); err != nil {
		log.Printf("regulation: channel %d disable supply: %v", ch, err)
	}
	if err := e.hw.StopPWM(ch); err != nil {
		log.Printf("regulation: channel %d stop pwm: %v", ch, err)
	}
	e.enabled[ch].Store(false)
	c.pwmRunning = false
	c.compare = 0
	c.lastWritten = 0
	c.requestedCount = 0
	c.reached = false
	c.cannotReach = false
	c.sweep.stop()
	return true
}

// entry starts PWM, self-tests it and enables the output stage. It does not
// complete until the supply voltage is known and the self-test passes.
func (e *Engine) entry(ch int) bool {
	c := &e.channels[ch]
	if c.requested == Off {
		return true
	}
	if e.enabled[ch].Load() {
		c.requestedCount = 0
		return true
	}
	if e.mapper.SystemVoltage() == 0 {
		return false
	}
	if !c.pwmRunning {
		if err := e.hw.StartPWM(ch); err != nil {
			log.Printf("regulation: channel %d start pwm: %v", ch, err)
			return false
		}
		c.pwmRunning = true
	}
	if !e.monitor.PWMSelfTest(ch) {
		return false
	}
	if err := e.hw.WriteCompare(ch, SafeCompare); err != nil {
		log.Printf("regulation: channel %d write compare: %v", ch, err)
		return false
	}
	pins := e.layout.Channels[ch]
	if err := e.hw.SetDigitalOutput(pins.DriverEnable, true); err != nil {
		log.Printf("regulation: channel %d enable driver: %v", ch, err)
		return false
	}
	if err := e.hw.SetDigitalOutput(pins.SupplyEnable, true); err != nil {
		log.Printf("regulation: channel %d enable supply: %v", ch, err)
		return false
	}
	c.compare = SafeCompare
	c.lastWritten = SafeCompare
	c.history.Reset()
	c.history.Add(SafeCompare)
	c.history.Add(SafeCompare)
	c.requestedCount = 0
	c.reached = false
	c.cannotReach = false
	e.enabled[ch].Store(true)
	return true
}

// active keeps the target and measured counts fresh; the controller does
// the converging.
func (e *Engine) active(ch int) bool {
	c := &e.channels[ch]
	c.measuredCount = e.measuredVoltage(ch)
	if c.sweep.running() {
		return e.sweepStep(ch)
	}
	c.requestedCount = e.mapper.PercentToCounts(ch, e.targetPercent(ch))
	return true
}

// exit dims to zero and completes once nothing is measured or the
// controller has bottomed out.
func (e *Engine) exit(ch int) bool {
	c := &e.channels[ch]
	c.requestedCount = 0
	c.measuredCount = e.measuredVoltage(ch)
	if !e.enabled[ch].Load() {
		// never enabled, nothing to dim
		c.reached = true
		return true
	}
	return c.measuredCount == 0 || c.cannotReach
}
