package regulation

import "log"

// TickController runs one control cycle for every enabled channel in
// ACTIVE or EXIT. Call it every 7 ms.
func (e *Engine) TickController() {
	for ch := range e.channels {
		c := &e.channels[ch]
		if c.state != Active && c.state != Exit {
			continue
		}
		if !e.enabled[ch].Load() {
			continue
		}
		e.control(ch)
	}
	e.publish()
}

func (e *Engine) control(ch int) {
	c := &e.channels[ch]
	if c.cannotReach {
		return
	}

	period, err := e.hw.ReadPeriod(ch)
	if err != nil {
		log.Printf("regulation: channel %d read period: %v", ch, err)
		return
	}
	compare := c.compare
	if !e.smoothing {
		if compare, err = e.hw.ReadCompare(ch); err != nil {
			log.Printf("regulation: channel %d read compare: %v", ch, err)
			return
		}
	}

	next, reached, cannotReach := regulate(compare, period, c.requestedCount, c.measuredCount, e.tolerance)
	if reached {
		c.reached = true
	}
	if cannotReach {
		c.cannotReach = true
	}
	c.compare = next

	out := next
	if e.smoothing {
		c.history.Add(next)
		out = c.history.Value()
	}
	if out == c.lastWritten {
		return
	}
	if err := e.hw.WriteCompare(ch, out); err != nil {
		log.Printf("regulation: channel %d write compare: %v", ch, err)
		return
	}
	c.lastWritten = out
}

// regulate moves compare one step toward bringing measured within
// tolerance of requested. Dimming to zero has no upper tolerance. A step
// that would leave [1, period] reports cannotReach instead.
func regulate(compare, period, requested, measured, tolerance uint16) (next uint16, reached, cannotReach bool) {
	lower := int32(requested) - int32(tolerance)
	upper := int32(requested) + int32(tolerance)
	if requested == 0 {
		upper = 0
	}
	m := int32(measured)

	switch {
	case m < lower:
		if compare < period {
			return compare + 1, false, false
		}
		return compare, false, true
	case m > upper:
		if compare > 1 {
			return compare - 1, false, false
		}
		return compare, false, true
	}
	return compare, true, false
}
