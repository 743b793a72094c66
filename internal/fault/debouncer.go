package fault

import "log"

// Slots is the number of faults that can be pending at once.
const Slots = 10

type slot struct {
	used    bool
	code    Code
	timeout uint16
	seq     uint64
}

// Debouncer delays fault reports and merges repeats of a pending code.
// Tick is expected every 50 ms. It is not safe for concurrent use.
type Debouncer struct {
	slots   [Slots]slot
	sink    Sink
	seq     uint64
	dropped int
}

// NewDebouncer returns a Debouncer that emits into sink.
func NewDebouncer(sink Sink) *Debouncer {
	return &Debouncer{sink: sink}
}

// Raise queues c for reporting. A code that is already pending is merged.
// When every slot is taken, c replaces the least urgent pending fault if it
// is more urgent, otherwise it is dropped. Raise reports whether c is
// pending afterwards.
func (d *Debouncer) Raise(c Code) bool {
	free := -1
	for i := range d.slots {
		s := &d.slots[i]
		if s.used && s.code == c {
			return true
		}
		if !s.used && free < 0 {
			free = i
		}
	}

	e := c.Lookup()
	if free < 0 {
		victim := d.leastUrgent()
		if d.slots[victim].code.Lookup().Priority <= e.Priority {
			d.dropped++
			log.Printf("fault: all %d slots pending, dropping %s", Slots, c)
			return false
		}
		log.Printf("fault: all %d slots pending, %s replaces %s", Slots, c, d.slots[victim].code)
		free = victim
	}

	d.seq++
	d.slots[free] = slot{used: true, code: c, timeout: e.DebounceTicks, seq: d.seq}
	return true
}

// leastUrgent returns the newest slot with the highest priority number.
func (d *Debouncer) leastUrgent() int {
	victim := 0
	for i := 1; i < Slots; i++ {
		a, b := d.slots[i], d.slots[victim]
		pa, pb := a.code.Lookup().Priority, b.code.Lookup().Priority
		if pa > pb || (pa == pb && a.seq > b.seq) {
			victim = i
		}
	}
	return victim
}

// Tick counts down every pending fault and emits at most one expired
// fault, the most urgent and then the oldest.
func (d *Debouncer) Tick() {
	next := -1
	for i := range d.slots {
		s := &d.slots[i]
		if !s.used {
			continue
		}
		if s.timeout > 0 {
			s.timeout--
		}
		if s.timeout != 0 {
			continue
		}
		if next < 0 {
			next = i
			continue
		}
		n := d.slots[next]
		ps, pn := s.code.Lookup().Priority, n.code.Lookup().Priority
		if ps < pn || (ps == pn && s.seq < n.seq) {
			next = i
		}
	}
	if next < 0 {
		return
	}

	c := d.slots[next].code
	d.slots[next] = slot{}
	e := c.Lookup()
	if err := d.sink.Report(Report{Code: c, ID: e.ID, Name: e.Name, Priority: e.Priority}); err != nil {
		log.Printf("fault: report %s: %v", c, err)
	}
}

// Pending returns the number of faults waiting to be reported.
func (d *Debouncer) Pending() int {
	n := 0
	for _, s := range d.slots {
		if s.used {
			n++
		}
	}
	return n
}

// Dropped returns how many raises were lost to a full slot table.
func (d *Debouncer) Dropped() int { return d.dropped }
