package measure

// AverageLen is the number of samples held by an Averager.
const AverageLen = 2

// Averager is a moving average over the last AverageLen raw samples.
// The zero value is ready to use and reports 0 until filled.
type Averager struct {
	buf  [AverageLen]int32
	next int
	sum  int32
}

// Add replaces the oldest buffered sample with s.
func (a *Averager) Add(s uint16) {
	a.sum -= a.buf[a.next]
	a.buf[a.next] = int32(s)
	a.sum += int32(s)
	a.next = (a.next + 1) % AverageLen
}

// Value returns the average of the buffered samples, never below zero.
func (a *Averager) Value() uint16 {
	v := a.sum / AverageLen
	if v < 0 {
		return 0
	}
	return uint16(v)
}

// Reset discards all buffered samples.
func (a *Averager) Reset() {
	*a = Averager{}
}

// Complement returns systemCount - shunt, floored at zero. The voltage sense
// point measures the drop across the load, so the output voltage is the
// supply count minus the sensed count.
func Complement(systemCount, shunt uint16) uint16 {
	if shunt >= systemCount {
		return 0
	}
	return systemCount - shunt
}
