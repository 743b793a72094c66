package fault

// RetryCounterBits caps the backoff exponent.
const RetryCounterBits = 16

// Retry is an exponential backoff timer counted in seconds. Each arm while
// idle doubles the next timeout: 1, 3, 7, ... up to 2^16-1.
type Retry struct {
	timeout uint32
	count   uint8
	code    Code
}

// Arm starts the timer for c. A running timer is left alone until the
// counter saturates, after which every arm restarts the longest timeout.
func (r *Retry) Arm(c Code) {
	r.code = c
	switch {
	case r.timeout == 0 && r.count < RetryCounterBits:
		r.count++
		r.timeout = 1<<r.count - 1
	case r.count == RetryCounterBits:
		r.timeout = 1<<RetryCounterBits - 1
	}
}

// Tick counts the timer down by one second. It returns the armed code and
// true while the timer was running.
func (r *Retry) Tick() (Code, bool) {
	if r.timeout == 0 {
		return 0, false
	}
	r.timeout--
	return r.code, true
}

// Timeout returns the remaining seconds.
func (r *Retry) Timeout() uint32 { return r.timeout }

// Count returns how often the timer was armed from idle.
func (r *Retry) Count() uint8 { return r.count }

// Code returns the code that last armed the timer.
func (r *Retry) Code() Code { return r.code }
