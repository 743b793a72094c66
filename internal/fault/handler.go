package fault

import "log"

// Handler routes raised faults: communication timeouts notify the
// caller, every other fault arms the retry timer. All faults are queued
// on the debouncer.
type Handler struct {
	deb           *Debouncer
	retry         Retry
	onCommTimeout func()
}

// NewHandler returns a Handler reporting into sink. onCommTimeout may be nil.
func NewHandler(sink Sink, onCommTimeout func()) *Handler {
	return &Handler{deb: NewDebouncer(sink), onCommTimeout: onCommTimeout}
}

// Raise handles one fault occurrence.
func (h *Handler) Raise(c Code) {
	if c == CommunicationTimeout {
		if h.onCommTimeout != nil {
			h.onCommTimeout()
		}
	} else {
		before := h.retry.Timeout()
		h.retry.Arm(c)
		if before == 0 && h.retry.Timeout() > 0 {
			log.Printf("fault: %s, reducing output for %ds", c, h.retry.Timeout())
		}
	}
	h.deb.Raise(c)
}

// TickDebounce advances the debouncer; call every 50 ms.
func (h *Handler) TickDebounce() { h.deb.Tick() }

// TickSecond advances the retry timer and re-queues its fault while it runs.
func (h *Handler) TickSecond() {
	if c, ok := h.retry.Tick(); ok {
		h.deb.Raise(c)
	}
}

// RetryTimeout returns the seconds of corrective action left; zero means
// normal operation.
func (h *Handler) RetryTimeout() uint32 { return h.retry.Timeout() }

// RetryCount returns the backoff exponent.
func (h *Handler) RetryCount() uint8 { return h.retry.Count() }

// Pending returns the number of faults waiting to be reported.
func (h *Handler) Pending() int { return h.deb.Pending() }
