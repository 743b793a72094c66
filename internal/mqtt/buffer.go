package mqtt

// message is a serialized MQTT message held for replay after reconnection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when
// full. Not safe for concurrent use.
type ring[T any] struct {
	buf     []T
	head    int // next write position
	count   int
	dropped int // entries overwritten since the last drain
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

// push appends v. It reports false when v displaced the oldest entry.
func (r *ring[T]) push(v T) bool {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count == len(r.buf) {
		r.dropped++
		return false
	}
	r.count++
	return true
}

// drain returns the entries oldest first and empties the ring.
func (r *ring[T]) drain() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ring[T]) len() int { return r.count }
