package fault

import "testing"

func TestHandlerArmsRetry(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(sink, nil)

	h.Raise(OverCurrent(2))
	if h.RetryTimeout() != 1 || h.RetryCount() != 1 {
		t.Errorf("retry: timeout %d count %d", h.RetryTimeout(), h.RetryCount())
	}
	if h.Pending() != 1 {
		t.Errorf("pending: got %d, want 1", h.Pending())
	}
}

func TestHandlerCommunicationTimeout(t *testing.T) {
	sink := &recordingSink{}
	called := 0
	h := NewHandler(sink, func() { called++ })

	h.Raise(CommunicationTimeout)
	if called != 1 {
		t.Errorf("callback calls: got %d, want 1", called)
	}
	if h.RetryTimeout() != 0 {
		t.Errorf("communication timeout should not arm retry, timeout %d", h.RetryTimeout())
	}
	for i := 0; i < DefaultDebounceTicks; i++ {
		h.TickDebounce()
	}
	if len(sink.reports) != 1 || sink.reports[0].Code != CommunicationTimeout {
		t.Errorf("reports: %v", sink.reports)
	}
}

func TestHandlerTickSecondRequeues(t *testing.T) {
	sink := &recordingSink{}
	h := NewHandler(sink, nil)

	h.Raise(OverTemperature(0))
	for i := 0; i < DefaultDebounceTicks; i++ {
		h.TickDebounce()
	}
	if len(sink.reports) != 1 {
		t.Fatalf("reports after debounce: %d", len(sink.reports))
	}

	h.TickSecond()
	if h.RetryTimeout() != 0 {
		t.Errorf("timeout after tick: %d", h.RetryTimeout())
	}
	if h.Pending() != 1 {
		t.Errorf("fault should be queued again while retry runs, pending %d", h.Pending())
	}
	h.TickSecond()
	for i := 0; i < DefaultDebounceTicks; i++ {
		h.TickDebounce()
	}
	if len(sink.reports) != 2 {
		t.Errorf("reports: got %d, want 2", len(sink.reports))
	}
}
