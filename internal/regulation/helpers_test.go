package regulation

import (
	"testing"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/hal"
)

const testPeriod = 160

type recordingSink struct {
	reports []fault.Report
}

func (s *recordingSink) Report(r fault.Report) error {
	s.reports = append(s.reports, r)
	return nil
}

type memStore struct {
	loaded Settings
	saved  []Settings
}

func (m *memStore) Load() (Settings, error) { return m.loaded, nil }

func (m *memStore) Save(s Settings) error {
	m.saved = append(m.saved, s)
	return nil
}

type harness struct {
	e     *Engine
	hw    *hal.Fake
	h     *fault.Handler
	sink  *recordingSink
	store *memStore
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	layout := hal.DefaultLayout(NumChannels)
	hw := hal.NewFake(layout, testPeriod)
	sink := &recordingSink{}
	h := fault.NewHandler(sink, nil)
	store := &memStore{}
	cfg := Config{
		Hardware: hw,
		Layout:   layout,
		Monitor:  fault.NewMonitor(hw, layout, h, fault.DefaultLimits()),
		Faults:   h,
		Store:    store,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{e: e, hw: hw, h: h, sink: sink, store: store}
}

// cycle runs three measurement ticks and one controller tick, roughly the
// 2 ms / 7 ms cadence ratio.
func (h *harness) cycle(n int) {
	for i := 0; i < n; i++ {
		h.e.TickMeasurement()
		h.e.TickMeasurement()
		h.e.TickMeasurement()
		h.e.TickController()
	}
}

// until cycles until cond holds, failing after max cycles.
func (h *harness) until(t *testing.T, max int, what string, cond func(Snapshot) bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond(h.e.Snapshot()) {
			return
		}
		h.cycle(1)
	}
	t.Fatalf("%s not reached after %d cycles: %+v", what, max, h.e.Snapshot().Channels[0])
}

func (h *harness) state(t *testing.T, ch int) State {
	t.Helper()
	s, err := h.e.State(ch)
	if err != nil {
		t.Fatalf("State(%d): %v", ch, err)
	}
	return s
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
