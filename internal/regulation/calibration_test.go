package regulation

import (
	"testing"

	"github.com/sweeney/dimmer-regulator/internal/fault"
)

func runCalibration(t *testing.T, h *harness, ch int) {
	t.Helper()
	must(t, h.e.RequestCalibration(ch))
	h.cycle(1)
	if !h.e.Snapshot().Channels[ch].Calibrating {
		t.Fatal("calibration not pending after request")
	}
	h.until(t, 3000, "calibration end", func(s Snapshot) bool {
		c := s.Channels[ch]
		return !c.Calibrating && c.State == Active
	})
}

func TestCalibrationSweep(t *testing.T) {
	h := newHarness(t, nil)
	activate(t, h, 0, 50)
	runCalibration(t, h, 0)

	c := h.e.Snapshot().Channels[0]
	if !c.Initialized {
		t.Fatalf("channel not initialized after sweep: %+v", c.Calibration)
	}
	if !c.Calibration.Valid() {
		t.Errorf("calibration range empty: %+v", c.Calibration)
	}
	if c.Calibration.MinCurrentCount == 0 {
		t.Error("min calibration recorded without current")
	}
	if c.Calibration.MaxCompare != testPeriod {
		t.Errorf("max compare: got %d, want %d", c.Calibration.MaxCompare, testPeriod)
	}
	if len(h.store.saved) != 1 {
		t.Fatalf("saves: got %d, want 1", len(h.store.saved))
	}
	saved := h.store.saved[0].Channels[0]
	if !saved.Initialized || saved.Calibration != c.Calibration {
		t.Errorf("saved settings mismatch: %+v", saved)
	}

	// back to normal regulation inside the calibrated range
	h.until(t, 2*testPeriod, "settled", func(s Snapshot) bool { return s.Channels[0].Reached })
}

func TestCalibrationWithoutLoad(t *testing.T) {
	h := newHarness(t, nil)
	h.hw.SetLoad(0, 0)
	activate(t, h, 0, 50)
	runCalibration(t, h, 0)

	if h.e.Snapshot().Channels[0].Initialized {
		t.Error("channel initialized without a load")
	}
	for i := 0; i < fault.DefaultDebounceTicks; i++ {
		h.h.TickDebounce()
	}
	found := false
	for _, r := range h.sink.reports {
		if r.Code == fault.LoadMissing(0) {
			found = true
		}
	}
	if !found {
		t.Errorf("LoadMissing not reported: %+v", h.sink.reports)
	}
}

func TestCalibrationAbortedByOff(t *testing.T) {
	h := newHarness(t, nil)
	activate(t, h, 0, 50)
	must(t, h.e.RequestCalibration(0))
	h.until(t, 2*testPeriod, "sweep start", func(s Snapshot) bool {
		return s.Channels[0].State == Active && s.Channels[0].Calibrating
	})
	h.cycle(5)

	must(t, h.e.RequestState(0, Off))
	h.until(t, 3*testPeriod, "off", func(s Snapshot) bool { return s.Channels[0].State == Off })
	c := h.e.Snapshot().Channels[0]
	if c.Calibrating || c.Initialized {
		t.Errorf("aborted sweep left calibrating=%v initialized=%v", c.Calibrating, c.Initialized)
	}
	if h.e.HardwareEnabled(0) {
		t.Error("hardware still enabled")
	}
}
