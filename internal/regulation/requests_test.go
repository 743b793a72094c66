package regulation

import (
	"errors"
	"testing"

	"github.com/sweeney/dimmer-regulator/internal/fault"
	"github.com/sweeney/dimmer-regulator/internal/measure"
)

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.e.RequestState(NumChannels, Active); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("RequestState(out of range): got %v", err)
	}
	if err := h.e.RequestState(-1, Off); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("RequestState(-1): got %v", err)
	}
	if err := h.e.RequestState(0, Entry); !errors.Is(err, ErrInvalidState) {
		t.Errorf("RequestState(ENTRY): got %v", err)
	}
	if err := h.e.RequestSetpoint(7, 50, true); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("RequestSetpoint(out of range): got %v", err)
	}
	if err := h.e.RequestCalibration(4); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("RequestCalibration(out of range): got %v", err)
	}
	if _, err := h.e.State(4); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("State(out of range): got %v", err)
	}
	if h.e.HardwareEnabled(9) {
		t.Error("HardwareEnabled(out of range) should be false")
	}
}

func TestMailboxFull(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MailboxSize = 1 })

	must(t, h.e.RequestState(0, Active))
	if err := h.e.RequestState(1, Active); !errors.Is(err, ErrMailboxFull) {
		t.Fatalf("second request: got %v, want ErrMailboxFull", err)
	}
	h.cycle(1)
	must(t, h.e.RequestState(1, Active))
}

func TestRequestStateOnlyRecorded(t *testing.T) {
	h := newHarness(t, nil)
	must(t, h.e.RequestState(2, Active))
	if s := h.e.Snapshot().Channels[2].Requested; s != Off {
		t.Fatalf("request applied before a tick: %s", s)
	}
	h.e.TickMeasurement()
	if s := h.e.Snapshot().Channels[2].Requested; s != Active {
		t.Errorf("requested after tick: got %s, want ACTIVE", s)
	}
}

func TestChangeBrightness(t *testing.T) {
	h := newHarness(t, nil)
	must(t, h.e.RequestSetpoint(0, 50, true))
	must(t, h.e.RequestSetpoint(1, 30, false))
	h.cycle(1)

	percent := func(ch int) uint8 { return h.e.Snapshot().Channels[ch].Percent }

	must(t, h.e.ChangeRelative(30))
	h.cycle(1)
	if percent(0) != 80 {
		t.Errorf("relative +30: got %d, want 80", percent(0))
	}
	if percent(1) != 30 {
		t.Errorf("channel off changed: got %d, want 30", percent(1))
	}

	must(t, h.e.ChangeRelative(50))
	h.cycle(1)
	if percent(0) != measure.PercentHigh {
		t.Errorf("relative clamp high: got %d", percent(0))
	}

	must(t, h.e.ChangeRelative(-200))
	h.cycle(1)
	if percent(0) != measure.PercentLow {
		t.Errorf("relative clamp low: got %d", percent(0))
	}

	must(t, h.e.ChangeAbsolute(60))
	h.cycle(1)
	if percent(0) != 60 {
		t.Errorf("absolute: got %d, want 60", percent(0))
	}

	must(t, h.e.ChangeAbsolute(1))
	h.cycle(1)
	if percent(0) != measure.PercentLow {
		t.Errorf("absolute clamp: got %d", percent(0))
	}

	must(t, h.e.RequestSetpoint(2, 0, true))
	h.cycle(1)
	if percent(2) != measure.PercentLow {
		t.Errorf("setpoint clamp: got %d", percent(2))
	}
}

func TestNightModeAndReducedOutput(t *testing.T) {
	h := newHarness(t, nil)
	activate(t, h, 0, 50)

	requested := func() uint16 { return h.e.Snapshot().Channels[0].RequestedCount }

	if got, want := requested(), measure.MillivoltsToCounts(12000); got != want {
		t.Fatalf("50%%: got %d, want %d", got, want)
	}

	must(t, h.e.SetNightMode(true))
	h.cycle(1)
	if got, want := requested(), measure.MillivoltsToCounts(1200); got != want {
		t.Errorf("night mode: got %d, want %d", got, want)
	}
	if !h.e.Snapshot().NightMode {
		t.Error("snapshot night mode not set")
	}
	must(t, h.e.SetNightMode(false))

	must(t, h.e.SetOutputReduced(true))
	h.cycle(1)
	if got, want := requested(), measure.MillivoltsToCounts(6000); got != want {
		t.Errorf("reduced: got %d, want %d", got, want)
	}
	if h.e.Snapshot().Channels[0].Percent != 50 {
		t.Error("reduction must not change the user brightness")
	}

	must(t, h.e.SetOutputReduced(false))
	h.cycle(1)
	if got, want := requested(), measure.MillivoltsToCounts(12000); got != want {
		t.Errorf("restored: got %d, want %d", got, want)
	}
}

func TestManualCalibration(t *testing.T) {
	h := newHarness(t, nil)

	must(t, h.e.SetMinCalibration(1, 10, 100, 5))
	must(t, h.e.SetMaxCalibration(1, 200, 1000, 150))
	h.cycle(1)
	c := h.e.Snapshot().Channels[1]
	want := Calibration{
		MinCurrentCount: 10, MaxCurrentCount: 200,
		MinVoltageCount: 100, MaxVoltageCount: 1000,
		MinCompare: 5, MaxCompare: 150,
	}
	if c.Calibration != want {
		t.Errorf("calibration: got %+v, want %+v", c.Calibration, want)
	}
	if !c.Initialized {
		t.Error("valid calibration should mark the channel initialized")
	}

	must(t, h.e.SetMinCalibration(2, 10, 900, 5))
	must(t, h.e.SetMaxCalibration(2, 200, 800, 150))
	h.cycle(1)
	if h.e.Snapshot().Channels[2].Initialized {
		t.Error("empty range should not initialize")
	}
}

func TestMinCalibrationPersisted(t *testing.T) {
	h := newHarness(t, nil)
	must(t, h.e.SetMinCalibration(2, 4, 30, 2))
	h.e.TickMeasurement()
	must(t, h.e.FlushSettings())
	if len(h.store.saved) != 1 {
		t.Fatalf("saves: got %d, want 1", len(h.store.saved))
	}
	got := h.store.saved[0].Channels[2].Calibration
	if got.MinCurrentCount != 4 || got.MinVoltageCount != 30 || got.MinCompare != 2 {
		t.Errorf("saved min calibration: %+v", got)
	}
}

func TestCalibrationCancelledWhileOff(t *testing.T) {
	h := newHarness(t, nil)
	must(t, h.e.RequestCalibration(1))
	h.cycle(1)
	if h.e.Snapshot().Channels[1].Calibrating {
		t.Error("calibrating on a channel that is off")
	}

	must(t, h.e.RequestState(1, Off))
	must(t, h.e.RequestSetpoint(1, 50, true))
	h.cycle(2 * testPeriod)
	c := h.e.Snapshot().Channels[1]
	if c.Calibrating {
		t.Error("cancelled calibration still pending")
	}
	if c.State != Active {
		t.Errorf("state: got %s, want ACTIVE", c.State)
	}
	if c.Initialized {
		t.Error("sweep ran after cancellation")
	}
}

func TestCalibratedRange(t *testing.T) {
	h := newHarness(t, nil)
	lower, upper := uint16(100), uint16(1000)
	must(t, h.e.SetMinCalibration(0, 1, lower, 5))
	must(t, h.e.SetMaxCalibration(0, 200, upper, 150))
	activate(t, h, 0, 100)

	got := h.e.Snapshot().Channels[0].RequestedCount
	if d := abs(int(got) - int(upper)); d > 8 {
		t.Errorf("100%% of calibrated range: got %d, want about %d", got, upper)
	}
}

func TestRestoreSettings(t *testing.T) {
	store := &memStore{}
	store.loaded.Channels[1] = ChannelSettings{
		Initialized: true,
		Calibration: Calibration{MinVoltageCount: 500, MaxVoltageCount: 400},
		Percent:     70,
	}
	store.loaded.Channels[2] = ChannelSettings{
		Initialized: true,
		Calibration: Calibration{MinVoltageCount: 50, MaxVoltageCount: 900},
		Percent:     40,
		On:          true,
	}
	h := newHarness(t, func(c *Config) { c.Store = store })
	s := h.e.Snapshot()

	if s.Channels[1].Initialized {
		t.Error("invalid stored calibration restored as initialized")
	}
	if s.Channels[1].Requested != Off || s.Channels[1].Percent != 70 {
		t.Errorf("channel 1: %+v", s.Channels[1])
	}
	if !s.Channels[2].Initialized || s.Channels[2].Requested != Active || s.Channels[2].Percent != 40 {
		t.Errorf("channel 2: %+v", s.Channels[2])
	}
	if s.Channels[0].Percent != measure.PercentHigh {
		t.Errorf("default percent: got %d", s.Channels[0].Percent)
	}
	if !s.AnyActive() {
		t.Error("restored channel on, AnyActive should be true")
	}
}

func TestFlushSettings(t *testing.T) {
	h := newHarness(t, nil)

	must(t, h.e.FlushSettings())
	if len(h.store.saved) != 0 {
		t.Fatal("saved without changes")
	}

	must(t, h.e.RequestSetpoint(3, 25, true))
	h.e.TickMeasurement()
	must(t, h.e.FlushSettings())
	must(t, h.e.FlushSettings())
	if len(h.store.saved) != 1 {
		t.Fatalf("saves: got %d, want 1", len(h.store.saved))
	}
	cs := h.store.saved[0].Channels[3]
	if cs.Percent != 25 || !cs.On {
		t.Errorf("saved channel 3: %+v", cs)
	}

	// night mode and reduction are not persisted
	must(t, h.e.SetNightMode(true))
	h.e.TickMeasurement()
	must(t, h.e.FlushSettings())
	if len(h.store.saved) != 1 {
		t.Error("night mode marked settings dirty")
	}
}

type failingStore struct{ memStore }

func (f *failingStore) Save(Settings) error { return errors.New("disk full") }

func TestFlushSettingsError(t *testing.T) {
	store := &failingStore{}
	h := newHarness(t, func(c *Config) { c.Store = store })
	must(t, h.e.RequestSetpoint(0, 40, false))
	h.e.TickMeasurement()
	if err := h.e.FlushSettings(); err == nil {
		t.Fatal("expected save error")
	}
	// still dirty, retried next time
	if err := h.e.FlushSettings(); err == nil {
		t.Error("expected save to be retried")
	}
}

func TestFaultChecks(t *testing.T) {
	h := newHarness(t, nil)
	h.hw.SetTemperatureCount(2, 110)

	h.e.TickFaultChecks()
	if h.h.Pending() != 0 {
		t.Fatal("fault raised before any samples")
	}

	h.cycle(1)
	h.e.TickFaultChecks()
	for i := 0; i < fault.DefaultDebounceTicks; i++ {
		h.h.TickDebounce()
	}
	if len(h.sink.reports) != 1 || h.sink.reports[0].Code != fault.OverTemperature(2) {
		t.Fatalf("reports: %+v", h.sink.reports)
	}
	if h.sink.reports[0].ID != 0xA012 {
		t.Errorf("ID: got %#x, want 0xa012", h.sink.reports[0].ID)
	}
}

func TestAnalogErrorTolerated(t *testing.T) {
	h := newHarness(t, nil)
	h.hw.SetAnalogError(1, errors.New("i2c nack"))
	activate(t, h, 0, 50)

	h.e.TickFaultChecks()
	if h.h.Pending() != 0 {
		t.Error("faults raised for a channel without samples")
	}

	h.hw.SetAnalogError(1, nil)
	h.cycle(1)
	if s := h.state(t, 1); s != Off {
		t.Errorf("channel 1 state: %s", s)
	}
}

func TestAnyActive(t *testing.T) {
	h := newHarness(t, nil)
	if h.e.AnyActive() {
		t.Fatal("AnyActive on a fresh engine")
	}
	activate(t, h, 3, 20)
	if !h.e.AnyActive() {
		t.Fatal("AnyActive false with channel 3 on")
	}
	must(t, h.e.RequestState(3, Off))
	h.until(t, 3*testPeriod, "off", func(s Snapshot) bool { return s.Channels[3].State == Off })
	if h.e.AnyActive() {
		t.Error("AnyActive true after switching off")
	}
}
