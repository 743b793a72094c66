package fault

import "testing"

func tickN(d *Debouncer, n int) {
	for i := 0; i < n; i++ {
		d.Tick()
	}
}

func TestDebouncerDelaysReport(t *testing.T) {
	sink := &recordingSink{}
	d := NewDebouncer(sink)

	d.Raise(OverCurrent(1))
	tickN(d, DefaultDebounceTicks-1)
	if len(sink.reports) != 0 {
		t.Fatalf("reported before the debounce delay: %v", sink.reports)
	}
	d.Tick()
	if len(sink.reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(sink.reports))
	}
	r := sink.reports[0]
	if r.Code != OverCurrent(1) || r.ID != 0xA006 || r.Priority != 2 || r.Name != "OVER_CURRENT_1" {
		t.Errorf("unexpected report %+v", r)
	}
	if d.Pending() != 0 {
		t.Errorf("pending after report: %d", d.Pending())
	}
}

func TestDebouncerMergesRepeats(t *testing.T) {
	sink := &recordingSink{}
	d := NewDebouncer(sink)

	d.Raise(PinFault)
	tickN(d, 5)
	d.Raise(PinFault)
	d.Raise(PinFault)
	tickN(d, 2*DefaultDebounceTicks)

	if len(sink.reports) != 1 {
		t.Fatalf("expected exactly 1 report, got %d", len(sink.reports))
	}

	d.Raise(PinFault)
	tickN(d, DefaultDebounceTicks)
	if len(sink.reports) != 2 {
		t.Errorf("expected a new report after the window, got %d", len(sink.reports))
	}
}

func TestDebouncerOneReportPerTickByPriority(t *testing.T) {
	sink := &recordingSink{}
	d := NewDebouncer(sink)

	d.Raise(OutputVoltage(0)) // priority 3
	d.Raise(OverCurrent(0))   // priority 2
	d.Raise(PWM(0))           // priority 1
	tickN(d, DefaultDebounceTicks)
	if len(sink.reports) != 1 || sink.reports[0].Code != PWM(0) {
		t.Fatalf("first tick should report PWM_0 only, got %v", sink.reports)
	}
	d.Tick()
	d.Tick()
	want := []Code{PWM(0), OverCurrent(0), OutputVoltage(0)}
	if len(sink.reports) != len(want) {
		t.Fatalf("got %d reports, want %d", len(sink.reports), len(want))
	}
	for i, c := range want {
		if sink.reports[i].Code != c {
			t.Errorf("report %d: got %s, want %s", i, sink.reports[i].Code, c)
		}
	}
}

func TestDebouncerFullTable(t *testing.T) {
	sink := &recordingSink{}
	d := NewDebouncer(sink)

	fill := []Code{
		OverCurrent(0), OverCurrent(1), OverCurrent(2), OverCurrent(3),
		LoadMissing(0), LoadMissing(1), LoadMissing(2), LoadMissing(3),
		OverTemperature(0), OverTemperature(1),
	}
	for _, c := range fill {
		if !d.Raise(c) {
			t.Fatalf("raise %s failed with free slots", c)
		}
	}
	if d.Pending() != Slots {
		t.Fatalf("pending: got %d, want %d", d.Pending(), Slots)
	}

	if d.Raise(OverTemperature(2)) {
		t.Error("equal-priority fault should be dropped when full")
	}
	if d.Dropped() != 1 {
		t.Errorf("dropped: got %d, want 1", d.Dropped())
	}
	if !d.Raise(PWM(2)) {
		t.Error("urgent fault should replace a less urgent one")
	}

	tickN(d, DefaultDebounceTicks+Slots)
	if len(sink.reports) != Slots {
		t.Fatalf("reports: got %d, want %d", len(sink.reports), Slots)
	}
	if sink.reports[0].Code != PWM(2) {
		t.Errorf("first report: got %s, want PWM_2", sink.reports[0].Code)
	}
	for _, r := range sink.reports {
		if r.Code == OverTemperature(1) {
			t.Error("newest least urgent fault should have been replaced")
		}
	}
}

func TestDebouncerSinkErrorFreesSlot(t *testing.T) {
	sink := &recordingSink{err: errSink}
	d := NewDebouncer(sink)
	d.Raise(PinFault)
	tickN(d, DefaultDebounceTicks)
	if len(sink.reports) != 1 || d.Pending() != 0 {
		t.Errorf("reports=%d pending=%d", len(sink.reports), d.Pending())
	}
}
