package mqtt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// recorder is a Commander that records calls as strings.
type recorder struct {
	calls []string
	err   error
}

func (r *recorder) record(format string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return r.err
}

func (r *recorder) RequestState(ch int, s regulation.State) error {
	return r.record("state %d %s", ch, s)
}

func (r *recorder) RequestSetpoint(ch int, percent uint8, on bool) error {
	return r.record("setpoint %d %d %v", ch, percent, on)
}

func (r *recorder) RequestCalibration(ch int) error { return r.record("calibrate %d", ch) }

func (r *recorder) SetMinCalibration(ch int, current, voltage, compare uint16) error {
	return r.record("min %d %d %d %d", ch, current, voltage, compare)
}

func (r *recorder) SetMaxCalibration(ch int, current, voltage, compare uint16) error {
	return r.record("max %d %d %d %d", ch, current, voltage, compare)
}

func (r *recorder) ChangeRelative(delta int) error     { return r.record("relative %d", delta) }
func (r *recorder) ChangeAbsolute(percent uint8) error { return r.record("absolute %d", percent) }
func (r *recorder) SetNightMode(on bool) error         { return r.record("night %v", on) }

func TestCommandApply(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"command":"state","channel":2,"state":"ON"}`, "state 2 ACTIVE"},
		{`{"command":"state","channel":0,"state":"off"}`, "state 0 OFF"},
		{`{"command":"setpoint","channel":1,"percent":40,"on":true}`, "setpoint 1 40 true"},
		{`{"command":"setpoint","channel":3,"percent":70}`, "setpoint 3 70 false"},
		{`{"command":"calibrate","channel":1}`, "calibrate 1"},
		{`{"command":"min_calibration","channel":0,"current":3,"voltage":22,"compare":3}`, "min 0 3 22 3"},
		{`{"command":"max_calibration","channel":0,"current":240,"voltage":1193,"compare":160}`, "max 0 240 1193 160"},
		{`{"command":"relative","delta":-10}`, "relative -10"},
		{`{"command":"absolute","percent":55}`, "absolute 55"},
		{`{"command":"night","on":true}`, "night true"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			cmd, err := ParseCommand([]byte(tt.payload))
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			r := &recorder{}
			if err := cmd.Apply(r); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if len(r.calls) != 1 || r.calls[0] != tt.want {
				t.Errorf("calls: got %v, want [%s]", r.calls, tt.want)
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, payload := range []string{``, `not json`, `{"channel":1}`, `{"command":"setpoint","percent":400}`} {
		if _, err := ParseCommand([]byte(payload)); err == nil {
			t.Errorf("ParseCommand(%q): expected error", payload)
		}
	}
}

func TestCommandApplyErrors(t *testing.T) {
	r := &recorder{}
	if err := (Command{Command: "explode"}).Apply(r); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("unknown command: got %v", err)
	}
	if err := (Command{Command: "state", State: "ENTRY"}).Apply(r); !errors.Is(err, regulation.ErrInvalidState) {
		t.Errorf("bad state: got %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("engine called on invalid command: %v", r.calls)
	}

	r.err = regulation.ErrMailboxFull
	if err := (Command{Command: "calibrate"}).Apply(r); !errors.Is(err, regulation.ErrMailboxFull) {
		t.Errorf("engine error not returned: %v", err)
	}
}
