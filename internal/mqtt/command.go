package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sweeney/dimmer-regulator/internal/regulation"
)

// ErrUnknownCommand is returned for a command name Apply does not know.
var ErrUnknownCommand = errors.New("unknown command")

// Commander is the request side of the regulation engine.
type Commander interface {
	RequestState(ch int, s regulation.State) error
	RequestSetpoint(ch int, percent uint8, on bool) error
	RequestCalibration(ch int) error
	SetMinCalibration(ch int, current, voltage, compare uint16) error
	SetMaxCalibration(ch int, current, voltage, compare uint16) error
	ChangeRelative(delta int) error
	ChangeAbsolute(percent uint8) error
	SetNightMode(on bool) error
}

// Command is a JSON request received on the command topic, e.g.
//
//	{"command":"setpoint","channel":1,"percent":40,"on":true}
type Command struct {
	Command string `json:"command"`
	Channel int    `json:"channel"`
	State   string `json:"state,omitempty"`
	Percent uint8  `json:"percent,omitempty"`
	Delta   int    `json:"delta,omitempty"`
	On      bool   `json:"on,omitempty"`
	Current uint16 `json:"current,omitempty"`
	Voltage uint16 `json:"voltage,omitempty"`
	Compare uint16 `json:"compare,omitempty"`
}

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("parse command: %w", err)
	}
	if c.Command == "" {
		return Command{}, fmt.Errorf("parse command: missing command name")
	}
	return c, nil
}

// Apply forwards the command to the engine.
func (c Command) Apply(e Commander) error {
	switch c.Command {
	case "state":
		s, err := regulation.ParseState(c.State)
		if err != nil {
			return err
		}
		return e.RequestState(c.Channel, s)
	case "setpoint":
		return e.RequestSetpoint(c.Channel, c.Percent, c.On)
	case "calibrate":
		return e.RequestCalibration(c.Channel)
	case "min_calibration":
		return e.SetMinCalibration(c.Channel, c.Current, c.Voltage, c.Compare)
	case "max_calibration":
		return e.SetMaxCalibration(c.Channel, c.Current, c.Voltage, c.Compare)
	case "relative":
		return e.ChangeRelative(c.Delta)
	case "absolute":
		return e.ChangeAbsolute(c.Percent)
	case "night":
		return e.SetNightMode(c.On)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Command)
}
