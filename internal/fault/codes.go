// Package fault detects hardware faults and reports them through a
// debouncer with retry backoff.
package fault

import "fmt"

// Code indexes the fault table.
type Code uint8

// MaxChannels is the number of channels covered by per-channel codes.
const MaxChannels = 4

const (
	OutputVoltage0 Code = iota
	OutputVoltage1
	OutputVoltage2
	OutputVoltage3
	OverCurrent0
	OverCurrent1
	OverCurrent2
	OverCurrent3
	LoadMissing0
	LoadMissing1
	LoadMissing2
	LoadMissing3
	OverTemperature0
	OverTemperature1
	OverTemperature2
	OverTemperature3
	PWM0
	PWM1
	PWM2
	PWM3
	PinFault
	CommunicationTimeout

	numCodes
)

// DefaultDebounceTicks is the report delay in debouncer ticks.
const DefaultDebounceTicks = 20

// Entry is the static description of a fault code. Priority 1 is the most
// urgent.
type Entry struct {
	ID            uint16
	Name          string
	Priority      uint8
	DebounceTicks uint16
}

var table = [numCodes]Entry{
	OutputVoltage0:       {0xA001, "OUTPUT_VOLTAGE_0", 3, DefaultDebounceTicks},
	OutputVoltage1:       {0xA002, "OUTPUT_VOLTAGE_1", 3, DefaultDebounceTicks},
	OutputVoltage2:       {0xA003, "OUTPUT_VOLTAGE_2", 3, DefaultDebounceTicks},
	OutputVoltage3:       {0xA004, "OUTPUT_VOLTAGE_3", 3, DefaultDebounceTicks},
	OverCurrent0:         {0xA005, "OVER_CURRENT_0", 2, DefaultDebounceTicks},
	OverCurrent1:         {0xA006, "OVER_CURRENT_1", 2, DefaultDebounceTicks},
	OverCurrent2:         {0xA007, "OVER_CURRENT_2", 2, DefaultDebounceTicks},
	OverCurrent3:         {0xA008, "OVER_CURRENT_3", 2, DefaultDebounceTicks},
	LoadMissing0:         {0xA009, "LOAD_MISSING_0", 2, DefaultDebounceTicks},
	LoadMissing1:         {0xA00A, "LOAD_MISSING_1", 2, DefaultDebounceTicks},
	LoadMissing2:         {0xA00B, "LOAD_MISSING_2", 2, DefaultDebounceTicks},
	LoadMissing3:         {0xA00C, "LOAD_MISSING_3", 2, DefaultDebounceTicks},
	OverTemperature0:     {0xA010, "OVER_TEMPERATURE_0", 2, DefaultDebounceTicks},
	OverTemperature1:     {0xA011, "OVER_TEMPERATURE_1", 2, DefaultDebounceTicks},
	OverTemperature2:     {0xA012, "OVER_TEMPERATURE_2", 2, DefaultDebounceTicks},
	OverTemperature3:     {0xA013, "OVER_TEMPERATURE_3", 2, DefaultDebounceTicks},
	PWM0:                 {0xA014, "PWM_0", 1, DefaultDebounceTicks},
	PWM1:                 {0xA015, "PWM_1", 1, DefaultDebounceTicks},
	PWM2:                 {0xA016, "PWM_2", 1, DefaultDebounceTicks},
	PWM3:                 {0xA017, "PWM_3", 1, DefaultDebounceTicks},
	PinFault:             {0xA018, "PIN_FAULT", 1, DefaultDebounceTicks},
	CommunicationTimeout: {0xA019, "COMMUNICATION_TIMEOUT", 3, DefaultDebounceTicks},
}

// Lookup returns the table entry of c. Codes outside the table describe
// themselves as unknown with the lowest priority.
func (c Code) Lookup() Entry {
	if c >= numCodes {
		return Entry{Name: fmt.Sprintf("UNKNOWN_%d", uint8(c)), Priority: 3, DebounceTicks: DefaultDebounceTicks}
	}
	return table[c]
}

func (c Code) String() string { return c.Lookup().Name }

// ParseID returns the code with numeric identifier id.
func ParseID(id uint16) (Code, bool) {
	for c := Code(0); c < numCodes; c++ {
		if table[c].ID == id {
			return c, true
		}
	}
	return 0, false
}

func perChannel(base Code, ch int) Code {
	if ch < 0 || ch >= MaxChannels {
		return numCodes
	}
	return base + Code(ch)
}

// OutputVoltage returns the output-voltage code of channel ch.
func OutputVoltage(ch int) Code { return perChannel(OutputVoltage0, ch) }

// OverCurrent returns the over-current code of channel ch.
func OverCurrent(ch int) Code { return perChannel(OverCurrent0, ch) }

// LoadMissing returns the load-missing code of channel ch.
func LoadMissing(ch int) Code { return perChannel(LoadMissing0, ch) }

// OverTemperature returns the over-temperature code of channel ch.
func OverTemperature(ch int) Code { return perChannel(OverTemperature0, ch) }

// PWM returns the PWM self-test code of channel ch.
func PWM(ch int) Code { return perChannel(PWM0, ch) }

// Report is a debounced fault handed to a Sink.
type Report struct {
	Code     Code
	ID       uint16
	Name     string
	Priority uint8
}

// Sink receives debounced fault reports.
type Sink interface {
	Report(r Report) error
}

// Raiser accepts raw fault occurrences.
type Raiser interface {
	Raise(c Code)
}
