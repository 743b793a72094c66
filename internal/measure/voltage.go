package measure

import "fmt"

// ADC and divider constants of the sense front end.
const (
	ADCMax         = 2047
	VRefMillivolts = 2048

	dividerR1 = 102000
	dividerR2 = 5360

	shift = 10
)

// Percent limits. Zero brightness is expressed by the on/off flag, never by
// a percentage.
const (
	PercentLow  = 5
	PercentHigh = 100
)

// Default voltage law used until a supply voltage is known.
const (
	DefaultLowerMillivolts = 0
	DefaultUpperMillivolts = 24000
)

const (
	mvToADCDivider = (dividerR2 << shift) / (dividerR1 + dividerR2)
	mvToADCStep    = (ADCMax << shift) / VRefMillivolts
	adcToMVDivider = ((dividerR1 + dividerR2) << shift) / dividerR2
	adcToMVStep    = (VRefMillivolts << shift) / ADCMax
)

// MillivoltsToCounts converts an output voltage to the ADC count the sense
// divider would produce for it.
func MillivoltsToCounts(mv uint32) uint16 {
	mv = Clamp(mv, 0, DefaultUpperMillivolts)
	x := (mv * mvToADCDivider) >> shift
	x = (x * mvToADCStep) >> shift
	return uint16(Clamp(x, 0, ADCMax))
}

// CountsToMillivolts converts an ADC count back to the output voltage.
func CountsToMillivolts(c uint16) uint32 {
	x := uint32(Clamp(c, 0, ADCMax))
	x = (x * adcToMVDivider) >> shift
	return (x * adcToMVStep) >> shift
}

type channelLimits struct {
	lower, upper uint32
	explicit     bool
}

// Mapper translates percentages into target counts per channel. It knows
// the discovered supply voltage and any per-channel software limits.
type Mapper struct {
	systemMV    uint32
	systemCount uint16
	limits      []channelLimits
}

// NewMapper returns a Mapper for n channels using the default voltage law.
func NewMapper(n int) *Mapper {
	return &Mapper{limits: make([]channelLimits, n)}
}

// SetSystemVoltage records the discovered supply voltage. The cached count
// equivalent is recomputed only when the value changes. It reports whether
// the value changed.
func (m *Mapper) SetSystemVoltage(mv uint32) bool {
	if mv == m.systemMV {
		return false
	}
	m.systemMV = mv
	m.systemCount = MillivoltsToCounts(mv)
	return true
}

// SystemVoltage returns the discovered supply voltage, 0 when unknown.
func (m *Mapper) SystemVoltage() uint32 { return m.systemMV }

// SystemVoltageCount returns the supply voltage as an ADC count.
func (m *Mapper) SystemVoltageCount() uint16 { return m.systemCount }

// SetLimits pins channel ch to an explicit [lower, upper] millivolt range.
func (m *Mapper) SetLimits(ch int, lower, upper uint32) error {
	if ch < 0 || ch >= len(m.limits) {
		return fmt.Errorf("channel %d out of range", ch)
	}
	if upper <= lower {
		return fmt.Errorf("channel %d: upper limit %d mV not above lower %d mV", ch, upper, lower)
	}
	m.limits[ch] = channelLimits{lower: lower, upper: upper, explicit: true}
	return nil
}

// ClearLimits returns channel ch to the system-derived law.
func (m *Mapper) ClearLimits(ch int) {
	if ch >= 0 && ch < len(m.limits) {
		m.limits[ch] = channelLimits{}
	}
}

// Limits returns the millivolt range currently used for channel ch.
func (m *Mapper) Limits(ch int) (lower, upper uint32) {
	if ch >= 0 && ch < len(m.limits) && m.limits[ch].explicit {
		return m.limits[ch].lower, m.limits[ch].upper
	}
	if m.systemMV > DefaultLowerMillivolts {
		return DefaultLowerMillivolts, m.systemMV
	}
	return DefaultLowerMillivolts, DefaultUpperMillivolts
}

// PercentToMillivolts returns the output voltage for percent on channel ch.
// percent is clamped to [PercentLow, PercentHigh] first.
func (m *Mapper) PercentToMillivolts(ch int, percent uint8) uint32 {
	p := uint32(Clamp(percent, PercentLow, PercentHigh))
	lower, upper := m.Limits(ch)
	return lower + ((upper-lower)/100)*p
}

// PercentToCounts returns the target ADC count for percent on channel ch.
func (m *Mapper) PercentToCounts(ch int, percent uint8) uint16 {
	return MillivoltsToCounts(m.PercentToMillivolts(ch, percent))
}

// CountsToPercent is the rounded inverse of PercentToCounts, in [0, 100].
func (m *Mapper) CountsToPercent(ch int, c uint16) uint8 {
	lower, upper := m.Limits(ch)
	step := (upper - lower) / 100
	mv := CountsToMillivolts(c)
	if step == 0 || mv <= lower {
		return 0
	}
	p := (mv - lower + step/2) / step
	return uint8(Clamp(p, 0, PercentHigh))
}
