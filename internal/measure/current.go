package measure

// Current sense amplifier: gain 31 across a shunt scaled by 10.
const (
	currentGain    = 31
	currentDivisor = 10

	adcToMAStep = (VRefMillivolts << shift) / ADCMax
	maToADCStep = (ADCMax << shift) / VRefMillivolts
)

// CountsToMilliamps converts a current sense count to milliamps.
func CountsToMilliamps(c uint16) uint32 {
	x := uint32(Clamp(c, 0, ADCMax))
	x = (x * adcToMAStep) >> shift
	return x * currentDivisor / currentGain
}

// MilliampsToCounts converts a current in milliamps to a sense count,
// saturating at ADCMax.
func MilliampsToCounts(ma uint32) uint16 {
	x := (uint64(ma) * maToADCStep * currentGain / currentDivisor) >> shift
	return uint16(Clamp(x, 0, ADCMax))
}
