package measure

import "sort"

type ntcPoint struct {
	temp  int16 // tenths of a degree Celsius
	count uint16
}

// ntcTable maps NTC divider counts to temperature. Counts fall as the
// temperature rises.
var ntcTable = [...]ntcPoint{
	{-50, 1765}, {0, 1448}, {50, 1180}, {100, 958}, {150, 777},
	{200, 630}, {250, 511}, {300, 416}, {350, 340}, {400, 279},
	{450, 229}, {500, 190}, {550, 158}, {600, 132}, {650, 110},
	{700, 93}, {750, 78}, {800, 67}, {850, 57},
}

// Temperature range covered by the NTC table, in tenths of a degree.
const (
	MinTemperature = -50
	MaxTemperature = 850
)

// CountsToTemperature returns the NTC temperature in tenths of a degree
// Celsius, interpolated linearly between table entries and clamped to the
// table's end points.
func CountsToTemperature(c uint16) int16 {
	first, last := ntcTable[0], ntcTable[len(ntcTable)-1]
	if c >= first.count {
		return first.temp
	}
	if c <= last.count {
		return last.temp
	}
	// first entry whose count is at or below c
	lo := sort.Search(len(ntcTable), func(i int) bool { return ntcTable[i].count <= c })
	if ntcTable[lo].count == c {
		return ntcTable[lo].temp
	}
	hi := lo - 1
	a, b := ntcTable[hi], ntcTable[lo]
	num := int32(a.count-c) * int32(b.temp-a.temp)
	return a.temp + int16(num/int32(a.count-b.count))
}
