// Package measure smooths raw ADC samples and converts between user
// percentages, engineering units and raw counts.
//
// All conversions are fixed point: multiply by a scale factor, then shift
// right by 10. Scale factors are computed once as untyped constants.
package measure

import "golang.org/x/exp/constraints"

// Clamp returns v limited to the closed range [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
