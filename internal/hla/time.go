package hla

import "math"

// Time is a logical time on the federation time axis.
type Time float64

// TimeInfinity is greater than any reachable logical time.
var TimeInfinity = Time(math.Inf(1))

// IsInfinite reports whether t is the positive infinity sentinel.
func (t Time) IsInfinite() bool {
	return math.IsInf(float64(t), 1)
}

// IsNaN reports whether t is not a number. NaN compares false against every
// time, so it must never reach a time manager.
func (t Time) IsNaN() bool {
	return math.IsNaN(float64(t))
}

// ValidLookahead reports whether l is a finite, non-negative interval.
func ValidLookahead(l Time) bool {
	return l >= 0 && !math.IsInf(float64(l), 1)
}

// MinTime returns the smaller of two times.
func MinTime(a, b Time) Time {
	if a < b {
		return a
	}

	return b
}

// MaxTime returns the larger of two times.
func MaxTime(a, b Time) Time {
	if a > b {
		return a
	}

	return b
}
