// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// Limiter is a closed interval [Min, Max] that values must fall within
type Limiter struct {
	Min float64 `yaml:"Min"`
	Max float64 `yaml:"Max"`
}

// Check returns true if Min <= f <= Max.  NaN never passes.
func (l Limiter) Check(f float64) bool {
	return f >= l.Min && f <= l.Max
}

// Clamp limits input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a floating point number of seconds to a time.Duration
// since time.Duration is an int64 number of nanoseconds, not a float
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}
