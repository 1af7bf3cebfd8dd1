package oxford

import "math"

// Decision is the outcome of an interlock check
type Decision int

const (
	// Continue means the ramp may proceed
	Continue Decision = iota

	// Trip means the ramp must be stopped
	Trip
)

func (d Decision) String() string {
	if d == Trip {
		return "trip"
	}
	return "continue"
}

// Check trips when temperature is strictly above limit; equality is safe.
// A NaN reading trips.
func Check(temperature, limit float64) Decision {
	if temperature > limit || math.IsNaN(temperature) {
		return Trip
	}
	return Continue
}
