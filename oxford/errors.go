package oxford

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHeaterOff is matched by HeaterOffError
	ErrHeaterOff = errors.New("switch heater is off, use SwitchHeaterOnAndWait before ramping")

	// ErrTemperatureExceeded is matched by TemperatureExceededError
	ErrTemperatureExceeded = errors.New("magnet temperature exceeded the safety limit")

	// ErrRampInProgress is returned when a supervised ramp is requested while
	// another one is running on the same supply
	ErrRampInProgress = errors.New("a field ramp is already in progress")

	// ErrRampCancelled is returned when the context of a supervised ramp is
	// done before the supply leaves TO SET.  The supply is put in HOLD first.
	ErrRampCancelled = errors.New("field ramp cancelled, supply commanded to HOLD")

	// ErrNotReadable and ErrNotWritable are returned for access violations
	// against a quantity's descriptor
	ErrNotReadable = errors.New("quantity is not readable")
	ErrNotWritable = errors.New("quantity is not writable")
)

// CommunicationError is a failed round-trip with the supply
type CommunicationError struct {
	Cmd string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication with supply failed on %q: %v", e.Cmd, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// ParseError is a reply that did not match the expected <value><suffix> shape
type ParseError struct {
	Reply  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot parse reply %q: %s: %v", e.Reply, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot parse reply %q: %s", e.Reply, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is a write that violated a quantity's domain.
// No command is sent when it is returned.
type ValidationError struct {
	Quantity string
	Value    float64
	Min, Max float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: value %g outside of allowed range [%g, %g]", e.Quantity, e.Value, e.Min, e.Max)
}

// InvalidEnumError is a label or wire token outside an enumeration
type InvalidEnumError struct {
	Enum    string
	Value   string
	Allowed []string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("%s: %q is not one of %s", e.Enum, e.Value, strings.Join(e.Allowed, ", "))
}

// RejectedError is a SET acknowledged by the supply as INVALID or N/A
type RejectedError struct {
	Cmd   string
	Reply string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("supply rejected %q, replied %q", e.Cmd, e.Reply)
}

// HeaterOffError is returned when a ramp is requested while the persistent
// switch heater is off.  The ramp never starts.
type HeaterOffError struct {
	State string
}

func (e *HeaterOffError) Error() string {
	return fmt.Sprintf("%v (heater reads %s)", ErrHeaterOff, e.State)
}

func (e *HeaterOffError) Is(target error) bool { return target == ErrHeaterOff }

// TemperatureExceededError is returned when the interlock trips mid-ramp.
// The supply has already been commanded to HOLD.
type TemperatureExceededError struct {
	Limit   float64
	Reached float64
}

func (e *TemperatureExceededError) Error() string {
	return fmt.Sprintf("magnet ramp stopped since its temperature exceeded the safety limit: limit = %g K, reached = %g K", e.Limit, e.Reached)
}

func (e *TemperatureExceededError) Is(target error) bool { return target == ErrTemperatureExceeded }
