package oxford

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrMockFailure is returned by a Mock for commands matching FailOn
var ErrMockFailure = errors.New("mock supply: injected communication failure")

// Mock is an in-process MercuryiPS that speaks the wire protocol.  It
// satisfies Transport, and cmd/mockips serves it over TCP.
//
// While in TO SET, the field moves toward the target either by Step on every
// ramp status query (deterministic, for tests) or, if Step is zero, at the
// field ramp rate in wall-clock time.  On reaching the target the supply
// goes to HOLD on its own.
type Mock struct {
	sync.Mutex

	Field       float64
	Target      float64
	Rate        float64 // T/min
	ATOB        float64 // A/T
	Action      string  // wire token, HOLD RTOS CLMP RTOZ
	Heater      bool
	Temperature float64

	// Step is the field change per ramp status query, see Mock
	Step float64

	// HeatPerStep is added to Temperature every time the field moves
	HeatPerStep float64

	// FailOn makes every command containing it fail with ErrMockFailure
	FailOn string

	commands []string
	last     time.Time
}

// NewMock returns a Mock at zero field in HOLD, heater on, at 4.2 K
func NewMock() *Mock {
	return &Mock{
		Rate:        0.2,
		ATOB:        10,
		Action:      "HOLD",
		Heater:      true,
		Temperature: 4.2,
	}
}

// NewMockIPS returns a binding to a fresh Mock, for Mock: true configurations
func NewMockIPS() *MercuryIPS {
	return New(NewMock())
}

// Commands returns every command received so far
func (m *Mock) Commands() []string {
	m.Lock()
	defer m.Unlock()
	return append([]string(nil), m.commands...)
}

// Writes returns the SET commands received so far
func (m *Mock) Writes() []string {
	var out []string
	for _, c := range m.Commands() {
		if strings.HasPrefix(c, "SET:") {
			out = append(out, c)
		}
	}
	return out
}

// ReadString satisfies Transport
func (m *Mock) ReadString(cmd string) (string, error) {
	m.Lock()
	defer m.Unlock()
	m.commands = append(m.commands, cmd)
	if m.FailOn != "" && strings.Contains(cmd, m.FailOn) {
		return "", ErrMockFailure
	}
	if cmd == "*IDN?" {
		return "IDN:OXFORD INSTRUMENTS:MERCURY IPS:MOCK:2.6.04.000", nil
	}
	if path, ok := cut(cmd, "READ:"); ok {
		m.advance(strings.HasSuffix(path, ":ACTN"))
		return m.read(path), nil
	}
	if rest, ok := cut(cmd, "SET:"); ok {
		idx := strings.LastIndex(rest, delimiter)
		if idx < 0 {
			return "STAT:SET:" + rest + ":INVALID", nil
		}
		path, value := rest[:idx], rest[idx+1:]
		status := "VALID"
		if err := m.set(path, value); err != nil {
			status = "INVALID"
		}
		return "STAT:SET:" + rest + ":" + status, nil
	}
	return "STAT:" + cmd + ":INVALID", nil
}

func cut(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

func (m *Mock) read(path string) string {
	f4 := func(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }
	var payload string
	switch path {
	case "DEV:GRPZ:PSU:SIG:VOLT":
		v := 0.0
		if m.Action == "RTOS" || m.Action == "RTOZ" {
			v = 0.0125 * math.Copysign(1, m.Target-m.Field)
		}
		payload = f4(v) + "V"
	case "DEV:GRPZ:PSU:SIG:CURR":
		payload = f4(m.Field*m.ATOB) + "A"
	case "DEV:GRPZ:PSU:SIG:PCUR":
		payload = f4(m.Field*m.ATOB) + "A"
	case "DEV:GRPZ:PSU:SIG:CSET":
		payload = f4(m.Target*m.ATOB) + "A"
	case "DEV:GRPZ:PSU:SIG:FSET":
		payload = f4(m.Target) + "T"
	case "DEV:GRPZ:PSU:SIG:RCST":
		payload = f4(m.Rate*m.ATOB) + "A/m"
	case "DEV:GRPZ:PSU:SIG:RFST":
		payload = f4(m.Rate) + "T/m"
	case "DEV:GRPZ:PSU:SIG:FLD", "DEV:GRPZ:PSU:SIG:PFLD":
		payload = f4(m.Field) + "T"
	case "DEV:GRPZ:PSU:ATOB":
		payload = f4(m.ATOB) + "A/T"
	case "DEV:GRPZ:PSU:ACTN":
		payload = m.Action
	case "DEV:GRPZ:PSU:SIG:SWHT":
		payload = "OFF"
		if m.Heater {
			payload = "ON"
		}
	case "DEV:MB1.T1:TEMP:SIG:TEMP":
		payload = f4(m.Temperature) + "K"
	default:
		payload = "INVALID"
	}
	return "STAT:" + path + ":" + payload
}

func (m *Mock) set(path, value string) error {
	switch path {
	case "DEV:GRPZ:PSU:ACTN":
		switch value {
		case "HOLD", "CLMP", "RTOZ":
		case "RTOS":
			if m.Action == "CLMP" {
				return fmt.Errorf("cannot go from CLMP to RTOS")
			}
		default:
			return fmt.Errorf("unknown action %s", value)
		}
		m.Action = value
		m.last = time.Now()
		return nil
	case "DEV:GRPZ:PSU:SIG:SWHT":
		switch value {
		case "ON":
			m.Heater = true
		case "OFF":
			m.Heater = false
		default:
			return fmt.Errorf("unknown heater state %s", value)
		}
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	switch path {
	case "DEV:GRPZ:PSU:SIG:FSET":
		if !FieldLimits.Check(f) {
			return fmt.Errorf("target out of range")
		}
		m.Target = f
	case "DEV:GRPZ:PSU:SIG:RFST":
		m.Rate = f
	case "DEV:GRPZ:PSU:ATOB":
		m.ATOB = f
	default:
		return fmt.Errorf("%s is not settable", path)
	}
	return nil
}

// advance moves the field toward the active setpoint
func (m *Mock) advance(statusQuery bool) {
	var goal float64
	switch m.Action {
	case "RTOS":
		goal = m.Target
	case "RTOZ":
		goal = 0
	default:
		return
	}
	var step float64
	if m.Step > 0 {
		if !statusQuery {
			return
		}
		step = m.Step
	} else {
		now := time.Now()
		step = now.Sub(m.last).Minutes() * m.Rate
		m.last = now
	}
	diff := goal - m.Field
	if math.Abs(diff) <= step {
		m.Field = goal
		m.Action = "HOLD"
	} else {
		m.Field += math.Copysign(step, diff)
	}
	m.Temperature += m.HeatPerStep
}
