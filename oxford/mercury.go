/*
Package oxford provides a binding to the Oxford Instruments MercuryiPS
superconducting magnet power supply.

The supply speaks a line protocol over TCP (port 7020) or RS-232:

	READ:DEV:GRPZ:PSU:SIG:FLD         => STAT:DEV:GRPZ:PSU:SIG:FLD:1.2500T
	SET:DEV:GRPZ:PSU:SIG:FSET:1.0000  => STAT:SET:DEV:GRPZ:PSU:SIG:FSET:1.0000:VALID

Only the z axis power supply (GRPZ) and the magnet temperature sensor
(MB1.T1) are bound.  Changing the field is a supervised, long running
operation, see RampFieldTo.
*/
package oxford

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/magnetlab/comm"
	"github.com/nasa-jpl/magnetlab/scpi"
	"github.com/nasa-jpl/magnetlab/util"
)

const (
	// DefaultTemperatureLimit is the magnet temperature, in K, above which a
	// ramp is stopped
	DefaultTemperatureLimit = 5.0

	// DefaultPollInterval is the pause between iterations of a supervised ramp
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultHeaterWait is the time the persistent switch needs to go normal
	// after its heater is turned on
	DefaultHeaterWait = 10 * time.Minute

	// DefaultPort is the TCP port of the supply's ethernet interface
	DefaultPort = "7020"

	// MaxCommandRate is the most commands per second sent to a supply
	MaxCommandRate = 50

	psuAddr    = "GRPZ"
	sensorAddr = "MB1.T1"
)

// RampMode is the action of the supply's output
type RampMode string

const (
	// Hold keeps the output where it is
	Hold RampMode = "HOLD"

	// ToSet ramps the output to the target
	ToSet RampMode = "TO SET"

	// Clamp clamps the output at zero; it must be released to HOLD before a
	// new ramp can be started
	Clamp RampMode = "CLAMP"

	// ToZero ramps the output to zero
	ToZero RampMode = "TO ZERO"
)

var (
	// FieldLimits is the domain of the field and its target, in T
	FieldLimits = util.Limiter{Min: -7.0, Max: 7.0}

	// RampModes maps RampMode labels to ACTN tokens
	RampModes = MustEnum("ramp status", map[string]string{
		string(Hold):   "HOLD",
		string(ToSet):  "RTOS",
		string(Clamp):  "CLMP",
		string(ToZero): "RTOZ",
	})

	fieldRange = InRange("field", FieldLimits)

	qVoltage           = Quantity[float64]{Name: "voltage", Label: "Output voltage", Unit: "V", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:VOLT", Codec: magnitudeCodec}
	qCurrent           = Quantity[float64]{Name: "current", Label: "Output current", Unit: "A", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:CURR", Codec: magnitudeCodec}
	qCurrentPersistent = Quantity[float64]{Name: "current_persistent", Label: "Output persistent current", Unit: "A", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:PCUR", Codec: magnitudeCodec}
	qCurrentTarget     = Quantity[float64]{Name: "current_target", Label: "Target current", Unit: "A", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:CSET", Codec: magnitudeCodec}
	qFieldTarget       = Quantity[float64]{Name: "field_target", Label: "Target field", Unit: "T", Access: ReadWrite, Addr: psuAddr, Leaf: "PSU:SIG:FSET", Codec: magnitudeCodec, Validate: InRange("field_target", FieldLimits)}
	qCurrentRampRate   = Quantity[float64]{Name: "current_ramp_rate", Label: "Ramp rate (current)", Unit: "A/min", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:RCST", Codec: rateCodec}
	qFieldRampRate     = Quantity[float64]{Name: "field_ramp_rate", Label: "Ramp rate (field)", Unit: "T/min", Access: ReadWrite, Addr: psuAddr, Leaf: "PSU:SIG:RFST", Codec: rateCodec}
	qField             = Quantity[float64]{Name: "field", Label: "Field strength", Unit: "T", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:FLD", Codec: magnitudeCodec}
	qFieldPersistent   = Quantity[float64]{Name: "field_persistent", Label: "Persistent field strength", Unit: "T", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:PFLD", Codec: magnitudeCodec}
	qATOB              = Quantity[float64]{Name: "atob", Label: "Current to field ratio", Unit: "A/T", Access: ReadWrite, Addr: psuAddr, Leaf: "PSU:ATOB", Codec: rateCodec}
	qRampStatus        = Quantity[string]{Name: "ramp_status", Label: "Ramp status", Access: ReadWrite, Addr: psuAddr, Leaf: "PSU:ACTN", Codec: EnumCodec(RampModes)}
	qTemperature       = Quantity[float64]{Name: "temp", Label: "Magnet temperature", Unit: "K", Access: ReadOnly, Addr: sensorAddr, Leaf: "TEMP:SIG:TEMP", Codec: magnitudeCodec}
	qSwitchHeater      = Quantity[bool]{Name: "switch_heater", Label: "Magnet switch heater", Access: ReadWrite, Addr: psuAddr, Leaf: "PSU:SIG:SWHT", Codec: OnOffCodec}

	// Registry holds every quantity of the supply by name
	Registry = map[string]Descriptor{
		qVoltage.Name:           qVoltage,
		qCurrent.Name:           qCurrent,
		qCurrentPersistent.Name: qCurrentPersistent,
		qCurrentTarget.Name:     qCurrentTarget,
		qFieldTarget.Name:       qFieldTarget,
		qCurrentRampRate.Name:   qCurrentRampRate,
		qFieldRampRate.Name:     qFieldRampRate,
		qField.Name:             qField,
		qFieldPersistent.Name:   qFieldPersistent,
		qATOB.Name:              qATOB,
		qRampStatus.Name:        qRampStatus,
		qTemperature.Name:       qTemperature,
		qSwitchHeater.Name:      qSwitchHeater,
	}
)

// Names returns the sorted names in Registry
func Names() []string {
	names := make([]string, 0, len(Registry))
	for k := range Registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MercuryIPS is a binding to one MercuryiPS supply.  Its exported fields may
// be changed before the first ramp is started.
type MercuryIPS struct {
	t Transport

	// Log receives one Debug entry per exchange and the ramp's transitions
	Log logrus.FieldLogger

	// Reporter receives the progress of supervised ramps.  It may be nil.
	Reporter Reporter

	// PollInterval is the pause between iterations of RampFieldTo
	PollInterval time.Duration

	// HeaterWait is the settling time used by SwitchHeaterOnAndWait
	HeaterWait time.Duration

	limitMu sync.Mutex
	tLimit  float64

	// held for the duration of a supervised ramp
	ramp sync.Mutex
}

// New creates a binding that talks over t
func New(t Transport) *MercuryIPS {
	return &MercuryIPS{
		t:            t,
		Log:          logrus.StandardLogger(),
		PollInterval: DefaultPollInterval,
		HeaterWait:   DefaultHeaterWait,
		tLimit:       DefaultTemperatureLimit,
	}
}

// NewMercuryIPS creates a binding to the supply at addr.  If serial is false,
// addr is host:port (the port defaults to 7020), otherwise a serial device.
func NewMercuryIPS(addr string, serial bool) *MercuryIPS {
	var maker comm.CreationFunc
	if serial {
		maker = comm.SerialConnMaker(makeSerConf(addr))
	} else {
		maker = comm.BackingOffTCPConnMaker(withDefaultPort(addr), 3*time.Second)
	}
	pool := comm.NewPool(1, time.Minute, maker)
	pool.Pace(MaxCommandRate)
	return New(&scpi.SCPI{Pool: pool, Terminator: '\n'})
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}

func withDefaultPort(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		switch addr[i] {
		case ':':
			return addr
		case ']', '.':
			return addr + ":" + DefaultPort
		}
	}
	return addr + ":" + DefaultPort
}

// ReadString satisfies Transport; every exchange is logged
func (m *MercuryIPS) ReadString(cmd string) (string, error) {
	reply, err := m.t.ReadString(cmd)
	entry := m.Log.WithField("cmd", cmd)
	if err != nil {
		entry.WithError(err).Debug("exchange failed")
		return reply, err
	}
	entry.WithField("reply", reply).Debug("exchange")
	return reply, nil
}

// Identification returns the *IDN? string of the supply
func (m *MercuryIPS) Identification() (string, error) {
	reply, err := m.ReadString("*IDN?")
	if err != nil {
		return "", &CommunicationError{Cmd: "*IDN?", Err: err}
	}
	return reply, nil
}

// Raw sends str to the supply and returns the reply verbatim
func (m *MercuryIPS) Raw(str string) (string, error) {
	reply, err := m.ReadString(str)
	if err != nil {
		return "", &CommunicationError{Cmd: str, Err: err}
	}
	return reply, nil
}

// Read reads the quantity called name, see Names
func (m *MercuryIPS) Read(name string) (any, error) {
	d, ok := Registry[name]
	if !ok {
		return nil, &InvalidEnumError{Enum: "quantity", Value: name, Allowed: Names()}
	}
	return d.ReadAny(m)
}

// Voltage returns the output voltage in V
func (m *MercuryIPS) Voltage() (float64, error) { return qVoltage.Read(m) }

// Current returns the output current in A
func (m *MercuryIPS) Current() (float64, error) { return qCurrent.Read(m) }

// CurrentPersistent returns the persistent current in A
func (m *MercuryIPS) CurrentPersistent() (float64, error) { return qCurrentPersistent.Read(m) }

// CurrentTarget returns the target current in A
func (m *MercuryIPS) CurrentTarget() (float64, error) { return qCurrentTarget.Read(m) }

// FieldTarget returns the target field in T
func (m *MercuryIPS) FieldTarget() (float64, error) { return qFieldTarget.Read(m) }

// SetFieldTarget sets the target field in T, without starting a ramp
func (m *MercuryIPS) SetFieldTarget(t float64) error { return qFieldTarget.Write(m, t) }

// CurrentRampRate returns the current ramp rate in A/min
func (m *MercuryIPS) CurrentRampRate() (float64, error) { return qCurrentRampRate.Read(m) }

// FieldRampRate returns the field ramp rate in T/min
func (m *MercuryIPS) FieldRampRate() (float64, error) { return qFieldRampRate.Read(m) }

// SetFieldRampRate sets the field ramp rate in T/min
func (m *MercuryIPS) SetFieldRampRate(r float64) error { return qFieldRampRate.Write(m, r) }

// Field returns the output field in T.  Use RampFieldTo to change it.
func (m *MercuryIPS) Field() (float64, error) { return qField.Read(m) }

// FieldPersistent returns the persistent field in T
func (m *MercuryIPS) FieldPersistent() (float64, error) { return qFieldPersistent.Read(m) }

// ATOB returns the current to field ratio in A/T
func (m *MercuryIPS) ATOB() (float64, error) { return qATOB.Read(m) }

// SetATOB sets the current to field ratio in A/T
func (m *MercuryIPS) SetATOB(r float64) error { return qATOB.Write(m, r) }

// Temperature returns the magnet temperature in K
func (m *MercuryIPS) Temperature() (float64, error) { return qTemperature.Read(m) }

// SwitchHeater returns true if the persistent switch heater is on
func (m *MercuryIPS) SwitchHeater() (bool, error) { return qSwitchHeater.Read(m) }

// SetSwitchHeater turns the persistent switch heater on or off.  The switch
// takes HeaterWait to settle; see SwitchHeaterOnAndWait.
func (m *MercuryIPS) SetSwitchHeater(on bool) error { return qSwitchHeater.Write(m, on) }

// RampStatus returns the action of the output
func (m *MercuryIPS) RampStatus() (RampMode, error) {
	s, err := qRampStatus.Read(m)
	return RampMode(s), err
}

// SetRampStatus sets the action of the output.  Prefer RampToTarget and
// RampFieldTo, which handle CLAMP.
func (m *MercuryIPS) SetRampStatus(mode RampMode) error {
	return qRampStatus.Write(m, string(mode))
}

// TemperatureLimit returns the interlock limit in K
func (m *MercuryIPS) TemperatureLimit() float64 {
	m.limitMu.Lock()
	defer m.limitMu.Unlock()
	return m.tLimit
}

// SetTemperatureLimit sets the interlock limit in K.  It may be called while
// a ramp is running and applies from the next poll.
func (m *MercuryIPS) SetTemperatureLimit(limit float64) error {
	if limit <= 0 || math.IsNaN(limit) || math.IsInf(limit, 0) {
		return &ValidationError{Quantity: "temp_limit", Value: limit, Min: 0, Max: math.MaxFloat64}
	}
	m.limitMu.Lock()
	defer m.limitMu.Unlock()
	m.tLimit = limit
	return nil
}

// SwitchHeaterOnAndWait turns the switch heater on if it is off, then waits
// HeaterWait for the switch to settle.  It returns immediately if the heater
// was already on.  The wait is abandoned if ctx is done; the heater stays on.
func (m *MercuryIPS) SwitchHeaterOnAndWait(ctx context.Context) error {
	on, err := m.SwitchHeater()
	if err != nil {
		return err
	}
	if on {
		return nil
	}
	if err := m.SetSwitchHeater(true); err != nil {
		return err
	}
	m.Log.WithField("wait", m.HeaterWait).Info("switch heater on, waiting for the switch to settle")
	timer := time.NewTimer(m.HeaterWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
