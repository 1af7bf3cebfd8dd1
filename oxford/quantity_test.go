package oxford

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumIsBijective(t *testing.T) {
	for _, label := range RampModes.Labels() {
		tok, err := RampModes.Wire(label)
		require.NoError(t, err)
		back, err := RampModes.Label(tok)
		require.NoError(t, err)
		assert.Equal(t, label, back)
	}
	assert.Equal(t, []string{"CLAMP", "HOLD", "TO SET", "TO ZERO"}, RampModes.Labels())
}

func TestEnumRejectsUnknown(t *testing.T) {
	var eerr *InvalidEnumError
	_, err := RampModes.Wire("RAMP")
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, "RAMP", eerr.Value)
	_, err = RampModes.Label("TO SET")
	assert.ErrorAs(t, err, &eerr, "labels are not tokens")
}

func TestNewEnumRejectsDuplicateTokens(t *testing.T) {
	_, err := NewEnum("bad", map[string]string{"A": "X", "B": "X"})
	assert.Error(t, err)
	_, err = NewEnum("empty", nil)
	assert.Error(t, err)
	assert.Panics(t, func() { MustEnum("bad", map[string]string{"A": ""}) })
}

func TestWriteOutOfRangeSendsNothing(t *testing.T) {
	m, s := scripted()
	err := m.SetFieldTarget(8.0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 8.0, verr.Value)
	assert.Equal(t, -7.0, verr.Min)
	assert.Equal(t, 7.0, verr.Max)
	assert.Empty(t, s.sent)

	_, err = m.RampFieldTo(context.Background(), -7.5)
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, s.sent)
}

func TestWriteNonFiniteSendsNothing(t *testing.T) {
	m, s := scripted()
	assert.Error(t, m.SetFieldRampRate(math.Inf(1)))
	assert.Error(t, m.SetATOB(math.NaN()))
	assert.Empty(t, s.sent)
}

func TestWriteFormatsFourDecimals(t *testing.T) {
	m, s := scripted(set(pFSET, "1.2346"), set("DEV:GRPZ:PSU:SIG:RFST", "0.1000"))
	require.NoError(t, m.SetFieldTarget(1.23456))
	require.NoError(t, m.SetFieldRampRate(0.1))
	assert.Empty(t, s.steps)
}

func TestWriteRejected(t *testing.T) {
	m, _ := scripted(exchange{
		cmd:   "SET:" + pACTN + ":RTOS",
		reply: "STAT:SET:" + pACTN + ":RTOS:INVALID",
	})
	err := m.SetRampStatus(ToSet)
	var rerr *RejectedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "SET:"+pACTN+":RTOS", rerr.Cmd)
}

func TestWriteUnknownLabelSendsNothing(t *testing.T) {
	m, s := scripted()
	var eerr *InvalidEnumError
	assert.ErrorAs(t, m.SetRampStatus("RAMP"), &eerr)
	assert.Empty(t, s.sent)
}

func TestReadCommunicationError(t *testing.T) {
	boom := errors.New("boom")
	m, _ := scripted(exchange{cmd: "READ:" + pFLD, err: boom})
	_, err := m.Field()
	var cerr *CommunicationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "READ:"+pFLD, cerr.Cmd)
	assert.ErrorIs(t, err, boom)
}

func TestAccessEnforced(t *testing.T) {
	q := Quantity[float64]{Name: "voltage", Access: ReadOnly, Addr: psuAddr, Leaf: "PSU:SIG:VOLT", Codec: magnitudeCodec}
	m, s := scripted()
	assert.ErrorIs(t, q.Write(m, 1), ErrNotWritable)
	w := Quantity[float64]{Name: "w", Access: WriteOnly, Addr: psuAddr, Leaf: "X", Codec: magnitudeCodec}
	_, err := w.Read(m)
	assert.ErrorIs(t, err, ErrNotReadable)
	assert.Empty(t, s.sent)
}

func TestReadByName(t *testing.T) {
	m, _ := scripted(
		read(pTEMP, "4.2000K"),
		read(pSWHT, "ON"),
		read(pACTN, "RTOZ"),
	)
	v, err := m.Read("temp")
	require.NoError(t, err)
	assert.Equal(t, 4.2, v)
	v, err = m.Read("switch_heater")
	require.NoError(t, err)
	assert.Equal(t, true, v)
	v, err = m.Read("ramp_status")
	require.NoError(t, err)
	assert.Equal(t, "TO ZERO", v)

	var eerr *InvalidEnumError
	_, err = m.Read("flux")
	assert.ErrorAs(t, err, &eerr)
}

func TestRegistry(t *testing.T) {
	assert.Len(t, Names(), 13)
	info := Registry["field_target"].Info()
	assert.Equal(t, "T", info.Unit)
	assert.Equal(t, "rw", info.Access)
	assert.Equal(t, pFSET, info.Path)
	assert.Equal(t, pTEMP, Registry["temp"].Info().Path)
}

func TestSwitchHeaterBadToken(t *testing.T) {
	m, _ := scripted(read(pSWHT, "WARM"))
	_, err := m.SwitchHeater()
	var eerr *InvalidEnumError
	assert.ErrorAs(t, err, &eerr)
}

func TestTemperatureLimit(t *testing.T) {
	m, _ := scripted()
	assert.Equal(t, DefaultTemperatureLimit, m.TemperatureLimit())
	require.NoError(t, m.SetTemperatureLimit(4.5))
	assert.Equal(t, 4.5, m.TemperatureLimit())
	var verr *ValidationError
	assert.ErrorAs(t, m.SetTemperatureLimit(0), &verr)
	assert.ErrorAs(t, m.SetTemperatureLimit(math.NaN()), &verr)
	assert.Equal(t, 4.5, m.TemperatureLimit())
}

func TestWithDefaultPort(t *testing.T) {
	assert.Equal(t, "192.168.100.10:7020", withDefaultPort("192.168.100.10"))
	assert.Equal(t, "192.168.100.10:2006", withDefaultPort("192.168.100.10:2006"))
	assert.Equal(t, "ips.lab:7020", withDefaultPort("ips.lab"))
	assert.Equal(t, "ips:7020", withDefaultPort("ips"))
}
