package oxford

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMagnitude(t *testing.T) {
	cases := map[string]float64{
		"READ:DEV:GRPZ:PSU:SIG:FLD:1.2500T":        1.25,
		"STAT:DEV:GRPZ:PSU:SIG:VOLT:-0.0125V":      -0.0125,
		"STAT:DEV:MB1.T1:TEMP:SIG:TEMP:4.2153K":    4.2153,
		"STAT:DEV:GRPZ:PSU:SIG:CURR:123.0000A\r\n": 123,
		"STAT:DEV:GRPZ:PSU:SIG:FSET:7T":            7,
	}
	for reply, want := range cases {
		got, err := ParseMagnitude(reply)
		require.NoError(t, err, reply)
		assert.Equal(t, want, got, reply)
	}
}

func TestParseMagnitudeAnyNumber(t *testing.T) {
	for _, f := range []float64{0, -7, 7, 0.0001, 1e-3, 6.9999, -3.25} {
		reply := "STAT:DEV:GRPZ:PSU:SIG:FLD:" + strconv.FormatFloat(f, 'f', -1, 64) + "T"
		got, err := ParseMagnitude(reply)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}

func TestParseRate(t *testing.T) {
	cases := map[string]float64{
		"STAT:DEV:GRPZ:PSU:SIG:RCST:0.0500A/m": 0.05,
		"STAT:DEV:GRPZ:PSU:SIG:RFST:0.2000T/m": 0.2,
		"STAT:DEV:GRPZ:PSU:ATOB:9.8760A/T":     9.876,
	}
	for reply, want := range cases {
		got, err := ParseRate(reply)
		require.NoError(t, err, reply)
		assert.Equal(t, want, got, reply)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("STAT:DEV:GRPZ:PSU:ACTN:HOLD")
	require.NoError(t, err)
	assert.Equal(t, "HOLD", s)

	label, err := RampModes.Label(s)
	require.NoError(t, err)
	tok, err := RampModes.Wire(label)
	require.NoError(t, err)
	assert.Equal(t, "HOLD", tok)
}

func TestParseErrors(t *testing.T) {
	var perr *ParseError
	_, err := ParseMagnitude("STAT:DEV:GRPZ:PSU:SIG:FLD:T")
	require.ErrorAs(t, err, &perr)

	_, err = ParseMagnitude("STAT:DEV:GRPZ:PSU:SIG:FLD:NOT_FOUND")
	require.ErrorAs(t, err, &perr)
	var nerr *strconv.NumError
	assert.ErrorAs(t, err, &nerr)

	_, err = ParseRate("STAT:DEV:GRPZ:PSU:SIG:RCST:A/m")
	assert.ErrorAs(t, err, &perr)

	_, err = ParseStatus("STAT:DEV:GRPZ:PSU:ACTN:")
	assert.ErrorAs(t, err, &perr)
}

func TestParseRejectsNonFinite(t *testing.T) {
	for _, reply := range []string{
		"STAT:DEV:GRPZ:PSU:SIG:FLD:NaNT",
		"STAT:DEV:GRPZ:PSU:SIG:FLD:-InfT",
		"STAT:DEV:MB1.T1:TEMP:SIG:TEMP:+InfK",
	} {
		var perr *ParseError
		_, err := ParseMagnitude(reply)
		require.ErrorAs(t, err, &perr, reply)
		assert.Equal(t, "payload is not finite", perr.Reason)
	}
	var perr *ParseError
	_, err := ParseRate("STAT:DEV:GRPZ:PSU:SIG:RFST:InfT/m")
	assert.ErrorAs(t, err, &perr)
}
