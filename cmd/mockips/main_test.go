package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/magnetlab/oxford"
)

func startMock(t *testing.T, m *oxford.Mock) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go serve(ln, m)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestRampOverTCP(t *testing.T) {
	m := oxford.NewMock()
	m.Step = 0.5
	addr := startMock(t, m)

	ips := oxford.NewMercuryIPS(addr, false)
	log, _ := test.NewNullLogger()
	ips.Log = log
	ips.PollInterval = time.Millisecond

	idn, err := ips.Identification()
	require.NoError(t, err)
	assert.Contains(t, idn, "MERCURY IPS")

	res, err := ips.RampFieldTo(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, oxford.Completed, res.Phase)
	assert.InDelta(t, 2.0, res.Final, 1e-9)

	rate, err := ips.CurrentRampRate()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, rate, 1e-9)
}

func TestInterlockOverTCP(t *testing.T) {
	m := oxford.NewMock()
	m.Step = 0.1
	m.HeatPerStep = 0.5
	addr := startMock(t, m)

	ips := oxford.NewMercuryIPS(addr, false)
	log, _ := test.NewNullLogger()
	ips.Log = log
	ips.PollInterval = time.Millisecond

	_, err := ips.RampFieldTo(context.Background(), 3)
	require.ErrorIs(t, err, oxford.ErrTemperatureExceeded)
	mode, err := ips.RampStatus()
	require.NoError(t, err)
	assert.Equal(t, oxford.Hold, mode)
}
