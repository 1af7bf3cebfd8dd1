package comm_test

import (
	"bytes"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/magnetlab/comm"
)

func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "could not listen, test aborted")
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func countingMaker(addr string, made *int32) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		atomic.AddInt32(made, 1)
		return net.Dial("tcp", addr)
	}
}

func TestPoolFillsToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(3, time.Second, countingMaker(addr, &made))
	for i := 0; i < 3; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pool.Active())
	assert.Equal(t, int32(3), atomic.LoadInt32(&made))
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(3, time.Second, countingMaker(addr, &made))
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&made))
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, 0, pool.Active())
}

func TestPoolReclaimsIdleConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(2, 10*time.Millisecond, countingMaker(addr, &made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.Put(conn)
	assert.Eventually(t, func() bool { return pool.Size() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPoolMaintainsSize(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(2, time.Second, countingMaker(addr, &made))
	for i := 0; i < 2; i++ {
		_, err := pool.Get()
		require.NoError(t, err)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	select {
	case <-got:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReturnWithErrorDestroys(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(1, time.Second, countingMaker(addr, &made))
	conn, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	assert.Equal(t, 0, pool.Size())

	conn, err = pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(conn, nil)
	assert.Equal(t, int32(2), atomic.LoadInt32(&made))
	assert.Equal(t, 1, pool.Size())
}

func TestTerminatorRoundTripOverTCP(t *testing.T) {
	addr := tcpEchoServer(t)
	pool := comm.NewPool(1, time.Second, comm.BackingOffTCPConnMaker(addr, time.Second))
	conn, err := pool.Get()
	require.NoError(t, err)
	defer pool.Put(conn)

	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), time.Second)
	require.NoError(t, err)
	_, err = io.WriteString(wrap, "READ:DEV:GRPZ:PSU:SIG:FLD")
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "READ:DEV:GRPZ:PSU:SIG:FLD", string(buf[:n]))
}

func TestTerminatorStripsCRLF(t *testing.T) {
	rw := &struct {
		io.Reader
		io.Writer
	}{bytes.NewBufferString("STAT:DEV:GRPZ:PSU:ACTN:HOLD\r\nleftover"), io.Discard}
	term := comm.NewTerminator(rw, '\n', '\n')
	buf := make([]byte, 64)
	n, err := term.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "STAT:DEV:GRPZ:PSU:ACTN:HOLD", string(buf[:n]))

	_, err = term.Read(buf)
	assert.ErrorIs(t, err, comm.ErrTerminatorNotFound)
}

func TestTerminatorAppendsTx(t *testing.T) {
	var out bytes.Buffer
	rw := &struct {
		io.Reader
		io.Writer
	}{&bytes.Buffer{}, &out}
	term := comm.NewTerminator(rw, '\n', '\n')
	n, err := io.WriteString(term, "*IDN?")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "*IDN?\n", out.String())
}

func TestPacedPoolSpacesExchanges(t *testing.T) {
	addr := tcpEchoServer(t)
	var made int32
	pool := comm.NewPool(1, time.Second, countingMaker(addr, &made))
	pool.Pace(50) // 20 ms between exchanges
	start := time.Now()
	for i := 0; i < 4; i++ {
		conn, err := pool.Get()
		require.NoError(t, err)
		pool.Put(conn)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
