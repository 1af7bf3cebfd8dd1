/*
Package comm provides the transport plumbing used to talk to lab hardware.

Most usages of this package will boil down to:
 1. build a CreationFunc with BackingOffTCPConnMaker or SerialConnMaker
 2. hand it to NewPool, usually with a size of one so that commands are
    issued in lock-step
 3. for each exchange, Get a connection, wrap it with NewTerminator and
    NewTimeout, write one line and read one line
 4. return the connection with ReturnWithError so that broken
    connections are discarded instead of reused

The scpi package does all of this for devices that speak a line-oriented
ASCII protocol.
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when a wrapper is used after its
	// underlying connection was returned to the pool
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Some instruments do not like being connection
// thrashed, so a refused connection is retried a few times before giving up.
// timeout bounds the dial itself, not the retries.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "no such host") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens the serial port described
// by conf
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Terminator wraps a ReadWriter so that every Write is followed by the Tx
// terminator and every Read returns exactly one message with the Rx
// terminator stripped.
type Terminator struct {
	rw  io.ReadWriter
	br  *bufio.Reader
	tx  byte
	rx  byte
	buf []byte
}

// NewTerminator returns a new Terminator wrapping rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, br: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends b with the Tx terminator appended
func (t *Terminator) Write(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	msg := make([]byte, 0, len(b)+1)
	msg = append(msg, b...)
	msg = append(msg, t.tx)
	n, err := t.rw.Write(msg)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one message up to the Rx terminator into b.  The terminator is
// not copied.  A carriage return preceding a newline terminator is dropped,
// since many devices send CRLF regardless of what they are told.
func (t *Terminator) Read(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	if len(t.buf) == 0 {
		line, err := t.br.ReadBytes(t.rx)
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return 0, ErrTerminatorNotFound
			}
			return 0, err
		}
		line = line[:len(line)-1]
		if t.rx == '\n' && len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		t.buf = line
	}
	n := copy(b, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

// SetDeadline forwards to the wrapped connection, if it supports deadlines
func (t *Terminator) SetDeadline(tm time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetDeadline(tm)
	}
	return nil
}

// Timeout wraps a ReadWriter and refreshes the deadline of the underlying
// connection before every Read and Write
type Timeout struct {
	rw      io.ReadWriter
	d       deadliner
	timeout time.Duration
}

// NewTimeout returns a Timeout wrapping rw.  Connections that cannot set
// deadlines (serial ports, which carry their own ReadTimeout) are returned
// unwrapped.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	return &Timeout{rw: rw, d: d, timeout: timeout}, nil
}

func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.d.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}

func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.d.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}
