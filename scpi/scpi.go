// Package scpi provides primitives for working with devices that
// have SCPI-like line interfaces, where every command, query or not,
// is answered with exactly one line
package scpi

import (
	"io"
	"strings"
	"time"

	"github.com/nasa-jpl/magnetlab/comm"
)

const (
	// DefaultTimeout is used when SCPI.Timeout is zero
	DefaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Timeout bounds each read and write on a network connection
	Timeout time.Duration

	// Terminator ends every message in both directions, '\n' if zero
	Terminator byte
}

func (s *SCPI) term() byte {
	if s.Terminator == 0 {
		return '\n'
	}
	return s.Terminator
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// WriteRead sends one command and reads one reply.  The connection is
// discarded if either half of the exchange fails, so a late reply can never
// be mistaken for the answer to the next command.
func (s *SCPI) WriteRead(cmd string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return resp, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap = comm.NewTerminator(conn, s.term(), s.term())
	wrap, err = comm.NewTimeout(wrap, s.timeout())
	if err != nil {
		return resp, err
	}
	_, err = io.WriteString(wrap, cmd)
	if err != nil {
		return resp, err
	}
	buf := make([]byte, tcpFrameSize)
	var n int
	n, err = wrap.Read(buf)
	if err != nil {
		return resp, err
	}
	resp = buf[:n]
	return resp, nil
}

// ReadString sends a command to the device, then reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmd string) (string, error) {
	resp, err := s.WriteRead(cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r\n"), nil
}

// Raw sends a command to the device and returns its response verbatim
func (s *SCPI) Raw(str string) (string, error) {
	return s.ReadString(str)
}
