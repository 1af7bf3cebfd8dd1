// Command mockips serves a mock MercuryiPS over TCP, for trying ipsserver
// and client code without a magnet
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/nasa-jpl/magnetlab/comm"
	"github.com/nasa-jpl/magnetlab/oxford"
)

var log = logrus.New()

func usage() {
	str := `mockips serves a mock MercuryiPS speaking the supply's line protocol

Usage:
	mockips [addr] [heat per step, K]

addr defaults to :7020.  The mock ramps in wall-clock time at its field ramp
rate, and warms the magnet by the heat per step each time the field moves.`
	fmt.Println(str)
}

// handle answers the commands on one connection until it is closed
func handle(conn net.Conn, m *oxford.Mock) {
	defer conn.Close()
	entry := log.WithField("remote", conn.RemoteAddr().String())
	entry.Info("connected")
	term := comm.NewTerminator(conn, '\n', '\n')
	buf := make([]byte, 1024)
	for {
		n, err := term.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				entry.WithError(err).Warn("reading")
			}
			entry.Info("disconnected")
			return
		}
		if n == 0 {
			continue
		}
		cmd := string(buf[:n])
		reply, err := m.ReadString(cmd)
		if err != nil {
			entry.WithError(err).WithField("cmd", cmd).Warn("mock failed")
			return
		}
		entry.WithFields(logrus.Fields{"cmd": cmd, "reply": reply}).Debug("exchange")
		if _, err := term.Write([]byte(reply)); err != nil {
			entry.WithError(err).Warn("writing")
			return
		}
	}
}

// serve accepts connections on ln until it is closed
func serve(ln net.Listener, m *oxford.Mock) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go handle(conn, m)
	}
}

func main() {
	addr := ":" + oxford.DefaultPort
	m := oxford.NewMock()
	args := os.Args[1:]
	if len(args) > 0 {
		if args[0] == "help" || args[0] == "-h" {
			usage()
			return
		}
		addr = args[0]
	}
	if len(args) > 1 {
		heat, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			log.Fatal(err)
		}
		m.HeatPerStep = heat
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal(err)
	}
	log.WithField("addr", ln.Addr().String()).Info("mock supply listening")
	log.Fatal(serve(ln, m))
}
