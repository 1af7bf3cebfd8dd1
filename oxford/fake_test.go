package oxford

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus/hooks/test"
)

// exchange is one expected command and the reply to give it
type exchange struct {
	cmd   string
	reply string
	err   error
}

// script is a Transport that replays a fixed conversation and fails on the
// first command it did not expect
type script struct {
	steps []exchange
	sent  []string
}

func (s *script) ReadString(cmd string) (string, error) {
	s.sent = append(s.sent, cmd)
	if len(s.steps) == 0 {
		return "", fmt.Errorf("unexpected command %q after the end of the script", cmd)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.cmd != cmd {
		return "", fmt.Errorf("expected %q, got %q", step.cmd, cmd)
	}
	return step.reply, step.err
}

// read is the exchange for a query answered with payload
func read(path, payload string) exchange {
	return exchange{cmd: "READ:" + path, reply: "STAT:" + path + ":" + payload}
}

// set is the exchange for a SET acknowledged VALID
func set(path, value string) exchange {
	rest := path + ":" + value
	return exchange{cmd: "SET:" + rest, reply: "STAT:SET:" + rest + ":VALID"}
}

const (
	pSWHT = "DEV:GRPZ:PSU:SIG:SWHT"
	pFLD  = "DEV:GRPZ:PSU:SIG:FLD"
	pFSET = "DEV:GRPZ:PSU:SIG:FSET"
	pACTN = "DEV:GRPZ:PSU:ACTN"
	pTEMP = "DEV:MB1.T1:TEMP:SIG:TEMP"
)

func scripted(steps ...exchange) (*MercuryIPS, *script) {
	s := &script{steps: steps}
	m := New(s)
	m.PollInterval = 0
	log, _ := test.NewNullLogger()
	m.Log = log
	return m, s
}

func writes(sent []string) []string {
	var out []string
	for _, c := range sent {
		if strings.HasPrefix(c, "SET:") {
			out = append(out, c)
		}
	}
	return out
}
