package oxford

import (
	"math"
	"strconv"
	"strings"
)

// Replies echo the command path, then append the payload as the last
// segment, e.g. STAT:DEV:GRPZ:PSU:SIG:FLD:1.2500T.  Plain magnitudes carry a
// single character unit, rates a three character one (A/m, T/m, A/T).
const (
	delimiter = ":"

	magnitudeSuffixLen = 1
	rateSuffixLen      = 3
)

func payload(reply string) string {
	idx := strings.LastIndex(reply, delimiter)
	return reply[idx+1:]
}

// ParseStatus returns the final segment of a reply verbatim, e.g. HOLD, ON, RTOS
func ParseStatus(reply string) (string, error) {
	p := payload(strings.TrimSpace(reply))
	if p == "" {
		return "", &ParseError{Reply: reply, Reason: "empty payload"}
	}
	return p, nil
}

// ParseMagnitude decodes a reply ending in <number><unit char>
func ParseMagnitude(reply string) (float64, error) {
	return parseSuffixed(reply, magnitudeSuffixLen)
}

// ParseRate decodes a reply ending in <number><three char unit>
func ParseRate(reply string) (float64, error) {
	return parseSuffixed(reply, rateSuffixLen)
}

func parseSuffixed(reply string, suffix int) (float64, error) {
	p := payload(strings.TrimSpace(reply))
	if len(p) <= suffix {
		return 0, &ParseError{Reply: reply, Reason: "payload " + strconv.Quote(p) + " shorter than expected"}
	}
	f, err := strconv.ParseFloat(p[:len(p)-suffix], 64)
	if err != nil {
		return 0, &ParseError{Reply: reply, Reason: "payload is not numeric", Err: err}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, &ParseError{Reply: reply, Reason: "payload is not finite"}
	}
	return f, nil
}
