package oxford

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/nasa-jpl/magnetlab/util"
)

// Transport is a lock-step, one line in one line out channel to the supply.
// *scpi.SCPI satisfies it.
type Transport interface {
	ReadString(cmd string) (string, error)
}

// Access tags what a quantity supports
type Access int

const (
	// ReadOnly quantities can only be queried
	ReadOnly Access = iota + 1

	// WriteOnly quantities can only be set
	WriteOnly

	// ReadWrite quantities can be queried and set
	ReadWrite
)

// CanRead is true for ReadOnly and ReadWrite
func (a Access) CanRead() bool { return a == ReadOnly || a == ReadWrite }

// CanWrite is true for WriteOnly and ReadWrite
func (a Access) CanWrite() bool { return a == WriteOnly || a == ReadWrite }

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "r"
	case WriteOnly:
		return "w"
	case ReadWrite:
		return "rw"
	}
	return "?"
}

// Codec converts between a reply and a T, and between a T and the payload
// of a SET command
type Codec[T any] struct {
	Decode func(reply string) (T, error)
	Encode func(T) (string, error)
}

// Info is the type-erased description of a quantity
type Info struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Unit   string `json:"unit"`
	Access string `json:"access"`
	Path   string `json:"path"`
}

// Descriptor is a quantity of any value type, for listing and reading by name
type Descriptor interface {
	Info() Info
	ReadAny(Transport) (any, error)
}

// Quantity describes one named value of the supply.  It is immutable; the
// value itself is always fetched from the device.
type Quantity[T any] struct {
	Name  string
	Label string
	Unit  string

	Access Access

	// Addr is the device address, e.g. GRPZ or MB1.T1
	Addr string

	// Leaf is the path below the address, e.g. PSU:SIG:FLD
	Leaf string

	Codec Codec[T]

	// Validate, if not nil, is run before any SET command is built
	Validate func(T) error
}

// Path is DEV:<addr>:<leaf>
func (q Quantity[T]) Path() string {
	return "DEV:" + q.Addr + ":" + q.Leaf
}

// ReadCmd is the query for q
func (q Quantity[T]) ReadCmd() string {
	return "READ:" + q.Path()
}

// WriteCmd is the SET command carrying payload
func (q Quantity[T]) WriteCmd(payload string) string {
	return "SET:" + q.Path() + ":" + payload
}

// Info satisfies Descriptor
func (q Quantity[T]) Info() Info {
	return Info{Name: q.Name, Label: q.Label, Unit: q.Unit, Access: q.Access.String(), Path: q.Path()}
}

// Read sends the query and decodes the reply
func (q Quantity[T]) Read(t Transport) (T, error) {
	var zero T
	if !q.Access.CanRead() {
		return zero, fmt.Errorf("%s: %w", q.Name, ErrNotReadable)
	}
	cmd := q.ReadCmd()
	reply, err := t.ReadString(cmd)
	if err != nil {
		return zero, &CommunicationError{Cmd: cmd, Err: err}
	}
	v, err := q.Codec.Decode(reply)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", q.Name, err)
	}
	return v, nil
}

// ReadAny satisfies Descriptor
func (q Quantity[T]) ReadAny(t Transport) (any, error) {
	return q.Read(t)
}

// Write validates and encodes v, sends it, and checks the acknowledgement.
// Nothing is sent if validation or encoding fails.
func (q Quantity[T]) Write(t Transport, v T) error {
	if !q.Access.CanWrite() {
		return fmt.Errorf("%s: %w", q.Name, ErrNotWritable)
	}
	if q.Validate != nil {
		if err := q.Validate(v); err != nil {
			return err
		}
	}
	payload, err := q.Codec.Encode(v)
	if err != nil {
		return err
	}
	cmd := q.WriteCmd(payload)
	reply, err := t.ReadString(cmd)
	if err != nil {
		return &CommunicationError{Cmd: cmd, Err: err}
	}
	// the supply acknowledges with the echoed command and VALID
	switch status, _ := ParseStatus(reply); status {
	case "INVALID", "N/A", "NOT_FOUND", "DENIED":
		return &RejectedError{Cmd: cmd, Reply: reply}
	}
	return nil
}

// Enum is a closed, bijective mapping between human labels and wire tokens
type Enum struct {
	name    string
	toWire  map[string]string
	toLabel map[string]string
	labels  []string
	tokens  []string
}

// NewEnum builds an Enum from label => token pairs.  Every token must belong
// to exactly one label.
func NewEnum(name string, labelToToken map[string]string) (*Enum, error) {
	if len(labelToToken) == 0 {
		return nil, fmt.Errorf("enum %s: no values", name)
	}
	e := &Enum{
		name:    name,
		toWire:  make(map[string]string, len(labelToToken)),
		toLabel: make(map[string]string, len(labelToToken)),
	}
	for label, token := range labelToToken {
		if label == "" || token == "" {
			return nil, fmt.Errorf("enum %s: empty label or token in %q => %q", name, label, token)
		}
		if other, dup := e.toLabel[token]; dup {
			return nil, fmt.Errorf("enum %s: token %q used by both %q and %q", name, token, other, label)
		}
		e.toWire[label] = token
		e.toLabel[token] = label
		e.labels = append(e.labels, label)
		e.tokens = append(e.tokens, token)
	}
	sort.Strings(e.labels)
	sort.Strings(e.tokens)
	return e, nil
}

// MustEnum is NewEnum that panics, for package level tables
func MustEnum(name string, labelToToken map[string]string) *Enum {
	e, err := NewEnum(name, labelToToken)
	if err != nil {
		panic(err)
	}
	return e
}

// Wire returns the token for label
func (e *Enum) Wire(label string) (string, error) {
	tok, ok := e.toWire[label]
	if !ok {
		return "", &InvalidEnumError{Enum: e.name, Value: label, Allowed: e.labels}
	}
	return tok, nil
}

// Label returns the label for a wire token
func (e *Enum) Label(token string) (string, error) {
	label, ok := e.toLabel[token]
	if !ok {
		return "", &InvalidEnumError{Enum: e.name, Value: token, Allowed: e.tokens}
	}
	return label, nil
}

// Labels returns the sorted labels
func (e *Enum) Labels() []string {
	return append([]string(nil), e.labels...)
}

// magnitude and rate codecs format with four decimals, the same precision
// the supply reports with
var (
	magnitudeCodec = Codec[float64]{Decode: ParseMagnitude, Encode: formatFloat}
	rateCodec      = Codec[float64]{Decode: ParseRate, Encode: formatFloat}
)

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot send non-finite value %v", f)
	}
	return strconv.FormatFloat(f, 'f', 4, 64), nil
}

// EnumCodec decodes a status token to its label and encodes a label to its token
func EnumCodec(e *Enum) Codec[string] {
	return Codec[string]{
		Decode: func(reply string) (string, error) {
			tok, err := ParseStatus(reply)
			if err != nil {
				return "", err
			}
			return e.Label(tok)
		},
		Encode: e.Wire,
	}
}

// OnOffCodec maps ON/OFF tokens to booleans
var OnOffCodec = Codec[bool]{
	Decode: func(reply string) (bool, error) {
		tok, err := ParseStatus(reply)
		if err != nil {
			return false, err
		}
		switch tok {
		case "ON":
			return true, nil
		case "OFF":
			return false, nil
		}
		return false, &InvalidEnumError{Enum: "switch heater", Value: tok, Allowed: []string{"OFF", "ON"}}
	},
	Encode: func(b bool) (string, error) {
		if b {
			return "ON", nil
		}
		return "OFF", nil
	},
}

// InRange returns a validator rejecting values outside l
func InRange(name string, l util.Limiter) func(float64) error {
	return func(f float64) error {
		if !l.Check(f) {
			return &ValidationError{Quantity: name, Value: f, Min: l.Min, Max: l.Max}
		}
		return nil
	}
}
