// Package wire defines the message shapes the rest of the engine operates
// on — Descriptor (outbound), DecodedMessage (inbound) and Filter — plus
// the PacketCodec contract that the lower-level packet byte-layout
// collaborator must satisfy. Nothing in this package knows about serial
// ports; byte encodings and checksums live behind PacketCodec (see
// codec.go), whose reference implementation is BRCCodec (brc.go).
package wire

import (
	"fmt"
	"strconv"
)

// Instruction is one of the four wire instruction verbs.
type Instruction string

const (
	InstructionExecute     Instruction = "EXECUTE"
	InstructionFetch       Instruction = "FETCH"
	InstructionReport      Instruction = "REPORT"
	InstructionAcknowledge Instruction = "ACKNOWLEDGE"
)

// BroadcastX and BroadcastY address every module on the chain.
const (
	BroadcastX int8 = -127
	BroadcastY int8 = -127
)

// Descriptor is a request built by the Device layer and handed to a
// PacketCodec for byte encoding. DX/DY address the target module (or the
// broadcast address). Params carries typed class parameters: each value is
// either a string, an int, or an int64.
type Descriptor struct {
	DX          int8
	DY          int8
	Class       string
	Instruction Instruction
	Params      map[string]any
}

// Validate checks the parameter bounds spec.md §6 requires before a
// Descriptor is handed to the codec.
func (d Descriptor) Validate() error {
	if d.DX < -127 || d.DX > 127 || d.DY < -127 || d.DY > 127 {
		return fmt.Errorf("dx/dy out of range: (%d,%d)", d.DX, d.DY)
	}
	for _, k := range []string{"PAGENUMBER", "ELEMENTNUMBER", "EVENTTYPE"} {
		v, present := d.Params[k]
		if !present {
			continue
		}
		if n, ok := asInt64(v); !ok || n < 0 || n > 255 {
			return fmt.Errorf("%s out of range 0-255: %v", k, v)
		}
	}
	return nil
}

// DecodedMessage is one class record produced by decoding an inbound frame.
// SX/SY and the class parameter values are untyped (string or number) because
// the device emits a mix of both; Filter matching treats numeric and
// numeric-string values as equal (spec.md §3, Filter; §8 property 5).
type DecodedMessage struct {
	SX          any
	SY          any
	Class       string
	Instruction Instruction
	Params      map[string]any
}

// Int returns the message parameter named key as an int64, accepting either
// a numeric or numeric-string representation. ok is false if the key is
// absent or not numeric.
func (m DecodedMessage) Int(key string) (int64, bool) {
	v, present := m.Params[key]
	if !present {
		return 0, false
	}
	return asInt64(v)
}

// String returns the message parameter named key as a string, stringifying
// numeric values if necessary.
func (m DecodedMessage) String(key string) (string, bool) {
	v, present := m.Params[key]
	if !present {
		return "", false
	}
	return asString(v), true
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int8:
		return strconv.Itoa(int(t))
	case int32:
		return strconv.Itoa(int(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Filter selects matching DecodedMessages. Every non-nil/non-empty field
// must match; a zero-value Filter matches everything.
type Filter struct {
	SX          any // nil = don't care
	SY          any
	Class       string // "" = don't care
	Instruction Instruction // "" = don't care
	Params      map[string]any // subset match: every key must be present and equal
}

// Match reports whether msg satisfies f, with numeric/numeric-string
// equivalence on every compared value (spec.md §8 property 5).
func (f Filter) Match(msg DecodedMessage) bool {
	if f.SX != nil && !valuesEqual(f.SX, msg.SX) {
		return false
	}
	if f.SY != nil && !valuesEqual(f.SY, msg.SY) {
		return false
	}
	if f.Class != "" && f.Class != msg.Class {
		return false
	}
	if f.Instruction != "" && f.Instruction != msg.Instruction {
		return false
	}
	for k, want := range f.Params {
		got, present := msg.Params[k]
		if !present || !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual implements the numeric ≡ numeric-string equivalence spec.md
// §3/§8 requires: 0 == "0", -1 == "-1", but "foo" != "bar" falls through to
// plain equality.
func valuesEqual(a, b any) bool {
	if a == b {
		return true
	}
	an, aok := asInt64(a)
	bn, bok := asInt64(b)
	if aok && bok {
		return an == bn
	}
	return asString(a) == asString(b)
}
