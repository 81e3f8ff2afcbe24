package wire

import (
	"fmt"
	"strconv"
	"strings"

	"gridctl/internal/errcode"
)

// BRCCodec is the reference PacketCodec implementation. The real packet
// byte-layout (class tags, BRC broadcast-header encoding) is named in
// spec.md §1 as an external collaborator outside this core's scope; BRCCodec
// exists so the engine is runnable and testable end-to-end without that
// vendor component, using a simple pipe-delimited text encoding with a
// checksum tail in the shape spec.md §3(f) requires: payload ends in
// EOT, c0, c1 before the framer's newline.
type BRCCodec struct{}

// NewBRCCodec returns the reference codec.
func NewBRCCodec() BRCCodec { return BRCCodec{} }

const (
	classSep   = ";;"
	fieldSep   = "|"
	headerTag  = "BRC"

	// EOT marks the start of the two-byte checksum tail.
	EOT byte = 0x04
)

// EncodePacket renders one Descriptor as "BRC|dx|dy|class|instruction|k=v|..."
// followed by an EOT byte and a two-byte checksum. No trailing newline — that
// is the Framer's job (spec.md §4.1).
func (BRCCodec) EncodePacket(d Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, errcode.Wrap(errcode.Protocol, "BRCCodec.EncodePacket", err)
	}
	fields := []string{headerTag, strconv.Itoa(int(d.DX)), strconv.Itoa(int(d.DY)), d.Class, string(d.Instruction)}
	for _, k := range sortedKeys(d.Params) {
		fields = append(fields, k+"="+stringifyParam(d.Params[k]))
	}
	body := []byte(strings.Join(fields, fieldSep))
	c0, c1 := checksum(body)
	out := make([]byte, 0, len(body)+3)
	out = append(out, body...)
	out = append(out, EOT, c0, c1)
	return out, nil
}

// DecodePacketFrame parses a Framer-emitted payload (including its EOT +
// checksum tail) into one or more class records. Segments within a single
// frame are separated by ";;".
func (BRCCodec) DecodePacketFrame(payload []byte) ([]DecodedMessage, error) {
	if len(payload) < 3 {
		return nil, errcode.New(errcode.Protocol, "BRCCodec.DecodePacketFrame", "payload too short for EOT+checksum tail")
	}
	n := len(payload)
	if payload[n-3] != EOT {
		return nil, errcode.New(errcode.Protocol, "BRCCodec.DecodePacketFrame", "missing EOT marker in tail")
	}
	body := payload[:n-3]
	wantC0, wantC1 := payload[n-2], payload[n-1]
	gotC0, gotC1 := checksum(body)
	if gotC0 != wantC0 || gotC1 != wantC1 {
		return nil, errcode.New(errcode.Protocol, "BRCCodec.DecodePacketFrame", "checksum mismatch")
	}

	var out []DecodedMessage
	for _, seg := range strings.Split(string(body), classSep) {
		if seg == "" {
			continue
		}
		msg, err := decodeSegment(seg)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeSegment(seg string) (DecodedMessage, error) {
	fields := strings.Split(seg, fieldSep)
	if len(fields) < 5 || fields[0] != headerTag {
		return DecodedMessage{}, errcode.New(errcode.Protocol, "BRCCodec.decodeSegment", "malformed class record: "+seg)
	}
	msg := DecodedMessage{
		SX:          fields[1],
		SY:          fields[2],
		Class:       fields[3],
		Instruction: Instruction(fields[4]),
		Params:      map[string]any{},
	}
	for _, kv := range fields[5:] {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return DecodedMessage{}, errcode.New(errcode.Protocol, "BRCCodec.decodeSegment", "malformed parameter: "+kv)
		}
		msg.Params[parts[0]] = parts[1]
	}
	return msg, nil
}

func stringifyParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort: parameter maps are small (a handful of fields)
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// checksum is a trivial fold of body into two bytes. The real checksum
// algorithm is owned by the external codec per spec.md §3(f); this
// reference implementation only needs internal consistency between its own
// encode and decode sides.
func checksum(body []byte) (byte, byte) {
	var a, b byte
	for i, c := range body {
		if i%2 == 0 {
			a ^= c
		} else {
			b ^= c
		}
		a = a + c
	}
	return a, b
}
