package wire

import "testing"

// S6 — a message with string BRC/class parameters matches a filter built
// from integers.
func TestFilter_NumericStringEquivalence_S6(t *testing.T) {
	msg := DecodedMessage{
		SX: "0", SY: "-1",
		Class:       "PAGEACTIVE",
		Instruction: InstructionReport,
		Params: map[string]any{
			"PAGENUMBER":     "0",
			"ELEMENTNUMBER":  "1",
			"EVENTTYPE":      "3",
		},
	}
	f := Filter{
		SX: 0, SY: -1,
		Params: map[string]any{
			"PAGENUMBER":    0,
			"ELEMENTNUMBER": 1,
			"EVENTTYPE":     3,
		},
	}
	if !f.Match(msg) {
		t.Fatal("expected filter to match via numeric/string equivalence")
	}
}

func TestFilter_Mismatch(t *testing.T) {
	msg := DecodedMessage{SX: "0", SY: "0", Class: "HEARTBEAT", Instruction: InstructionReport}
	f := Filter{SX: 1}
	if f.Match(msg) {
		t.Fatal("expected mismatch on SX")
	}
}

func TestBRCCodec_RoundTrip(t *testing.T) {
	c := NewBRCCodec()
	d := Descriptor{
		DX: 1, DY: -2,
		Class:       "CONFIG",
		Instruction: InstructionFetch,
		Params: map[string]any{
			"PAGENUMBER":    0,
			"ELEMENTNUMBER": 3,
			"EVENTTYPE":     1,
			"ACTIONLENGTH":  0,
		},
	}
	encoded, err := c.EncodePacket(d)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msgs, err := c.DecodePacketFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Class != "CONFIG" || m.Instruction != InstructionFetch {
		t.Errorf("class/instruction mismatch: %+v", m)
	}
	if n, ok := m.Int("PAGENUMBER"); !ok || n != 0 {
		t.Errorf("PAGENUMBER = %v,%v", n, ok)
	}
	if n, ok := m.Int("ELEMENTNUMBER"); !ok || n != 3 {
		t.Errorf("ELEMENTNUMBER = %v,%v", n, ok)
	}
}

func TestBRCCodec_ChecksumMismatchRejected(t *testing.T) {
	c := NewBRCCodec()
	encoded, _ := c.EncodePacket(Descriptor{Class: "PING", Instruction: InstructionExecute})
	encoded[len(encoded)-1] ^= 0xFF
	if _, err := c.DecodePacketFrame(encoded); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}
