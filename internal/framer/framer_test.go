package framer

import (
	"bytes"
	"testing"

	"gridctl/internal/errcode"
)

// S1 — Framer: a two-message stream emits exactly the two payloads.
func TestFeed_S1(t *testing.T) {
	in := []byte{0x41, 0x04, 0xAA, 0xBB, 0x0A, 0x42, 0x04, 0xCC, 0xDD, 0x0A}
	f := New()
	got, err := f.Feed(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [][]byte{
		{0x41, 0x04, 0xAA, 0xBB},
		{0x42, 0x04, 0xCC, 0xDD},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d payloads, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("payload %d = %x, want %x", i, got[i], want[i])
		}
	}
}

// Arbitrary chunk boundaries must not change the emitted sequence.
func TestFeed_ArbitraryChunkBoundaries(t *testing.T) {
	whole := []byte{0x41, 0x04, 0xAA, 0xBB, 0x0A, 0x42, 0x04, 0xCC, 0xDD, 0x0A}
	for split := 0; split <= len(whole); split++ {
		f := New()
		var got [][]byte
		p1, err := f.Feed(whole[:split])
		if err != nil {
			t.Fatalf("split=%d: %v", split, err)
		}
		got = append(got, p1...)
		p2, err := f.Feed(whole[split:])
		if err != nil {
			t.Fatalf("split=%d: %v", split, err)
		}
		got = append(got, p2...)
		if len(got) != 2 {
			t.Fatalf("split=%d: got %d payloads, want 2", split, len(got))
		}
		if !bytes.Equal(got[0], []byte{0x41, 0x04, 0xAA, 0xBB}) {
			t.Errorf("split=%d: payload 0 mismatch: %x", split, got[0])
		}
		if !bytes.Equal(got[1], []byte{0x42, 0x04, 0xCC, 0xDD}) {
			t.Errorf("split=%d: payload 1 mismatch: %x", split, got[1])
		}
	}
}

// A byte-for-byte split down the middle of a single frame must never emit a
// partial payload before the full frame has arrived.
func TestFeed_NoPartialEmission(t *testing.T) {
	whole := []byte{0x41, 0x42, 0x43, 0x04, 0xAA, 0xBB, 0x0A}
	f := New()
	for i := 0; i < len(whole)-1; i++ {
		got, err := f.Feed(whole[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if len(got) != 0 {
			t.Fatalf("byte %d: emitted early: %x", i, got)
		}
	}
	got, err := f.Feed(whole[len(whole)-1:])
	if err != nil {
		t.Fatalf("final byte: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{0x41, 0x42, 0x43, 0x04, 0xAA, 0xBB}) {
		t.Fatalf("final payload mismatch: %x", got)
	}
}

// A stray newline inside payload content (not preceded by EOT) must not
// truncate the frame.
func TestFeed_EmbeddedNewlineIsContent(t *testing.T) {
	in := []byte{0x01, 0x0A, 0x02, 0x04, 0xAA, 0xBB, 0x0A}
	f := New()
	got, err := f.Feed(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d payloads, want 1: %x", len(got), got)
	}
	want := []byte{0x01, 0x0A, 0x02, 0x04, 0xAA, 0xBB}
	if !bytes.Equal(got[0], want) {
		t.Errorf("payload = %x, want %x", got[0], want)
	}
}

// Oversized buffers with no delimiter raise Framing and reset.
func TestFeed_Overflow(t *testing.T) {
	f := New()
	chunk := bytes.Repeat([]byte{0x55}, MaxBuffer+10)
	_, err := f.Feed(chunk)
	if err == nil {
		t.Fatal("expected Framing error")
	}
	if errcode.Of(err) != errcode.Framing {
		t.Errorf("code = %v, want Framing", errcode.Of(err))
	}
	// Buffer must have been reset: a subsequent well-formed frame emits cleanly.
	got, err := f.Feed([]byte{0x01, 0x04, 0xAA, 0xBB, 0x0A})
	if err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d payloads after reset, want 1", len(got))
	}
}

func TestEncodeOutbound(t *testing.T) {
	got := EncodeOutbound([]byte{0x01, 0x02})
	want := []byte{0x01, 0x02, 0x0A}
	if !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
}
