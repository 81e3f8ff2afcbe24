// Package framer implements the byte-stream ↔ payload transform described in
// spec.md §4.1: messages are delimited by an EOT byte three positions before
// each newline, with two checksum bytes (owned by the codec layer, not this
// package) in between. Framer knows nothing about class payloads or
// checksums — that keeps the transport replaceable and testable in
// isolation, mirroring how the teacher's bridge.framedReader/framedWriter
// stay ignorant of bus message semantics (services/bridge/bridge.go).
package framer

import "gridctl/internal/errcode"

// EOT is the marker byte that must appear three positions before each
// newline in a well-formed stream.
const EOT byte = 0x04

// MaxBuffer is the overflow threshold: a buffer that grows to this size
// without ever finding a delimiter is discarded and a Framing error raised.
const MaxBuffer = 1 << 20 // 1 MiB

// Framer accumulates inbound bytes and emits complete payloads. It holds no
// goroutines or channels of its own — Link drives it synchronously from its
// single reader loop.
type Framer struct {
	buf []byte
}

// New returns an empty Framer.
func New() *Framer {
	return &Framer{buf: make([]byte, 0, 4096)}
}

// Feed appends chunk to the internal buffer and returns every complete
// payload it can now extract, in arrival order. An oversized buffer with no
// delimiter is reset and reported as a Framing error; the caller may
// continue feeding further chunks afterward.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var out [][]byte
	for {
		nl := nextValidDelimiter(f.buf)
		if nl < 0 {
			break
		}
		payload := make([]byte, nl)
		copy(payload, f.buf[:nl])
		out = append(out, payload)
		f.buf = append(f.buf[:0], f.buf[nl+1:]...)
	}

	if len(f.buf) >= MaxBuffer {
		f.buf = f.buf[:0]
		return out, errcode.New(errcode.Framing, "framer.Feed", "buffer overflow with no delimiter")
	}
	return out, nil
}

// Reset discards any partially accumulated bytes, as happens at stream end
// (spec.md §4.1: remaining bytes are discarded, never emitted as a partial
// payload).
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
}

// nextValidDelimiter scans b for the first newline whose preceding three
// bytes end in EOT; newlines that fail the check are part of payload
// content (binary bodies may legitimately contain 0x0A), so scanning simply
// continues past them. Returns -1 if no valid delimiter is present yet.
func nextValidDelimiter(b []byte) int {
	from := 0
	for {
		i := indexByteFrom(b, '\n', from)
		if i < 0 {
			return -1
		}
		if i >= 3 && b[i-3] == EOT {
			return i
		}
		from = i + 1
	}
}

func indexByteFrom(b []byte, c byte, from int) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// EncodeOutbound appends the trivial outbound delimiter (a single newline)
// to a codec-produced frame (spec.md §4.1: "Outbound framing is trivial").
func EncodeOutbound(payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = '\n'
	return out
}
