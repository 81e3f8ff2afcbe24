package link

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"gridctl/internal/wire"
)

// pipePort is an in-memory RawPort over an io.Pipe, standing in for a real
// serial device in tests (bus_test.go in the teacher repo uses an
// equivalent in-memory channel fake rather than real hardware).
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written [][]byte
}

func newPipePort() (*pipePort, *io.PipeWriter) {
	pr, pw := io.Pipe()
	feed, feedW := io.Pipe()
	p := &pipePort{r: pr, w: feedW}
	go io.Copy(pw, feed)
	return p, feedW
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	cp := append([]byte(nil), b...)
	p.written = append(p.written, cp)
	p.mu.Unlock()
	return len(b), nil
}
func (p *pipePort) Close() error {
	p.r.Close()
	return nil
}

func newTestLink(t *testing.T) (*Link, *io.PipeWriter, *pipePort) {
	t.Helper()
	port, feedW := newPipePort()
	l, err := Open(Options{
		Path:  "test",
		Codec: wire.NewBRCCodec(),
		Dial:  func(string) (RawPort, error) { return port, nil },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, feedW, port
}

func frameMessage(t *testing.T, d wire.Descriptor) []byte {
	t.Helper()
	codec := wire.NewBRCCodec()
	payload, err := codec.EncodePacket(d)
	if err != nil {
		t.Fatalf("EncodePacket: %v", err)
	}
	out := make([]byte, len(payload)+1)
	copy(out, payload)
	out[len(payload)] = '\n'
	return out
}

func TestLink_AwaitMessage_MatchesPredicate(t *testing.T) {
	l, feedW, _ := newTestLink(t)

	go func() {
		feedW.Write(frameMessage(t, wire.Descriptor{Class: "HEARTBEAT", Instruction: wire.InstructionReport}))
	}()

	msg, err := l.AwaitMessage(context.Background(), func(m wire.DecodedMessage) bool {
		return m.Class == "HEARTBEAT"
	}, time.Second)
	if err != nil {
		t.Fatalf("AwaitMessage: %v", err)
	}
	if msg.Class != "HEARTBEAT" {
		t.Errorf("class = %q", msg.Class)
	}
}

func TestLink_AwaitMessage_Timeout(t *testing.T) {
	l, _, _ := newTestLink(t)
	_, err := l.AwaitMessage(context.Background(), func(wire.DecodedMessage) bool { return false }, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestLink_AwaitMessage_FirstMatchConsumes(t *testing.T) {
	l, feedW, _ := newTestLink(t)

	results := make(chan wire.DecodedMessage, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			m, err := l.AwaitMessage(context.Background(), func(m wire.DecodedMessage) bool {
				return m.Class == "PING"
			}, time.Second)
			if err != nil {
				errs <- err
				return
			}
			results <- m
		}()
	}
	time.Sleep(20 * time.Millisecond) // let both waiters register
	feedW.Write(frameMessage(t, wire.Descriptor{Class: "PING", Instruction: wire.InstructionExecute}))

	select {
	case <-results:
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("no waiter resolved")
	}
}

func TestLink_Subscribe_ReceivesBroadcast(t *testing.T) {
	l, feedW, _ := newTestLink(t)
	ch, cancel := l.Subscribe()
	defer cancel()

	feedW.Write(frameMessage(t, wire.Descriptor{Class: "CONFIG", Instruction: wire.InstructionFetch}))

	select {
	case msg := <-ch:
		if msg.Class != "CONFIG" {
			t.Errorf("class = %q", msg.Class)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestLink_Write_FramesOutbound(t *testing.T) {
	l, _, port := newTestLink(t)
	if err := l.Write([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.written) != 1 {
		t.Fatalf("got %d writes, want 1", len(port.written))
	}
	want := []byte{0x01, 0x02, '\n'}
	got := port.written[0]
	if len(got) != len(want) {
		t.Fatalf("got %x, want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %x, want %x", got, want)
		}
	}
}

func TestLink_Close_CancelsWaiters(t *testing.T) {
	l, _, _ := newTestLink(t)
	errs := make(chan error, 1)
	go func() {
		_, err := l.AwaitMessage(context.Background(), func(wire.DecodedMessage) bool { return false }, 5*time.Second)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	l.Close()
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved on close")
	}
}
