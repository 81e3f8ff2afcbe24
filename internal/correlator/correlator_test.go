package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"gridctl/internal/wire"
)

type fakeSource struct {
	ch chan wire.DecodedMessage
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan wire.DecodedMessage, 16)}
}

func (f *fakeSource) Subscribe() (<-chan wire.DecodedMessage, func()) {
	return f.ch, func() {}
}

func (f *fakeSource) emit(msg wire.DecodedMessage) { f.ch <- msg }

func TestCorrelator_HeartbeatForksToSinkAndWaiter(t *testing.T) {
	src := newFakeSource()
	var mu sync.Mutex
	var sunk []wire.DecodedMessage
	c := New(src, func(msg wire.DecodedMessage) {
		mu.Lock()
		sunk = append(sunk, msg)
		mu.Unlock()
	})
	defer c.Close()

	waitDone := make(chan struct{})
	var waitErr error
	go func() {
		_, waitErr = c.Await(context.Background(), wire.Filter{Class: "HEARTBEAT"}, time.Second)
		close(waitDone)
	}()
	time.Sleep(20 * time.Millisecond)

	src.emit(wire.DecodedMessage{SX: "0", SY: "0", Class: "HEARTBEAT", Instruction: wire.InstructionReport})

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("Await never resolved")
	}
	if waitErr != nil {
		t.Fatalf("Await: %v", waitErr)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sunk) != 1 {
		t.Fatalf("sink got %d messages, want 1", len(sunk))
	}
}

func TestCorrelator_AllMatchingWaitersResolve(t *testing.T) {
	src := newFakeSource()
	c := New(src, nil)
	defer c.Close()

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Await(context.Background(), wire.Filter{Class: "HEARTBEAT"}, time.Second)
			results <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	src.emit(wire.DecodedMessage{Class: "HEARTBEAT", Instruction: wire.InstructionReport})

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("Await %d: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatal("not all waiters resolved")
		}
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	src := newFakeSource()
	c := New(src, nil)
	defer c.Close()

	_, err := c.Await(context.Background(), wire.Filter{Class: "NOTHING"}, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestCorrelator_CloseCancelsWaiters(t *testing.T) {
	src := newFakeSource()
	c := New(src, nil)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), wire.Filter{Class: "X"}, 5*time.Second)
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never resolved on close")
	}
}
