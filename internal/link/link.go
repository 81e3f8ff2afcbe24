// Package link owns the open serial port and turns its byte stream into a
// DecodedMessage event stream, offering the single primitive spec.md §4.2
// names: await the next message matching a predicate within a deadline.
// Structurally this is the teacher's uartio.Worker (bounded reader goroutine
// over a port, services/hal/internal/uartio/uart_worker.go) fused with
// bridge.Service's dial/backoff/lifecycle idiom (services/bridge/bridge.go),
// generalized from a TinyGo UART to a host serial port.
package link

import (
	"context"
	"io"
	"sync"
	"time"

	"gridctl/internal/errcode"
	"gridctl/internal/framer"
	"gridctl/internal/wire"
)

// RawPort is the minimal byte-stream contract Link needs from a transport.
// The real implementation opens a host serial device (see serial_linux.go);
// tests substitute an in-memory pipe.
type RawPort interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a RawPort for a given device path. DefaultDialer opens a real
// serial port at 2,000,000 baud, 8-N-1 (spec.md §6); tests inject a fake.
type Dialer func(path string) (RawPort, error)

// Predicate tests whether a DecodedMessage satisfies some caller's interest.
type Predicate func(wire.DecodedMessage) bool

type waiter struct {
	pred   Predicate
	result chan waitResult
}

type waitResult struct {
	msg wire.DecodedMessage
	err error
}

// Options configures a Link.
type Options struct {
	Path  string
	Codec wire.PacketCodec
	Dial  Dialer // nil uses DefaultDialer
}

// Link is the stateful façade over one open serial port. All signal
// dispatch and waiter resolution happens on the single readLoop goroutine —
// logically single-threaded per spec.md §5.
type Link struct {
	codec wire.PacketCodec
	port  RawPort

	mu        sync.Mutex
	closing   bool
	waiters   []*waiter
	subs      map[int]chan wire.DecodedMessage
	nextSubID int

	errOnce sync.Once
	lastErr error
	done    chan struct{}
}

// Open dials the port and starts the read loop. On dial failure no
// resources are retained (spec.md §4.2: "If open fails, release all
// partially-acquired resources deterministically").
func Open(opts Options) (*Link, error) {
	dial := opts.Dial
	if dial == nil {
		dial = DefaultDialer
	}
	port, err := dial(opts.Path)
	if err != nil {
		return nil, errcode.Wrap(errcode.Connection, "link.Open", err)
	}
	l := &Link{
		codec: opts.Codec,
		port:  port,
		subs:  map[int]chan wire.DecodedMessage{},
		done:  make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *Link) readLoop() {
	defer close(l.done)
	fr := framer.New()
	buf := make([]byte, 4096)
	for {
		n, err := l.port.Read(buf)
		if n > 0 {
			payloads, ferr := fr.Feed(buf[:n])
			for _, p := range payloads {
				l.dispatch(p)
			}
			if ferr != nil {
				l.recordErr(errcode.Wrap(errcode.Framing, "link.readLoop", ferr))
			}
		}
		if err != nil {
			if err != io.EOF {
				l.recordErr(errcode.Wrap(errcode.Connection, "link.readLoop", err))
			}
			fr.Reset()
			l.shutdown()
			return
		}
		l.mu.Lock()
		closing := l.closing
		l.mu.Unlock()
		if closing {
			return
		}
	}
}

func (l *Link) dispatch(payload []byte) {
	msgs, err := l.codec.DecodePacketFrame(payload)
	if err != nil {
		l.recordErr(errcode.Wrap(errcode.Protocol, "link.dispatch", err))
		return
	}
	for _, msg := range msgs {
		l.resolveWaiter(msg)
		l.broadcast(msg)
	}
}

// resolveWaiter implements Link's own single-consumer semantics (spec.md
// §4.2: "the first matching waiter (in registration order) consumes a
// message"). This is distinct from, and simpler than, the Correlator's
// multi-match semantics built atop Subscribe.
func (l *Link) resolveWaiter(msg wire.DecodedMessage) {
	l.mu.Lock()
	var match *waiter
	idx := -1
	for i, w := range l.waiters {
		if w.pred(msg) {
			match = w
			idx = i
			break
		}
	}
	if match != nil {
		l.waiters = append(l.waiters[:idx], l.waiters[idx+1:]...)
	}
	l.mu.Unlock()
	if match != nil {
		match.result <- waitResult{msg: msg}
	}
}

func (l *Link) broadcast(msg wire.DecodedMessage) {
	l.mu.Lock()
	subs := make([]chan wire.DecodedMessage, 0, len(l.subs))
	for _, ch := range l.subs {
		subs = append(subs, ch)
	}
	l.mu.Unlock()
	for _, ch := range subs {
		ch <- msg
	}
}

func (l *Link) recordErr(err error) {
	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()
}

// LastError returns the most recent transport-level error observed, if any.
func (l *Link) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Subscribe returns a channel receiving every decoded message in arrival
// order (spec.md §5 ordering guarantee 1), and a cancel function that stops
// delivery. Used by the Correlator to see the full stream.
func (l *Link) Subscribe() (<-chan wire.DecodedMessage, func()) {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan wire.DecodedMessage, 256)
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}

// Write frames and sends payload, waiting for the OS write to drain.
func (l *Link) Write(payload []byte) error {
	l.mu.Lock()
	closing := l.closing
	l.mu.Unlock()
	if closing {
		return errcode.New(errcode.Cancelled, "link.Write", "link is closing")
	}
	framed := framer.EncodeOutbound(payload)
	if _, err := l.port.Write(framed); err != nil {
		return errcode.Wrap(errcode.Write, "link.Write", err)
	}
	return nil
}

// AwaitMessage registers a one-shot predicate and blocks until a matching
// message arrives, ctx is cancelled, or timeout elapses.
func (l *Link) AwaitMessage(ctx context.Context, pred Predicate, timeout time.Duration) (wire.DecodedMessage, error) {
	w := &waiter{pred: pred, result: make(chan waitResult, 1)}

	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return wire.DecodedMessage{}, errcode.New(errcode.Cancelled, "link.AwaitMessage", "link is closing")
	}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-w.result:
		return r.msg, r.err
	case <-timer.C:
		l.removeWaiter(w)
		return wire.DecodedMessage{}, errcode.New(errcode.Timeout, "link.AwaitMessage", "no matching message within deadline")
	case <-ctx.Done():
		l.removeWaiter(w)
		return wire.DecodedMessage{}, errcode.Wrap(errcode.Cancelled, "link.AwaitMessage", ctx.Err())
	}
}

func (l *Link) removeWaiter(target *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}

// Close drains, cancels every outstanding waiter with Cancelled, detaches
// listeners, and releases the port (spec.md §5).
func (l *Link) Close() error {
	l.shutdown()
	// Closing the port unblocks a readLoop parked in Read.
	err := l.port.Close()
	<-l.done
	return err
}

func (l *Link) shutdown() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	waiters := l.waiters
	l.waiters = nil
	subs := l.subs
	l.subs = map[int]chan wire.DecodedMessage{}
	l.mu.Unlock()

	for _, w := range waiters {
		w.result <- waitResult{err: errcode.New(errcode.Cancelled, "link.Close", "cancelled on shutdown")}
	}
	for _, ch := range subs {
		close(ch)
	}
}
