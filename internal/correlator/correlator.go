// Package correlator multiplexes a Link's single inbound event stream into
// many outstanding request/response waiters plus a heartbeat fan-out sink,
// per spec.md §4.3. It is owned by Device, not by Link: Link keeps its own
// simpler single-consumer waiter semantics (internal/link) for direct
// callers, while Correlator layers "all matching waiters resolve, not just
// the first" on top, driven from a Link.Subscribe broadcast feed. The
// pending-registry-with-timer shape is grounded on the teacher's
// measureWorker (services/hal/worker.go): a map of in-flight items, each
// with its own deadline, drained on a single goroutine.
package correlator

import (
	"context"
	"sync"
	"time"

	"gridctl/internal/errcode"
	"gridctl/internal/wire"
)

// Source is the subset of Link's interface the Correlator depends on.
type Source interface {
	Subscribe() (<-chan wire.DecodedMessage, func())
}

type entry struct {
	filter  wire.Filter
	result  chan waitOutcome
	done    bool
}

type waitOutcome struct {
	msg wire.DecodedMessage
	err error
}

// Correlator owns an ordered list of outstanding Waiters and forks every
// inbound HEARTBEAT to a caller-supplied sink in addition to normal
// waiter resolution.
type Correlator struct {
	mu      sync.Mutex
	waiters []*entry
	closed  bool

	sub    <-chan wire.DecodedMessage
	cancel func()
	stop   chan struct{}
	done   chan struct{}

	heartbeatSink func(wire.DecodedMessage)
}

// New starts a Correlator multiplexing src's event stream. heartbeatSink,
// if non-nil, receives every DecodedMessage whose Class is HEARTBEAT, in
// addition to normal waiter resolution — the "forks HEARTBEAT into an
// inventory sink" behavior spec.md §4.3 requires.
func New(src Source, heartbeatSink func(wire.DecodedMessage)) *Correlator {
	sub, cancel := src.Subscribe()
	c := &Correlator{
		sub:           sub,
		cancel:        cancel,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		heartbeatSink: heartbeatSink,
	}
	go c.run()
	return c
}

func (c *Correlator) run() {
	defer close(c.done)
	for {
		select {
		case msg, ok := <-c.sub:
			if !ok {
				c.shutdown()
				return
			}
			c.dispatch(msg)
		case <-c.stop:
			return
		}
	}
}

// dispatch resolves ALL matching waiters, newest-first (spec.md §4.3), and
// forwards HEARTBEAT traffic to the sink regardless of whether any waiter
// also matched it.
func (c *Correlator) dispatch(msg wire.DecodedMessage) {
	if msg.Class == "HEARTBEAT" && c.heartbeatSink != nil {
		c.heartbeatSink(msg)
	}

	c.mu.Lock()
	var matched []*entry
	for i := len(c.waiters) - 1; i >= 0; i-- {
		w := c.waiters[i]
		if w.done {
			continue
		}
		if w.filter.Match(msg) {
			w.done = true
			matched = append(matched, w)
		}
	}
	c.mu.Unlock()

	for _, w := range matched {
		w.result <- waitOutcome{msg: msg}
	}
}

// Await registers f and blocks for the first message matching it, honoring
// ctx cancellation and timeout. Multiple concurrent Awaits on filters that
// both match the same message are all resolved by that one message.
func (c *Correlator) Await(ctx context.Context, f wire.Filter, timeout time.Duration) (wire.DecodedMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wire.DecodedMessage{}, errcode.New(errcode.Cancelled, "correlator.Await", "correlator is closed")
	}
	e := &entry{filter: f, result: make(chan waitOutcome, 1)}
	c.waiters = append(c.waiters, e)
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-e.result:
		return out.msg, out.err
	case <-timer.C:
		c.forget(e)
		return wire.DecodedMessage{}, errcode.New(errcode.Timeout, "correlator.Await", "no matching message within deadline")
	case <-ctx.Done():
		c.forget(e)
		return wire.DecodedMessage{}, errcode.Wrap(errcode.Cancelled, "correlator.Await", ctx.Err())
	}
}

func (c *Correlator) forget(target *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiters {
		if w == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// Close cancels every outstanding waiter with a terminal Cancelled error and
// detaches from the Link subscription. Safe to call more than once.
func (c *Correlator) Close() {
	select {
	case <-c.stop:
		return // already closed
	default:
	}
	close(c.stop)
	<-c.done
	c.shutdown()
	c.cancel()
}

func (c *Correlator) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		if w.done {
			continue
		}
		w.result <- waitOutcome{err: errcode.New(errcode.Cancelled, "correlator.Close", "cancelled on shutdown")}
	}
}
