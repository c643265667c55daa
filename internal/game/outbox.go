package game

import (
	"sync"
	"sync/atomic"
)

// DefaultOutboxSize bounds the number of undelivered messages per session.
const DefaultOutboxSize = 64

// Outbox is a bounded FIFO of rendered output for one recipient. Push never
// blocks: when the queue is full the oldest message is discarded.
type Outbox struct {
	mu      sync.Mutex
	ch      chan string
	closed  bool
	dropped atomic.Uint64
}

// NewOutbox returns an outbox holding at most size messages.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{ch: make(chan string, size)}
}

// Push enqueues msg. It reports false once the outbox has been closed.
func (o *Outbox) Push(msg string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	for {
		select {
		case o.ch <- msg:
			return true
		default:
		}
		select {
		case <-o.ch:
			o.dropped.Add(1)
		default:
		}
	}
}

// C is drained by the session's writer goroutine. It is closed by Close.
func (o *Outbox) C() <-chan string {
	return o.ch
}

// Dropped reports how many messages were discarded on overflow.
func (o *Outbox) Dropped() uint64 {
	return o.dropped.Load()
}

// Close stops accepting messages. Queued messages remain readable from C.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
