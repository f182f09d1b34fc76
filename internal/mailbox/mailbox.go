// Package mailbox is the lightweight actor runtime the long-lived
// components (coordinator, node, state persister, session) build on; the
// downloader runs its own channel loop instead. A mailbox is a
// long-lived goroutine draining a bounded channel, handling
// each message serially. This is the Go-native form of the original's
// actix actor/mailbox pattern (spec "actor fabric" design note) — no
// locking is required because state never crosses a mailbox boundary
// except through the messages themselves.
package mailbox

import "context"

// Mailbox[T] runs fn serially against every value sent to its channel
// until Close is called or ctx is cancelled.
type Mailbox[T any] struct {
	ch     chan T
	closed chan struct{}
}

// Start launches the mailbox goroutine with a buffered channel of the
// given capacity (0 is a synchronous/unbuffered mailbox).
func Start[T any](ctx context.Context, capacity int, handle func(T)) *Mailbox[T] {
	m := &Mailbox[T]{
		ch:     make(chan T, capacity),
		closed: make(chan struct{}),
	}
	go func() {
		defer close(m.closed)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-m.ch:
				if !ok {
					return
				}
				handle(msg)
			}
		}
	}()
	return m
}

// Send is a blocking, fire-and-forget post (the "do_send" case in the
// original actor model) — it blocks only as long as the mailbox is full.
// A full mailbox under ctx cancellation drops the message, matching
// spec §7's "mailbox-full or send errors are logged and dropped".
func (m *Mailbox[T]) Send(ctx context.Context, msg T) bool {
	select {
	case m.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-m.closed:
		return false
	}
}

// TrySend is a non-blocking post used from contexts (like the real-time
// audio callback's error path) that must never block the caller.
func (m *Mailbox[T]) TrySend(msg T) bool {
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Close stops accepting new messages. Already-queued messages still
// drain before the worker goroutine exits.
func (m *Mailbox[T]) Close() {
	close(m.ch)
	<-m.closed
}

// Request is the request/reply shape ("send().await" in the original):
// a message carrying an embedded reply channel.
type Request[Q, R any] struct {
	Payload Q
	Reply   chan R
}

// NewRequest builds a Request with a single-slot reply channel.
func NewRequest[Q, R any](payload Q) Request[Q, R] {
	return Request[Q, R]{Payload: payload, Reply: make(chan R, 1)}
}
