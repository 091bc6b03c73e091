// Package bus implements the in-memory named queues envelopes travel
// through between the gateway, router, and workers (C2 of the
// processing backbone).
package bus

import (
	"context"
	"sync"

	"github.com/ctxlens/backend/internal/envelope"
)

// DefaultCapacity is the bound applied to a queue unless a caller
// requests otherwise. Producers block on a full queue; nothing is ever
// dropped.
const DefaultCapacity = 100

// Queue is a bounded FIFO of envelopes with blocking Enqueue/Dequeue,
// safe for any number of producers and consumers. The zero value is
// not usable; construct with New.
type Queue struct {
	name string
	ch   chan *envelope.Envelope

	mu   sync.Mutex
	snap []*envelope.Envelope // mirrors ch's contents for Snapshot/Peek
}

// New creates a named, bounded queue. name is carried into each
// envelope's ForwardingPath entries and used for logging.
func New(name string, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		name: name,
		ch:   make(chan *envelope.Envelope, capacity),
	}
}

func (q *Queue) Name() string { return q.name }

// Enqueue blocks until there is room, or ctx is done. It records a
// ForwardingStep on the envelope naming this queue as the destination.
func (q *Queue) Enqueue(ctx context.Context, e *envelope.Envelope) error {
	e.AppendForwarding(q.name, "", q.name)

	select {
	case q.ch <- e:
		q.mu.Lock()
		q.snap = append(q.snap, e)
		q.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until an envelope is available, or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*envelope.Envelope, error) {
	select {
	case e := <-q.ch:
		e.AppendForwarding(q.name, q.name, "")
		q.mu.Lock()
		q.removeFromSnapshot(e)
		q.mu.Unlock()
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) removeFromSnapshot(e *envelope.Envelope) {
	for i, s := range q.snap {
		if s == e {
			q.snap = append(q.snap[:i], q.snap[i+1:]...)
			return
		}
	}
}

// QSize returns the current number of buffered envelopes.
func (q *Queue) QSize() int {
	return len(q.ch)
}

// Snapshot returns a non-destructive copy of the envelopes currently
// queued, oldest first. Intended for stats/debugging, not control flow.
func (q *Queue) Snapshot() []*envelope.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*envelope.Envelope, len(q.snap))
	copy(out, q.snap)
	return out
}

// Peek returns the oldest queued envelope without removing it, or nil
// if the queue is empty.
func (q *Queue) Peek() *envelope.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.snap) == 0 {
		return nil
	}
	return q.snap[0]
}

// Drain removes every envelope currently available without blocking for
// more to arrive; on an empty queue it returns nil at once.
func (q *Queue) Drain() []*envelope.Envelope {
	var out []*envelope.Envelope
	for {
		select {
		case e := <-q.ch:
			q.mu.Lock()
			q.removeFromSnapshot(e)
			q.mu.Unlock()
			out = append(out, e)
		default:
			return out
		}
	}
}
