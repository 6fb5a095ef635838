package transport

import (
	"sync"

	"github.com/hatago/gateway/internal/errkind"
)

// OutboundQueue is the bounded, per-session buffer standing between a
// plugin's progress notifications and the client's own stream (spec §4.7:
// exceeding maxQueueSize fails the producer with queue_size_limit_exceeded).
// Enqueue appends in arrival order; Drain delivers everything buffered, in
// that order, through the caller-supplied send function, closing the queue
// at the first write failure so later producers observe client_disconnected
// instead of piling up behind a dead stream.
type OutboundQueue struct {
	mu      sync.Mutex
	maxSize int
	closed  bool
	pending []any
}

// NewOutboundQueue constructs an OutboundQueue bounded to maxSize buffered
// items. maxSize <= 0 falls back to a small default.
func NewOutboundQueue(maxSize int) *OutboundQueue {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &OutboundQueue{maxSize: maxSize}
}

// Enqueue appends item, failing with QueueSizeLimitExceeded once the queue
// is at capacity and ClientDisconnected once it has been closed.
func (q *OutboundQueue) Enqueue(item any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errkind.New(errkind.ClientDisconnected, "outbound queue is closed")
	}
	if len(q.pending) >= q.maxSize {
		return errkind.New(errkind.QueueSizeLimitExceeded, "outbound queue is full")
	}
	q.pending = append(q.pending, item)
	return nil
}

// Drain delivers every item buffered so far, in arrival order, to send. The
// first failed send closes the queue and returns StreamWriteFailed; items
// still pending at that point are dropped rather than retried.
func (q *OutboundQueue) Drain(send func(item any) error) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errkind.New(errkind.ClientDisconnected, "outbound queue is closed")
	}
	items := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, item := range items {
		if err := send(item); err != nil {
			q.Close()
			return errkind.Wrap(errkind.StreamWriteFailed, "failed to write to client stream", err)
		}
	}
	return nil
}

// Close marks the queue permanently closed, dropping anything still
// buffered. Further Enqueue/Drain calls report ClientDisconnected.
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
}
