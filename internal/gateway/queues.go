package gateway

import (
	"sync"

	"github.com/hatago/gateway/internal/transport"
)

// outboundQueueRegistry owns one transport.OutboundQueue per live client
// session, so progress notifications from concurrent tool calls on the same
// session still relay onto its stream in arrival order (spec §4.4, §4.7)
// without one session's backpressure affecting another's.
type outboundQueueRegistry struct {
	maxSize int

	mu     sync.Mutex
	queues map[string]*transport.OutboundQueue
}

func newOutboundQueueRegistry(maxSize int) *outboundQueueRegistry {
	return &outboundQueueRegistry{maxSize: maxSize, queues: map[string]*transport.OutboundQueue{}}
}

// queueFor returns sessionID's queue, creating it on first use.
func (r *outboundQueueRegistry) queueFor(sessionID string) *transport.OutboundQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[sessionID]
	if !ok {
		q = transport.NewOutboundQueue(r.maxSize)
		r.queues[sessionID] = q
	}
	return q
}

// remove closes and forgets sessionID's queue (spec §4.6's session
// unregistration path).
func (r *outboundQueueRegistry) remove(sessionID string) {
	r.mu.Lock()
	q, ok := r.queues[sessionID]
	delete(r.queues, sessionID)
	r.mu.Unlock()
	if ok {
		q.Close()
	}
}
