// Event store for C7's SSE resumability (spec §4.7: "with an attached event
// store... a client reconnecting with Last-Event-ID: x receives all events
// after x"). Grounded on golang-tools' internal/mcp streamable.go, which
// tracks a streamID/event-index pair per logical connection and replays by
// parsing the incoming Last-Event-ID back into that pair
// (formatEventID/parseEventID) — the same scheme is used here, adapted to
// mark3labs/mcp-go's own EventStore interface instead of hand-rolled SSE
// framing.
package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/server"
)

// ErrEventsGone is returned by ReplayEventsAfter when the event the
// requested id names has already been evicted from the bounded per-stream
// buffer, or its stream is unknown: the caller must fall back to a fresh
// stream rather than serve a replay that may have a gap in it (spec §8's
// truncation behavior).
var ErrEventsGone = errors.New("transport: requested replay events have been evicted")

type storedEvent struct {
	seq     int64
	message server.JSONRPCMessage
}

type streamBuffer struct {
	nextSeq     int64
	evictedUpTo int64 // one past the highest seq evicted so far; 0 means nothing evicted yet
	events      []storedEvent
}

// EventStore is a bounded in-memory implementation of mark3labs/mcp-go's
// server.EventStore. Each logical stream gets its own ring buffer of at most
// maxEventsPerStream entries; storing past that capacity evicts the oldest
// entry, and a later replay request for an evicted id reports ErrEventsGone.
type EventStore struct {
	mu                 sync.Mutex
	maxEventsPerStream int
	streams            map[server.StreamID]*streamBuffer
}

// NewEventStore constructs a bounded EventStore. maxEventsPerStream <= 0
// falls back to a default capacity.
func NewEventStore(maxEventsPerStream int) *EventStore {
	if maxEventsPerStream <= 0 {
		maxEventsPerStream = 1024
	}
	return &EventStore{
		maxEventsPerStream: maxEventsPerStream,
		streams:            map[server.StreamID]*streamBuffer{},
	}
}

func formatEventID(streamID server.StreamID, seq int64) server.EventID {
	return server.EventID(fmt.Sprintf("%s_%d", streamID, seq))
}

func parseEventID(eventID server.EventID) (server.StreamID, int64, bool) {
	s := string(eventID)
	idx := strings.LastIndexByte(s, '_')
	if idx < 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return server.StreamID(s[:idx]), seq, true
}

// StoreEvent implements server.EventStore: append message to streamID's
// buffer and return the id a client can later present as Last-Event-ID.
func (s *EventStore) StoreEvent(streamID server.StreamID, message server.JSONRPCMessage) (server.EventID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.streams[streamID]
	if !ok {
		buf = &streamBuffer{}
		s.streams[streamID] = buf
	}

	seq := buf.nextSeq
	buf.nextSeq++
	buf.events = append(buf.events, storedEvent{seq: seq, message: message})
	if len(buf.events) > s.maxEventsPerStream {
		buf.evictedUpTo = buf.events[0].seq + 1
		buf.events = buf.events[1:]
	}
	return formatEventID(streamID, seq), nil
}

// ReplayEventsAfter implements server.EventStore: deliver, in order, every
// event stored after lastEventID on the stream it names. Returns
// ErrEventsGone if the event lastEventID names has already been evicted or
// its stream is unknown, so the caller can start the client over on a
// fresh stream instead.
func (s *EventStore) ReplayEventsAfter(lastEventID server.EventID, send func(event server.EventID, message server.JSONRPCMessage) error) (server.StreamID, error) {
	streamID, afterSeq, ok := parseEventID(lastEventID)
	if !ok {
		return "", fmt.Errorf("transport: malformed event id %q", lastEventID)
	}

	s.mu.Lock()
	buf, ok := s.streams[streamID]
	if !ok {
		s.mu.Unlock()
		return "", ErrEventsGone
	}
	if afterSeq < buf.evictedUpTo {
		s.mu.Unlock()
		return "", ErrEventsGone
	}
	pending := make([]storedEvent, 0, len(buf.events))
	for _, ev := range buf.events {
		if ev.seq > afterSeq {
			pending = append(pending, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range pending {
		if err := send(formatEventID(streamID, ev.seq), ev.message); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}
