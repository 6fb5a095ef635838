package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mark3labs/mcp-go/server"
)

func TestEventStoreReplaysEventsAfterLastID(t *testing.T) {
	s := NewEventStore(10)
	id1, err := s.StoreEvent("stream-a", server.JSONRPCMessage(`{"n":1}`))
	require.NoError(t, err)
	_, err = s.StoreEvent("stream-a", server.JSONRPCMessage(`{"n":2}`))
	require.NoError(t, err)
	_, err = s.StoreEvent("stream-a", server.JSONRPCMessage(`{"n":3}`))
	require.NoError(t, err)

	var replayed []server.JSONRPCMessage
	streamID, err := s.ReplayEventsAfter(id1, func(_ server.EventID, message server.JSONRPCMessage) error {
		replayed = append(replayed, message)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, server.StreamID("stream-a"), streamID)
	require.Len(t, replayed, 2)
	require.Equal(t, server.JSONRPCMessage(`{"n":2}`), replayed[0])
	require.Equal(t, server.JSONRPCMessage(`{"n":3}`), replayed[1])
}

func TestEventStoreReplayFromBeforeFirstSeqReplaysEverything(t *testing.T) {
	s := NewEventStore(10)
	_, err := s.StoreEvent("stream-b", server.JSONRPCMessage(`{"n":1}`))
	require.NoError(t, err)
	_, err = s.StoreEvent("stream-b", server.JSONRPCMessage(`{"n":2}`))
	require.NoError(t, err)

	count := 0
	_, err = s.ReplayEventsAfter(server.EventID("stream-b_-1"), func(server.EventID, server.JSONRPCMessage) error {
		count++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestEventStoreEvictsBeyondCapacityAndReportsGone(t *testing.T) {
	s := NewEventStore(2)
	id1, err := s.StoreEvent("stream-c", server.JSONRPCMessage(`{"n":1}`))
	require.NoError(t, err)
	_, err = s.StoreEvent("stream-c", server.JSONRPCMessage(`{"n":2}`))
	require.NoError(t, err)
	_, err = s.StoreEvent("stream-c", server.JSONRPCMessage(`{"n":3}`))
	require.NoError(t, err)

	_, err = s.ReplayEventsAfter(id1, func(server.EventID, server.JSONRPCMessage) error {
		return nil
	})
	require.ErrorIs(t, err, ErrEventsGone)
}

func TestEventStoreUnknownStreamReportsGone(t *testing.T) {
	s := NewEventStore(10)
	_, err := s.ReplayEventsAfter(server.EventID("nosuchstream_0"), func(server.EventID, server.JSONRPCMessage) error {
		return nil
	})
	require.ErrorIs(t, err, ErrEventsGone)
}
