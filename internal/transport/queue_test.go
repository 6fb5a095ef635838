package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hatago/gateway/internal/errkind"
)

func TestOutboundQueueDrainsInArrivalOrder(t *testing.T) {
	q := NewOutboundQueue(4)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	require.NoError(t, q.Enqueue(3))

	var got []int
	err := q.Drain(func(item any) error {
		got = append(got, item.(int))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestOutboundQueueRejectsOverCapacity(t *testing.T) {
	q := NewOutboundQueue(2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))

	err := q.Enqueue(3)
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.QueueSizeLimitExceeded, kind)
}

func TestOutboundQueueClosesOnWriteFailure(t *testing.T) {
	q := NewOutboundQueue(4)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))

	writeErr := errors.New("write failed")
	err := q.Drain(func(item any) error {
		return writeErr
	})
	require.Error(t, err)
	kind, _ := errkind.Of(err)
	require.Equal(t, errkind.StreamWriteFailed, kind)

	err = q.Enqueue(3)
	require.Error(t, err)
	kind, _ = errkind.Of(err)
	require.Equal(t, errkind.ClientDisconnected, kind)
}

func TestOutboundQueueCloseDropsPending(t *testing.T) {
	q := NewOutboundQueue(4)
	require.NoError(t, q.Enqueue(1))
	q.Close()

	called := false
	err := q.Drain(func(item any) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
}
