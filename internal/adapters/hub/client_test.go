package hub

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devhazem/meetmesh/internal/adapters/realtime"
)

func TestTrySendReportsBackpressure(t *testing.T) {
	c := &client{send: make(chan realtime.Frame, 1)}

	require.NoError(t, c.trySend(realtime.Frame{Type: realtime.FrameBroadcast}))
	require.ErrorIs(t, c.trySend(realtime.Frame{Type: realtime.FrameBroadcast}), ErrBackpressure)
}

func TestTrySendRefusesClosedClient(t *testing.T) {
	c := &client{send: make(chan realtime.Frame, 1), closed: true}

	require.Error(t, c.trySend(realtime.Frame{Type: realtime.FrameBroadcast}))
}
