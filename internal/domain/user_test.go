package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentityValidation(t *testing.T) {
	_, err := NewIdentity("", "room-1")
	require.ErrorIs(t, err, ErrNameEmpty)

	_, err = NewIdentity(strings.Repeat("x", MaxNameLen+1), "room-1")
	require.ErrorIs(t, err, ErrNameTooLong)

	id, err := NewIdentity("alice", "room-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)
	assert.Equal(t, "alice", id.Name)
}

func TestIsHostOf(t *testing.T) {
	host, err := NewIdentity("alice", "room-1")
	require.NoError(t, err)
	assert.True(t, host.IsHostOf("room-1"))
	assert.False(t, host.IsHostOf("room-2"))

	guest, err := NewIdentity("bob", "")
	require.NoError(t, err)
	assert.False(t, guest.IsHostOf("room-1"))
	// An empty owned code never matches, not even an empty room code.
	assert.False(t, guest.IsHostOf(""))
}

func TestRoomCodeTopics(t *testing.T) {
	code := RoomCode("abc-123")
	assert.Equal(t, "abc-123", code.Topic())
	assert.Equal(t, "screen:abc-123", code.ScreenTopic())
}
