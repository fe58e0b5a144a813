// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen = 36
	MaxNameLen   = 64
)

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

type UserID string

// Identity is the immutable description of a user carried in presence
// entries and chat messages. RoomCode is the code of the room this user
// owns; matching it against the current room code is what makes a host.
type Identity struct {
	ID       UserID   `json:"id"`
	Name     string   `json:"name"`
	Image    string   `json:"image,omitempty"`
	RoomCode RoomCode `json:"roomCode"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(name string, ownRoom RoomCode) (Identity, error) {
	if len(name) == 0 {
		return Identity{}, ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return Identity{}, ErrNameTooLong
	}
	return Identity{
		ID:       UserID(uuid.NewString()),
		Name:     name,
		RoomCode: ownRoom,
	}, nil
}

// IsHostOf reports whether this identity owns the given room.
func (i Identity) IsHostOf(code RoomCode) bool {
	return i.RoomCode != "" && i.RoomCode == code
}
