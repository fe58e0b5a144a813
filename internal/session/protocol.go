// Package session implements the meeting coordinator: admission, mesh
// signaling, the participant registry, moderation, chat and screen share,
// all driven by one RoomSession value.
package session

import (
	"encoding/json"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// Broadcast event names on the meeting-room channel.
const (
	eventJoinResponse       = "JOIN_RESPONSE"
	eventConnectionRequest  = "CONNECTION_REQUEST"
	eventConnectionResponse = "CONNECTION_RESPONSE"
	eventChatMessage        = "CHAT_MESSAGE"
	eventLeave              = "LEAVE"
)

type JoinStatus string

const (
	StatusAccepted JoinStatus = "ACCEPTED"
	StatusRejected JoinStatus = "REJECTED"
)

// JoinResponse adjudicates one or more waiting keys at once.
type JoinResponse struct {
	Keys   []domain.PresenceKey `json:"keys"`
	Status JoinStatus           `json:"status"`
}

func (r JoinResponse) includes(key domain.PresenceKey) bool {
	for _, k := range r.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ConnectionRequest carries one offer envelope per already-present key.
type ConnectionRequest struct {
	Key     domain.PresenceKey                          `json:"key"`
	Signals map[domain.PresenceKey]*core.SignalEnvelope `json:"signals"`
}

// ConnectionResponse answers a single envelope back to the caller.
type ConnectionResponse struct {
	Key       domain.PresenceKey  `json:"key"`
	CallerKey domain.PresenceKey  `json:"callerKey"`
	Signal    core.SignalEnvelope `json:"signal"`
}

// LeaveEvent erases an identity from everyone's already-joined memory.
type LeaveEvent struct {
	ID domain.UserID `json:"id"`
}

// PresenceValue is the tracked value on the meeting-room channel.
type PresenceValue struct {
	User  domain.Identity   `json:"user"`
	State domain.MediaState `json:"state"`
}

// ScreenPresenceValue is the tracked value on the screen channel: the
// presenter's identity plus its initiator signal for the capture stream.
type ScreenPresenceValue struct {
	User   domain.Identity `json:"user"`
	Signal json.RawMessage `json:"signal"`
}

// PeerMessageType discriminates the per-edge data-channel union.
type PeerMessageType string

const (
	PeerMute   PeerMessageType = "mute"
	PeerUnmute PeerMessageType = "unmute"
	PeerLeave  PeerMessageType = "leave"
	PeerSignal PeerMessageType = "signal"
)

// PeerMessage is one moderation-channel message. Data is present only for
// screen-share signal relays.
type PeerMessage struct {
	Type PeerMessageType `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
