// Package core declares the interfaces the session coordinator is built
// against. Adapters own the resources behind them and must Close() them.
package core

import (
	"context"
	"encoding/json"

	"github.com/devhazem/meetmesh/internal/domain"
)

type PresenceEventType int

const (
	// PresenceSync carries the full current key->value map. Every channel
	// implementation replays it once right after a successful subscribe,
	// so a late subscriber observes state that predates it (including an
	// already-active screen-share presenter).
	PresenceSync PresenceEventType = iota
	PresenceJoin
	PresenceLeave
)

// PresenceEvent is one presence delta or snapshot on a channel.
// Value is the tracked value for join events and nil for leaves;
// State is populated for sync events only.
type PresenceEvent struct {
	Type  PresenceEventType
	Key   domain.PresenceKey
	Value json.RawMessage
	State map[domain.PresenceKey]json.RawMessage
}

// Channel is a named bidirectional pub/sub primitive: presence tracking
// plus fire-and-forget typed broadcast. Handlers must be registered before
// Subscribe. Events of one channel are delivered in arrival order on a
// single goroutine; there is no ordering guarantee across channels.
type Channel interface {
	Subscribe(ctx context.Context) error
	// Track publishes this subscriber's presence value under its key.
	Track(value any) error
	Untrack() error
	// Broadcast sends a typed JSON message to all current subscribers.
	// Channels created with self-delivery also echo it back to the sender.
	Broadcast(event string, payload any) error

	OnPresence(fn func(PresenceEvent))
	OnBroadcast(event string, fn func(payload json.RawMessage))

	// PresenceState snapshots the current key->value map.
	PresenceState() map[domain.PresenceKey]json.RawMessage
	Key() domain.PresenceKey
	Close()
}

// ChannelFactory mints channels. The presence key is chosen by the caller
// so the screen channel can reuse the meeting-room key.
type ChannelFactory interface {
	Channel(topic string, key domain.PresenceKey, selfBroadcast bool) Channel
}
