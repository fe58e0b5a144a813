// Package realtime implements the presence/broadcast channel primitive:
// a websocket client speaking the hub wire protocol, and an in-process
// hub for tests and single-host setups.
package realtime

import "encoding/json"

// Frame is one wire message between a channel client and the hub.
const (
	FrameSubscribe     = "subscribe"
	FrameSubscribed    = "subscribed"
	FrameTrack         = "track"
	FrameUntrack       = "untrack"
	FrameBroadcast     = "broadcast"
	FramePresenceJoin  = "presence_join"
	FramePresenceLeave = "presence_leave"
	FrameError         = "error"
)

type Frame struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	Key   string `json:"key,omitempty"`
	// Self asks the hub to echo this subscriber's own broadcasts back.
	Self bool `json:"self,omitempty"`
	// Event is the broadcast event name.
	Event string          `json:"event,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	// State carries the full presence snapshot on subscribed frames.
	State map[string]json.RawMessage `json:"state,omitempty"`
	Error string                     `json:"error,omitempty"`
}
