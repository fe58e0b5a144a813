package core

import "encoding/json"

// SignalEnvelope is one directed edge-establishment attempt: a complete
// offer or answer with all ICE candidates already gathered (vanilla,
// non-trickling ICE, exactly one envelope per direction per attempt).
// WithStream tells the receiver whether to expect a stream event.
type SignalEnvelope struct {
	WithStream bool            `json:"withStream"`
	Data       json.RawMessage `json:"data"`
}

// PeerLink is one mesh edge to a remote participant.
// Callbacks must be registered before Apply is called; the adapter may
// invoke them from its own goroutines.
type PeerLink interface {
	// OnSignal fires exactly once, with the complete local description
	// once ICE gathering has finished.
	OnSignal(fn func(data json.RawMessage))
	// OnStream fires when remote media arrives.
	OnStream(fn func(stream *MediaStream))
	// OnData fires for every message on the moderation data channel.
	OnData(fn func(payload []byte))
	OnClose(fn func())

	// Apply sets the remote description (the peer half of the exchange).
	Apply(data json.RawMessage) error
	// Send writes a message to the moderation data channel.
	Send(payload []byte) error
	Close()
}

// PeerFactory creates peer links. Initiators produce an offer on their
// own; answerers produce theirs in response to Apply. A non-nil stream is
// attached as outgoing media before negotiation starts.
type PeerFactory interface {
	NewPeer(initiator bool, stream *MediaStream) (PeerLink, error)
}
