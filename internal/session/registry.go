package session

import (
	"encoding/json"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// registerEdgeHandlers wires the registry and moderation callbacks for an
// edge that is about to settle. With media in play the registry row is
// added when the stream event fires, carrying the sender's last-known
// media state from presence; without it the row is added right away with
// a nil stream.
func (s *RoomSession) registerEdgeHandlers(key domain.PresenceKey, peer core.PeerLink, withStream bool) {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return
	}

	raw, ok := room.PresenceState()[key]
	if !ok {
		return
	}
	var presence PresenceValue
	if err := json.Unmarshal(raw, &presence); err != nil {
		s.log.Warn().Err(err).Str("key", string(key)).Msg("bad presence value for edge")
		return
	}

	peer.OnClose(func() {
		s.removeParticipant(key)
	})

	peer.OnData(func(payload []byte) {
		s.handlePeerData(payload)
	})

	if withStream {
		peer.OnStream(func(stream *core.MediaStream) {
			stream.ApplyState(presence.State)
			s.addParticipant(key, presence.User, stream)
		})
	} else {
		s.addParticipant(key, presence.User, nil)
	}

	s.mu.Lock()
	s.joinedIDs[presence.User.ID] = struct{}{}
	s.mu.Unlock()
}

func (s *RoomSession) addParticipant(key domain.PresenceKey, identity domain.Identity, stream *core.MediaStream) {
	row := Participant{Key: key, Identity: identity, Stream: stream}

	s.mu.Lock()
	for _, p := range s.participants {
		if p.Key == key {
			// A superseded edge settled twice; keep the newest stream.
			p.Stream = stream
			s.mu.Unlock()
			return
		}
	}
	s.participants = append(s.participants, &row)
	s.mu.Unlock()

	s.log.Info().Str("key", string(key)).Str("user", identity.Name).Msg("participant joined")
	if s.hooks.OnParticipantJoined != nil {
		s.hooks.OnParticipantJoined(row)
	}
}

func (s *RoomSession) removeParticipant(key domain.PresenceKey) {
	s.mu.Lock()
	idx := -1
	for i, p := range s.participants {
		if p.Key == key {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return
	}
	row := *s.participants[idx]
	s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
	if s.speaker == key {
		s.speaker = ""
	}
	delete(s.edges, key)
	delete(s.mutedKeys, key)
	s.mu.Unlock()

	s.log.Info().Str("key", string(key)).Str("user", row.Identity.Name).Msg("participant left")
	if s.hooks.OnParticipantLeft != nil {
		s.hooks.OnParticipantLeft(row)
	}
}
