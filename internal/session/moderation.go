package session

import (
	"encoding/json"
	"time"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// handlePeerData dispatches one moderation-channel message. Every arm is
// defensive: a command that cannot apply locally is a no-op.
func (s *RoomSession) handlePeerData(payload []byte) {
	var msg PeerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.log.Warn().Err(err).Msg("bad peer message")
		return
	}

	switch msg.Type {
	case PeerMute:
		s.applyForcedMute(true)
	case PeerUnmute:
		s.applyForcedMute(false)
	case PeerLeave:
		s.log.Info().Msg("removed by the host")
		s.HangUp()
		s.setState(core.StateRejected)
	case PeerSignal:
		s.mu.Lock()
		peer := s.screenPeer
		s.mu.Unlock()
		if peer == nil || msg.Data == nil {
			return
		}
		if err := peer.Apply(msg.Data); err != nil {
			s.log.Warn().Err(err).Msg("screen relay signal failed")
		}
	default:
		s.log.Warn().Str("type", string(msg.Type)).Msg("unknown peer message")
	}
}

func (s *RoomSession) applyForcedMute(muted bool) {
	s.mu.Lock()
	stream := s.localStream
	if stream == nil || stream.Audio == nil {
		s.mu.Unlock()
		return
	}
	stream.Audio.SetEnabled(!muted)
	s.isMuted = muted
	s.mu.Unlock()

	// Re-publish presence so everyone applies the new media state.
	if err := s.track(); err != nil {
		s.log.Warn().Err(err).Msg("presence re-track failed")
	}
	if s.hooks.OnMuted != nil {
		s.hooks.OnMuted(muted)
	}
}

// SendMuteCommand asks the participant behind key to mute or unmute its
// audio. Host-only by convention; the command travels the private edge.
func (s *RoomSession) SendMuteCommand(key domain.PresenceKey, muted bool) error {
	s.mu.Lock()
	peer := s.edges[key]
	if muted {
		s.mutedKeys[key] = struct{}{}
	} else {
		delete(s.mutedKeys, key)
	}
	s.mu.Unlock()
	if peer == nil {
		return nil
	}

	typ := PeerUnmute
	if muted {
		typ = PeerMute
	}
	return s.sendPeerMessage(peer, PeerMessage{Type: typ})
}

// SendLeaveCommand forces the participant behind key out of the meeting
// and records its identity in the rejected set for this session.
func (s *RoomSession) SendLeaveCommand(key domain.PresenceKey) error {
	s.mu.Lock()
	peer := s.edges[key]
	room := s.room
	s.mu.Unlock()
	if peer == nil {
		return nil
	}

	if room != nil {
		var presence PresenceValue
		if raw, ok := room.PresenceState()[key]; ok && json.Unmarshal(raw, &presence) == nil {
			s.mu.Lock()
			s.rejectedIDs[presence.User.ID] = struct{}{}
			s.mu.Unlock()
		}
	}
	return s.sendPeerMessage(peer, PeerMessage{Type: PeerLeave})
}

func (s *RoomSession) sendPeerMessage(peer core.PeerLink, msg PeerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return peer.Send(payload)
}

// SendChatMessage broadcasts a chat entry and appends it locally right
// away, so the sender never waits for its own round trip.
func (s *RoomSession) SendChatMessage(text string) error {
	s.mu.Lock()
	room := s.room
	msg := domain.ChatMessage{
		ID:        s.key,
		User:      domain.ChatSender{Name: s.self.Name, Image: s.self.Image},
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	s.chat = append(s.chat, msg)
	s.mu.Unlock()

	if s.hooks.OnChat != nil {
		s.hooks.OnChat(msg)
	}
	if room == nil {
		return nil
	}
	return room.Broadcast(eventChatMessage, msg)
}

// handleChatMessage appends a received entry, dropping the sender's own
// echo to avoid a double insert.
func (s *RoomSession) handleChatMessage(raw json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Warn().Err(err).Msg("bad chat message")
		return
	}

	s.mu.Lock()
	if msg.ID == s.key {
		s.mu.Unlock()
		return
	}
	s.chat = append(s.chat, msg)
	s.mu.Unlock()

	if s.hooks.OnChat != nil {
		s.hooks.OnChat(msg)
	}
}
