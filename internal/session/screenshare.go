package session

import (
	"context"
	"encoding/json"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// connectScreenChannel subscribes the second presence channel scoped to
// the room. The presence key reuses the meeting-room key so a presenter's
// screen entry can be matched to its mesh edge. Safe to call repeatedly.
func (s *RoomSession) connectScreenChannel() {
	s.mu.Lock()
	if s.screen != nil || s.key == "" {
		s.mu.Unlock()
		return
	}
	ch := s.channels.Channel(s.code.ScreenTopic(), s.key, false)
	ch.OnPresence(s.handleScreenPresence)
	s.screen = ch
	s.mu.Unlock()

	if err := ch.Subscribe(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("screen channel subscribe failed")
		s.mu.Lock()
		s.screen = nil
		s.mu.Unlock()
	}
}

// handleScreenPresence enforces the presenter singleton and, for viewers,
// runs the relayed sub-negotiation: the answer travels back over the
// already-established mesh edge, not over this channel.
func (s *RoomSession) handleScreenPresence(evt core.PresenceEvent) {
	switch evt.Type {
	case core.PresenceSync:
		// Full replay: a subscriber joining after sharing started learns
		// the active presenter here.
		for key, value := range evt.State {
			s.handleScreenJoin(key, value)
		}
	case core.PresenceJoin:
		s.handleScreenJoin(evt.Key, evt.Value)
	case core.PresenceLeave:
		s.handleScreenLeave(evt.Key)
	}
}

func (s *RoomSession) handleScreenJoin(key domain.PresenceKey, value json.RawMessage) {
	s.mu.Lock()
	if s.presenterKey != "" {
		// First claim wins locally; concurrent claims are unresolved by
		// design (no transactional arbitration on this channel).
		s.mu.Unlock()
		return
	}
	s.presenterKey = key

	if key == s.key {
		s.mu.Unlock()
		return
	}

	var presence ScreenPresenceValue
	if err := json.Unmarshal(value, &presence); err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("key", string(key)).Msg("bad screen presence value")
		return
	}

	presenter := &Presenter{Key: key, Identity: presence.User}
	s.presenter = presenter

	// The mesh edge to the presenter is the trusted signaling path; a
	// viewer without one cannot negotiate the stream.
	edge := s.edges[key]
	s.mu.Unlock()

	s.log.Info().Str("key", string(key)).Str("user", presence.User.Name).Msg("screen sharing started")
	if s.hooks.OnPresenter != nil {
		s.hooks.OnPresenter(presenter)
	}
	if edge == nil {
		return
	}

	recv, err := s.peers.NewPeer(false, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("screen receive peer failed")
		return
	}

	recv.OnSignal(func(data json.RawMessage) {
		if err := s.sendPeerMessage(edge, PeerMessage{Type: PeerSignal, Data: data}); err != nil {
			s.log.Warn().Err(err).Msg("screen answer relay failed")
		}
	})
	recv.OnStream(func(stream *core.MediaStream) {
		s.mu.Lock()
		s.screenStream = stream
		s.mu.Unlock()
		if s.hooks.OnScreenStream != nil {
			s.hooks.OnScreenStream(stream)
		}
	})

	s.mu.Lock()
	s.screenRecv = recv
	s.mu.Unlock()

	if err := recv.Apply(presence.Signal); err != nil {
		s.log.Warn().Err(err).Msg("apply screen signal failed")
	}
}

func (s *RoomSession) handleScreenLeave(key domain.PresenceKey) {
	s.mu.Lock()
	if s.presenterKey != key {
		s.mu.Unlock()
		return
	}
	s.presenterKey = ""
	s.presenter = nil
	s.screenStream = nil
	recv := s.screenRecv
	s.screenRecv = nil
	s.mu.Unlock()

	if recv != nil {
		recv.Close()
	}
	s.log.Info().Str("key", string(key)).Msg("screen sharing stopped")
	if s.hooks.OnPresenter != nil {
		s.hooks.OnPresenter(nil)
	}
	if s.hooks.OnScreenStream != nil {
		s.hooks.OnScreenStream(nil)
	}
}

// StartScreenSharing claims the presenter slot and tracks the capture
// stream's initiator signal on the screen channel. A no-op while another
// presenter is known; the local check is best effort, not a transaction.
func (s *RoomSession) StartScreenSharing(stream *core.MediaStream) error {
	s.mu.Lock()
	if s.screen == nil || !s.hasJoined || s.presenterKey != "" {
		s.mu.Unlock()
		return nil
	}
	if stream == nil || stream.Video == nil {
		s.mu.Unlock()
		return nil
	}
	screen := s.screen
	selfKey := s.key
	self := s.self
	s.mu.Unlock()

	// OS-level "stop sharing" ends the track and takes the same exit.
	stream.Video.OnEnded(func() {
		s.StopScreenSharing()
	})

	peer, err := s.peers.NewPeer(true, stream)
	if err != nil {
		return err
	}

	peer.OnSignal(func(data json.RawMessage) {
		s.mu.Lock()
		taken := s.presenterKey != "" && s.presenterKey != selfKey
		s.mu.Unlock()
		if taken {
			return
		}
		if err := screen.Track(ScreenPresenceValue{User: self, Signal: data}); err != nil {
			s.log.Warn().Err(err).Msg("screen track failed")
		}
	})

	presenter := &Presenter{Key: selfKey, Identity: self}
	s.mu.Lock()
	s.screenPeer = peer
	s.screenStream = stream
	s.presenter = presenter
	s.mu.Unlock()

	s.log.Info().Msg("screen sharing claimed")
	if s.hooks.OnPresenter != nil {
		s.hooks.OnPresenter(presenter)
	}
	return nil
}

// StopScreenSharing withdraws the presenter entry. The screen channel's
// leave event clears viewer state everywhere, including here.
func (s *RoomSession) StopScreenSharing() error {
	s.mu.Lock()
	screen := s.screen
	peer := s.screenPeer
	stream := s.screenStream
	s.screenPeer = nil
	s.screenStream = nil
	if s.presenterKey == s.key {
		s.presenterKey = ""
	}
	s.presenter = nil
	s.mu.Unlock()

	if peer == nil {
		return nil
	}
	peer.Close()
	stream.StopTracks()

	if s.hooks.OnPresenter != nil {
		s.hooks.OnPresenter(nil)
	}
	if screen == nil {
		return nil
	}
	return screen.Untrack()
}
