package session

import (
	"context"
	"encoding/json"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// handleRoomPresence adjudicates join requests and tracks media-state
// updates. Only the host decides admission, or the earliest present
// client while no host is known yet.
func (s *RoomSession) handleRoomPresence(evt core.PresenceEvent) {
	switch evt.Type {
	case core.PresenceJoin:
		s.handlePresenceJoin(evt.Key, evt.Value)
	case core.PresenceLeave:
		s.handlePresenceLeave(evt.Key)
	case core.PresenceSync:
		// The snapshot is kept by the channel; nothing to derive here.
	}
}

func (s *RoomSession) handlePresenceJoin(key domain.PresenceKey, value json.RawMessage) {
	s.mu.Lock()
	if key == s.key || !s.hasJoined {
		s.mu.Unlock()
		return
	}

	var presence PresenceValue
	if err := json.Unmarshal(value, &presence); err != nil {
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("key", string(key)).Msg("bad presence value")
		return
	}

	// A re-track from an established participant only updates media state.
	for _, p := range s.participants {
		if p.Key == key {
			p.Stream.ApplyState(presence.State)
			s.mu.Unlock()
			return
		}
	}

	// The room owner's own entry is never adjudicated.
	if presence.User.IsHostOf(s.code) {
		s.mu.Unlock()
		return
	}

	isHost := s.self.IsHostOf(s.code)
	hostKnown := s.hostKnownLocked()
	_, alreadyJoined := s.joinedIDs[presence.User.ID]
	_, rejected := s.rejectedIDs[presence.User.ID]

	if alreadyJoined {
		// Reconnection fast path: any joined client answers immediately,
		// honoring rejection. Duplicate accepts are idempotent.
		s.mu.Unlock()
		status := StatusAccepted
		if rejected {
			status = StatusRejected
		}
		s.SendJoinResponse([]domain.PresenceKey{key}, status)
		return
	}

	if !isHost && hostKnown {
		// Someone else adjudicates.
		s.mu.Unlock()
		return
	}

	if rejected {
		s.mu.Unlock()
		s.SendJoinResponse([]domain.PresenceKey{key}, StatusRejected)
		return
	}

	entry := WaitingEntry{Key: key, Identity: presence.User}
	s.waiting = append(s.waiting, entry)
	s.mu.Unlock()

	s.log.Info().Str("key", string(key)).Str("user", string(presence.User.ID)).Msg("join request queued")
	if s.hooks.OnWaiting != nil {
		s.hooks.OnWaiting(entry)
	}
}

func (s *RoomSession) handlePresenceLeave(key domain.PresenceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == s.key || s.hasJoined {
		return
	}
	s.removeWaitingLocked(key)
}

// hostKnownLocked reports whether a host edge is already established.
func (s *RoomSession) hostKnownLocked() bool {
	for _, p := range s.participants {
		if p.Identity.IsHostOf(s.code) {
			return true
		}
	}
	return false
}

func (s *RoomSession) removeWaitingLocked(keys ...domain.PresenceKey) {
	if len(s.waiting) == 0 {
		return
	}
	kept := s.waiting[:0]
	for _, w := range s.waiting {
		drop := false
		for _, k := range keys {
			if w.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, w)
		}
	}
	s.waiting = kept
}

// SendJoinResponse adjudicates waiting keys in bulk: the keys are removed
// from the waiting list as a side effect, then the response is broadcast.
func (s *RoomSession) SendJoinResponse(keys []domain.PresenceKey, status JoinStatus) {
	s.mu.Lock()
	s.removeWaitingLocked(keys...)
	room := s.room
	s.mu.Unlock()

	if room == nil {
		return
	}
	if err := room.Broadcast(eventJoinResponse, JoinResponse{Keys: keys, Status: status}); err != nil {
		s.log.Warn().Err(err).Msg("join response broadcast failed")
	}
}

// handleJoinResponse reacts to an adjudication naming this client's key.
// An accept while already joined is a no-op: concurrent admitters may
// produce duplicates.
func (s *RoomSession) handleJoinResponse(raw json.RawMessage) {
	var resp JoinResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Warn().Err(err).Msg("bad join response")
		return
	}

	s.mu.Lock()
	if s.key == "" || !resp.includes(s.key) {
		s.mu.Unlock()
		return
	}

	if resp.Status == StatusRejected {
		s.mu.Unlock()
		s.Leave()
		s.setState(core.StateRejected)
		return
	}

	if s.hasJoined {
		s.mu.Unlock()
		return
	}
	s.hasJoined = true
	room := s.room
	isAlone := len(room.PresenceState()) <= 1
	s.mu.Unlock()

	if isAlone || s.self.IsHostOf(s.code) {
		s.connectScreenChannel()
		s.setState(core.StateJoined)
	}

	// Aggregate one offer per present peer off the event goroutine, then
	// announce the mesh request. An empty room still sends the (empty)
	// request so the flow stays uniform.
	go func() {
		signals, err := s.createPeerSignals(context.Background())
		if err != nil {
			s.log.Error().Err(err).Msg("signal aggregation failed")
			return
		}
		s.mu.Lock()
		room, key := s.room, s.key
		s.mu.Unlock()
		if room == nil {
			return
		}
		if err := room.Broadcast(eventConnectionRequest, ConnectionRequest{Key: key, Signals: signals}); err != nil {
			s.log.Warn().Err(err).Msg("connection request broadcast failed")
		}
	}()
}

// handleLeaveEvent drops an identity from the already-joined memory so a
// rejoin goes through admission again.
func (s *RoomSession) handleLeaveEvent(raw json.RawMessage) {
	var evt LeaveEvent
	if err := json.Unmarshal(raw, &evt); err != nil || evt.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joinedIDs, evt.ID)
}
