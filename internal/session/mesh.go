package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// createPeerSignals instantiates one initiator peer per foreign presence
// key and gathers their offer envelopes behind a counting barrier. The
// returned map resolves only once every peer produced its envelope; an
// empty room resolves immediately.
func (s *RoomSession) createPeerSignals(ctx context.Context) (map[domain.PresenceKey]*core.SignalEnvelope, error) {
	s.mu.Lock()
	room := s.room
	selfKey := s.key
	stream := s.localStream
	s.mu.Unlock()
	if room == nil {
		return nil, nil
	}

	state := room.PresenceState()
	signals := make(map[domain.PresenceKey]*core.SignalEnvelope)
	var signalsMu sync.Mutex

	remaining := 0
	for key := range state {
		if key != selfKey {
			remaining++
		}
	}
	barrier := core.NewBarrier(remaining)
	if remaining == 0 {
		return signals, nil
	}

	isHost := s.self.IsHostOf(s.code)

	for key, raw := range state {
		if key == selfKey {
			continue
		}

		var presence PresenceValue
		if err := json.Unmarshal(raw, &presence); err != nil {
			s.log.Warn().Err(err).Str("key", string(key)).Msg("bad presence value in snapshot")
			barrier.Arrive()
			continue
		}

		// The host keeps offered peers on the waiting list until their
		// connection response settles the edge.
		if isHost && presence.User.ID != s.self.ID {
			s.mu.Lock()
			s.waiting = append(s.waiting, WaitingEntry{Key: key, Identity: presence.User})
			s.mu.Unlock()
		}

		peer, err := s.peers.NewPeer(true, stream)
		if err != nil {
			s.log.Error().Err(err).Str("key", string(key)).Msg("initiator peer failed")
			barrier.Arrive()
			continue
		}

		key := key
		peer.OnSignal(func(data json.RawMessage) {
			signalsMu.Lock()
			signals[key] = &core.SignalEnvelope{WithStream: stream != nil, Data: data}
			signalsMu.Unlock()
			barrier.Arrive()
		})

		s.storeEdge(key, peer)
	}

	if err := barrier.Wait(ctx); err != nil {
		return nil, err
	}
	return signals, nil
}

// storeEdge inserts a link into the edge arena, disposing any previous
// link under the same key first. At most one active edge per remote key.
func (s *RoomSession) storeEdge(key domain.PresenceKey, peer core.PeerLink) {
	s.mu.Lock()
	old := s.edges[key]
	s.edges[key] = peer
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// handleConnectionRequest answers a mesh request that carries an offer
// for this client. A newer request supersedes any pending edge from the
// same caller.
func (s *RoomSession) handleConnectionRequest(raw json.RawMessage) {
	var req ConnectionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warn().Err(err).Msg("bad connection request")
		return
	}

	s.mu.Lock()
	if !s.hasJoined || req.Key == s.key || req.Key == "" {
		s.mu.Unlock()
		return
	}
	selfKey := s.key
	stream := s.localStream
	room := s.room
	s.mu.Unlock()

	env := req.Signals[selfKey]
	if env == nil {
		// Not addressed to us; consistency comes from a later exchange.
		return
	}

	peer, err := s.peers.NewPeer(false, stream)
	if err != nil {
		s.log.Error().Err(err).Str("caller", string(req.Key)).Msg("answerer peer failed")
		return
	}

	peer.OnSignal(func(data json.RawMessage) {
		if room == nil {
			return
		}
		resp := ConnectionResponse{
			Key:       selfKey,
			CallerKey: req.Key,
			Signal:    core.SignalEnvelope{WithStream: stream != nil, Data: data},
		}
		if err := room.Broadcast(eventConnectionResponse, resp); err != nil {
			s.log.Warn().Err(err).Msg("connection response broadcast failed")
		}
	})

	// Handlers must be live before the remote signal is applied: the
	// stream event can fire as soon as negotiation completes.
	s.registerEdgeHandlers(req.Key, peer, env.WithStream)

	if err := peer.Apply(env.Data); err != nil {
		s.log.Error().Err(err).Str("caller", string(req.Key)).Msg("apply offer failed")
		peer.Close()
		return
	}
	s.storeEdge(req.Key, peer)
}

// handleConnectionResponse finalizes the matching pending initiator edge.
// Responses without one are stale or duplicated and are dropped.
func (s *RoomSession) handleConnectionResponse(raw json.RawMessage) {
	var resp ConnectionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Warn().Err(err).Msg("bad connection response")
		return
	}

	s.mu.Lock()
	if resp.CallerKey != s.key {
		s.mu.Unlock()
		return
	}
	peer, ok := s.edges[resp.Key]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.registerEdgeHandlers(resp.Key, peer, resp.Signal.WithStream)

	if err := peer.Apply(resp.Signal.Data); err != nil {
		s.log.Error().Err(err).Str("key", string(resp.Key)).Msg("apply answer failed")
		return
	}

	s.mu.Lock()
	s.removeWaitingLocked(resp.Key)
	s.mu.Unlock()

	s.connectScreenChannel()
	s.setState(core.StateJoined)
}
