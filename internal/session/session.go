package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

// MaxParticipants is the room capacity checked at subscribe time.
const MaxParticipants = 150

// Participant is one registry row: an established mesh edge with the
// remote identity and, when negotiated with media, its stream.
type Participant struct {
	Key      domain.PresenceKey
	Identity domain.Identity
	Stream   *core.MediaStream
}

// WaitingEntry is a join request awaiting adjudication. Only the host (or,
// before a host is known, the earliest-present client) holds these.
type WaitingEntry struct {
	Key      domain.PresenceKey
	Identity domain.Identity
}

// Presenter is the room-wide screen-share singleton.
type Presenter struct {
	Key      domain.PresenceKey
	Identity domain.Identity
}

// Hooks are out-of-band notifications for the presentation layer.
// They are invoked from session goroutines and must not call back into
// the session synchronously. Any of them may be nil.
type Hooks struct {
	OnState             func(state core.State)
	OnWaiting           func(entry WaitingEntry)
	OnParticipantJoined func(p Participant)
	OnParticipantLeft   func(p Participant)
	OnChat              func(msg domain.ChatMessage)
	OnPresenter         func(p *Presenter)
	OnScreenStream      func(stream *core.MediaStream)
	OnMuted             func(muted bool)
}

// RoomSession owns every piece of mutable meeting state for one attempt:
// presence-derived views, the pending-edge arena, waiting and rejected
// sets, chat history and the screen-share coordinator. It is handed by
// reference to every handler; there is no ambient module state.
type RoomSession struct {
	code     domain.RoomCode
	self     domain.Identity
	channels core.ChannelFactory
	peers    core.PeerFactory
	media    core.MediaProvider
	hooks    Hooks
	log      zerolog.Logger

	mu        sync.Mutex
	state     core.State
	room      core.Channel
	screen    core.Channel
	key       domain.PresenceKey
	hasJoined bool

	localStream *core.MediaStream
	isMuted     bool

	// edges holds one peer link per remote key, pending or established.
	// Inserting under an occupied key disposes the previous link first.
	edges        map[domain.PresenceKey]core.PeerLink
	participants []*Participant
	waiting      []WaitingEntry

	// joinedIDs remembers identity ids that completed a handshake this
	// session; rejectedIDs persists explicit removals until an explicit
	// accept overrides them.
	joinedIDs   map[domain.UserID]struct{}
	rejectedIDs map[domain.UserID]struct{}
	mutedKeys   map[domain.PresenceKey]struct{}

	chat    []domain.ChatMessage
	speaker domain.PresenceKey
	pinned  domain.PresenceKey

	presenterKey domain.PresenceKey
	presenter    *Presenter
	screenPeer   core.PeerLink
	screenRecv   core.PeerLink
	screenStream *core.MediaStream
}

// New creates a session for one meeting attempt. Nothing is subscribed
// until Connect.
func New(code domain.RoomCode, self domain.Identity, channels core.ChannelFactory, peers core.PeerFactory, media core.MediaProvider, hooks Hooks) *RoomSession {
	return &RoomSession{
		code:        code,
		self:        self,
		channels:    channels,
		peers:       peers,
		media:       media,
		hooks:       hooks,
		log:         log.With().Str("module", "session").Str("room", string(code)).Logger(),
		edges:       make(map[domain.PresenceKey]core.PeerLink),
		joinedIDs:   make(map[domain.UserID]struct{}),
		rejectedIDs: make(map[domain.UserID]struct{}),
		mutedKeys:   make(map[domain.PresenceKey]struct{}),
	}
}

// Connect subscribes the meeting-room channel and resolves the initial
// state: full when the presence count is already at capacity, ready
// otherwise. It never tracks presence by itself.
func (s *RoomSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		return nil
	}
	key := domain.PresenceKey(uuid.NewString())
	ch := s.channels.Channel(s.code.Topic(), key, true)

	ch.OnPresence(s.handleRoomPresence)
	ch.OnBroadcast(eventJoinResponse, s.handleJoinResponse)
	ch.OnBroadcast(eventConnectionRequest, s.handleConnectionRequest)
	ch.OnBroadcast(eventConnectionResponse, s.handleConnectionResponse)
	ch.OnBroadcast(eventChatMessage, s.handleChatMessage)
	ch.OnBroadcast(eventLeave, s.handleLeaveEvent)

	s.room = ch
	s.key = key
	s.mu.Unlock()

	if err := ch.Subscribe(ctx); err != nil {
		s.log.Error().Err(err).Msg("subscribe failed")
		s.setState(core.StateError)
		return err
	}

	if len(ch.PresenceState()) >= MaxParticipants {
		s.log.Warn().Int("count", len(ch.PresenceState())).Msg("room is full")
		s.setState(core.StateFull)
		return nil
	}

	s.mu.Lock()
	if s.state != core.StateJoined {
		s.state = core.StateReady
	}
	state := s.state
	s.mu.Unlock()
	s.notifyState(state)
	return nil
}

// Join requests admission: acquire local media with a reducing-constraints
// fallback (never fatal), then track the presence entry. A room owner
// admits itself by echoing an accepted join response.
func (s *RoomSession) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.room == nil || s.state.Terminal() || s.state == core.StateJoining || s.state == core.StateJoined {
		s.mu.Unlock()
		return nil
	}
	s.state = core.StateJoining
	s.mu.Unlock()
	s.notifyState(core.StateJoining)

	stream := s.acquireMedia(ctx)
	s.mu.Lock()
	s.localStream = stream
	room := s.room
	key := s.key
	s.mu.Unlock()

	if err := s.track(); err != nil {
		s.setState(core.StateError)
		return err
	}

	if s.self.IsHostOf(s.code) {
		return room.Broadcast(eventJoinResponse, JoinResponse{
			Keys:   []domain.PresenceKey{key},
			Status: StatusAccepted,
		})
	}
	return nil
}

// acquireMedia walks the constraint ladder: both kinds, audio only, video
// only, then gives up silently. Total failure is degraded, not fatal.
func (s *RoomSession) acquireMedia(ctx context.Context) *core.MediaStream {
	ladder := []core.Constraints{
		{Video: true, Audio: true},
		{Audio: true},
		{Video: true},
	}
	for _, c := range ladder {
		stream, err := s.media.Acquire(ctx, c)
		if err == nil {
			return stream
		}
		s.log.Warn().Err(err).Bool("video", c.Video).Bool("audio", c.Audio).Msg("media acquisition failed, reducing constraints")
	}
	return nil
}

// track publishes the current presence entry (identity + media state).
// Called on join and again whenever the local media state changes.
func (s *RoomSession) track() error {
	s.mu.Lock()
	room := s.room
	value := PresenceValue{User: s.self, State: s.localStream.State()}
	s.mu.Unlock()
	if room == nil {
		return nil
	}
	return room.Track(value)
}

// SetMediaEnabled toggles a local track and re-publishes the presence
// entry so every participant applies the new state.
func (s *RoomSession) SetMediaEnabled(kind core.TrackKind, enabled bool) error {
	s.mu.Lock()
	stream := s.localStream
	s.mu.Unlock()
	if stream == nil {
		return nil
	}
	switch kind {
	case core.TrackVideo:
		if stream.Video == nil {
			return nil
		}
		stream.Video.SetEnabled(enabled)
	case core.TrackAudio:
		if stream.Audio == nil {
			return nil
		}
		stream.Audio.SetEnabled(enabled)
	}
	return s.track()
}

// HangUp broadcasts the leave event so other participants drop this
// identity from their already-joined memory, then tears down locally.
func (s *RoomSession) HangUp() {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room != nil {
		if err := room.Broadcast(eventLeave, LeaveEvent{ID: s.self.ID}); err != nil {
			s.log.Warn().Err(err).Msg("leave broadcast failed")
		}
	}
	s.Leave()
}

// Leave destroys every active edge synchronously, stops screen capture and
// unsubscribes both channels. A pending signal aggregation is not
// cancelled; its result is discarded when the broadcast hits a nil channel.
func (s *RoomSession) Leave() {
	s.mu.Lock()
	edges := s.edges
	s.edges = make(map[domain.PresenceKey]core.PeerLink)
	room, screen := s.room, s.screen
	screenPeer, screenRecv := s.screenPeer, s.screenRecv
	screenStream := s.screenStream
	s.room, s.screen = nil, nil
	s.screenPeer, s.screenRecv = nil, nil
	s.screenStream = nil
	s.hasJoined = false
	s.key = ""
	s.mu.Unlock()

	for _, edge := range edges {
		edge.Close()
	}
	if screenPeer != nil {
		screenPeer.Close()
	}
	if screenRecv != nil {
		screenRecv.Close()
	}
	screenStream.StopTracks()
	if screen != nil {
		screen.Close()
	}
	if room != nil {
		room.Close()
	}
	s.log.Info().Msg("left the room")
}

func (s *RoomSession) setState(state core.State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notifyState(state)
}

func (s *RoomSession) notifyState(state core.State) {
	s.log.Info().Str("state", state.String()).Msg("state changed")
	if s.hooks.OnState != nil {
		s.hooks.OnState(state)
	}
}

// State returns the current observable session state.
func (s *RoomSession) State() core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key returns the transport-scoped presence key of this client.
func (s *RoomSession) Key() domain.PresenceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// IsMuted reports whether a moderator muted this client.
func (s *RoomSession) IsMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMuted
}

// LocalStream exposes the acquired local media, if any.
func (s *RoomSession) LocalStream() *core.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localStream
}

// Host derives the host row: the participant whose owned room code equals
// this room's code. There is no election and no failover.
func (s *RoomSession) Host() (Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p.Identity.IsHostOf(s.code) {
			return *p, true
		}
	}
	return Participant{}, false
}

// Participants snapshots the registry rows in arrival order.
func (s *RoomSession) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	return out
}

// Waiting snapshots the waiting-room entries.
func (s *RoomSession) Waiting() []WaitingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]WaitingEntry(nil), s.waiting...)
}

// ChatHistory snapshots the chat list; its length never decreases.
func (s *RoomSession) ChatHistory() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.chat...)
}

// SetSpeaker records the active speaker key; cleared automatically when
// that participant's edge closes.
func (s *RoomSession) SetSpeaker(key domain.PresenceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = key
}

func (s *RoomSession) Speaker() domain.PresenceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// SetPinned records the pinned participant key for the layout.
func (s *RoomSession) SetPinned(key domain.PresenceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned = key
}

func (s *RoomSession) Pinned() domain.PresenceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

// MutedKeys snapshots the host-side record of muted participants.
func (s *RoomSession) MutedKeys() []domain.PresenceKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PresenceKey, 0, len(s.mutedKeys))
	for k := range s.mutedKeys {
		out = append(out, k)
	}
	return out
}

// Presenter returns the current screen-share singleton, if any.
func (s *RoomSession) Presenter() *Presenter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presenter == nil {
		return nil
	}
	p := *s.presenter
	return &p
}

// ScreenStream exposes the inbound or outbound screen-share stream.
func (s *RoomSession) ScreenStream() *core.MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenStream
}
