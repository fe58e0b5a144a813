package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

const memQueue = 1024

// MemoryHub is an in-process channel factory. Every channel minted from
// the same hub shares topic state, so two sessions wired to one hub see
// each other exactly as they would through the websocket hub.
type MemoryHub struct {
	mu     sync.Mutex
	topics map[string]*memTopic
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{topics: make(map[string]*memTopic)}
}

func (h *MemoryHub) Channel(topic string, key domain.PresenceKey, selfBroadcast bool) core.Channel {
	return &memChannel{
		hub:   h,
		topic: topic,
		key:   key,
		self:  selfBroadcast,
		queue: make(chan memEvent, memQueue),
		bcast: make(map[string][]func(json.RawMessage)),
	}
}

func (h *MemoryHub) getTopic(name string) *memTopic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &memTopic{
			presence: make(map[domain.PresenceKey]json.RawMessage),
			members:  make(map[*memChannel]struct{}),
		}
		h.topics[name] = t
	}
	return t
}

// memTopic holds the authoritative presence map for one topic and the
// set of live subscribers.
type memTopic struct {
	mu       sync.Mutex
	presence map[domain.PresenceKey]json.RawMessage
	members  map[*memChannel]struct{}
}

type memEvent struct {
	presence *core.PresenceEvent
	event    string
	payload  json.RawMessage
}

// memChannel delivers events in order on one dispatcher goroutine per
// channel. Enqueue is non-blocking; a full queue drops the event.
type memChannel struct {
	hub   *MemoryHub
	topic string
	key   domain.PresenceKey
	self  bool

	mu         sync.Mutex
	queue      chan memEvent
	presenceFn []func(core.PresenceEvent)
	bcast      map[string][]func(json.RawMessage)
	tracked    bool
	subscribed bool
	closed     bool
}

func (ch *memChannel) Key() domain.PresenceKey { return ch.key }

func (ch *memChannel) OnPresence(fn func(core.PresenceEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.presenceFn = append(ch.presenceFn, fn)
}

func (ch *memChannel) OnBroadcast(event string, fn func(json.RawMessage)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.bcast[event] = append(ch.bcast[event], fn)
}

func (ch *memChannel) Subscribe(_ context.Context) error {
	ch.mu.Lock()
	if ch.subscribed || ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.subscribed = true
	ch.mu.Unlock()

	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	t.members[ch] = struct{}{}
	snapshot := snapshotLocked(t)
	t.mu.Unlock()

	go ch.dispatchLoop()

	ch.enqueue(memEvent{presence: &core.PresenceEvent{Type: core.PresenceSync, State: snapshot}})
	return nil
}

func (ch *memChannel) Track(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	if !ch.subscribed {
		ch.mu.Unlock()
		return ErrNotSubscribed
	}
	ch.tracked = true
	ch.mu.Unlock()

	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	t.presence[ch.key] = raw
	ev := memEvent{presence: &core.PresenceEvent{Type: core.PresenceJoin, Key: ch.key, Value: raw}}
	for m := range t.members {
		m.enqueue(ev)
	}
	t.mu.Unlock()
	return nil
}

func (ch *memChannel) Untrack() error {
	ch.mu.Lock()
	if !ch.subscribed {
		ch.mu.Unlock()
		return ErrNotSubscribed
	}
	ch.tracked = false
	ch.mu.Unlock()

	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	delete(t.presence, ch.key)
	ev := memEvent{presence: &core.PresenceEvent{Type: core.PresenceLeave, Key: ch.key}}
	for m := range t.members {
		m.enqueue(ev)
	}
	t.mu.Unlock()
	return nil
}

func (ch *memChannel) Broadcast(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return ErrChannelClosed
	}
	if !ch.subscribed {
		ch.mu.Unlock()
		return ErrNotSubscribed
	}
	ch.mu.Unlock()

	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	for m := range t.members {
		if m == ch && !ch.self {
			continue
		}
		m.enqueue(memEvent{event: event, payload: raw})
	}
	t.mu.Unlock()
	return nil
}

func (ch *memChannel) PresenceState() map[domain.PresenceKey]json.RawMessage {
	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshotLocked(t)
}

func (ch *memChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	wasSubscribed := ch.subscribed
	wasTracked := ch.tracked
	close(ch.queue)
	ch.mu.Unlock()

	if !wasSubscribed {
		return
	}

	t := ch.hub.getTopic(ch.topic)
	t.mu.Lock()
	delete(t.members, ch)
	if wasTracked {
		delete(t.presence, ch.key)
		ev := memEvent{presence: &core.PresenceEvent{Type: core.PresenceLeave, Key: ch.key}}
		for m := range t.members {
			m.enqueue(ev)
		}
	}
	t.mu.Unlock()
}

func (ch *memChannel) enqueue(ev memEvent) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	select {
	case ch.queue <- ev:
	default:
		log.Warn().Str("module", "realtime").Str("topic", ch.topic).Msg("memory channel queue full, dropping event")
	}
}

func (ch *memChannel) dispatchLoop() {
	for ev := range ch.queue {
		if ev.presence != nil {
			ch.mu.Lock()
			fns := append([](func(core.PresenceEvent))(nil), ch.presenceFn...)
			ch.mu.Unlock()
			for _, fn := range fns {
				fn(*ev.presence)
			}
			continue
		}
		ch.mu.Lock()
		fns := append([](func(json.RawMessage))(nil), ch.bcast[ev.event]...)
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(ev.payload)
		}
	}
}

func snapshotLocked(t *memTopic) map[domain.PresenceKey]json.RawMessage {
	out := make(map[domain.PresenceKey]json.RawMessage, len(t.presence))
	for k, v := range t.presence {
		out[k] = v
	}
	return out
}
