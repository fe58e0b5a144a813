// Package hub is the websocket presence/broadcast server. Each
// connection subscribes to exactly one topic; the hub keeps the
// authoritative presence map per topic and fans out track, untrack and
// broadcast frames to the topic's members.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/adapters/realtime"
	"github.com/devhazem/meetmesh/internal/domain"
)

const (
	subscribeLimit  = 10
	subscribeWindow = time.Minute
)

type Hub struct {
	mu      sync.Mutex
	topics  map[string]*topic
	limiter *SubscribeRateLimiter
}

func New() *Hub {
	return &Hub{
		topics:  make(map[string]*topic),
		limiter: NewSubscribeRateLimiter(subscribeLimit, subscribeWindow),
	}
}

type topic struct {
	mu       sync.Mutex
	name     string
	presence map[domain.PresenceKey]json.RawMessage
	members  map[*client]struct{}
}

func (h *Hub) getTopic(name string) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[name]
	if !ok {
		t = &topic{
			name:     name,
			presence: make(map[domain.PresenceKey]json.RawMessage),
			members:  make(map[*client]struct{}),
		}
		h.topics[name] = t
	}
	return t
}

// subscribe registers the client and returns the presence snapshot it
// must receive in its subscribed frame.
func (h *Hub) subscribe(c *client) map[string]json.RawMessage {
	t := h.getTopic(c.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.members[c] = struct{}{}
	snapshot := make(map[string]json.RawMessage, len(t.presence))
	for k, v := range t.presence {
		snapshot[string(k)] = v
	}
	return snapshot
}

func (h *Hub) track(c *client, value json.RawMessage) {
	t := h.getTopic(c.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	t.presence[c.key] = value
	frame := realtime.Frame{Type: realtime.FramePresenceJoin, Key: string(c.key), Value: value}
	for m := range t.members {
		if err := m.trySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("key", string(m.key)).Msg("dropping frame")
		}
	}
}

func (h *Hub) untrack(c *client) {
	t := h.getTopic(c.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.presence[c.key]; !ok {
		return
	}
	delete(t.presence, c.key)
	frame := realtime.Frame{Type: realtime.FramePresenceLeave, Key: string(c.key)}
	for m := range t.members {
		if err := m.trySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("key", string(m.key)).Msg("dropping frame")
		}
	}
}

func (h *Hub) broadcast(c *client, event string, value json.RawMessage) {
	t := h.getTopic(c.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	frame := realtime.Frame{Type: realtime.FrameBroadcast, Event: event, Value: value}
	for m := range t.members {
		if m == c && !c.self {
			continue
		}
		if err := m.trySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "hub").Str("key", string(m.key)).Msg("dropping frame")
		}
	}
}

// drop removes a disconnected client and untracks its presence if it
// never sent an explicit untrack.
func (h *Hub) drop(c *client) {
	t := h.getTopic(c.topic)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.members[c]; !ok {
		return
	}
	delete(t.members, c)

	if _, tracked := t.presence[c.key]; tracked && c.tracked {
		delete(t.presence, c.key)
		frame := realtime.Frame{Type: realtime.FramePresenceLeave, Key: string(c.key)}
		for m := range t.members {
			if err := m.trySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "hub").Str("key", string(m.key)).Msg("dropping frame")
			}
		}
	}

	if len(t.members) == 0 {
		h.mu.Lock()
		delete(h.topics, t.name)
		h.mu.Unlock()
		log.Debug().Str("module", "hub").Str("topic", t.name).Msg("topic released")
	}
}
