package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
)

var (
	ErrNotSubscribed = errors.New("channel not subscribed")
	ErrChannelClosed = errors.New("channel closed")
)

const (
	writeWait = 5 * time.Second
	sendQueue = 32
)

// Client mints websocket-backed channels against one hub endpoint.
type Client struct {
	baseURL string
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL}
}

func (c *Client) Channel(topic string, key domain.PresenceKey, selfBroadcast bool) core.Channel {
	return &wsChannel{
		baseURL: c.baseURL,
		topic:   topic,
		key:     key,
		self:    selfBroadcast,
		send:    make(chan Frame, sendQueue),
		bcast:   make(map[string][]func(json.RawMessage)),
		state:   make(map[domain.PresenceKey]json.RawMessage),
	}
}

// wsChannel is one subscribed topic over its own websocket connection.
// Events are dispatched in arrival order on the read pump goroutine.
type wsChannel struct {
	baseURL string
	topic   string
	key     domain.PresenceKey
	self    bool

	mu         sync.RWMutex
	conn       *websocket.Conn
	send       chan Frame
	presenceFn []func(core.PresenceEvent)
	bcast      map[string][]func(json.RawMessage)
	state      map[domain.PresenceKey]json.RawMessage
	subscribed bool
	closed     bool
}

func (ch *wsChannel) Key() domain.PresenceKey { return ch.key }

func (ch *wsChannel) OnPresence(fn func(core.PresenceEvent)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.presenceFn = append(ch.presenceFn, fn)
}

func (ch *wsChannel) OnBroadcast(event string, fn func(json.RawMessage)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.bcast[event] = append(ch.bcast[event], fn)
}

// Subscribe dials the hub, announces the topic and waits for the
// subscribed frame carrying the presence snapshot, which is replayed to
// presence handlers as a sync event before Subscribe returns.
func (ch *wsChannel) Subscribe(ctx context.Context) error {
	ch.mu.Lock()
	if ch.subscribed || ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.mu.Unlock()

	endpoint, err := url.JoinPath(ch.baseURL, "api", "ws")
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}

	hello := Frame{Type: FrameSubscribe, Topic: ch.topic, Key: string(ch.key), Self: ch.self}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return err
	}
	if ack.Type == FrameError {
		_ = conn.Close()
		return errors.New(ack.Error)
	}
	if ack.Type != FrameSubscribed {
		_ = conn.Close()
		return errors.New("unexpected hub reply: " + ack.Type)
	}

	state := make(map[domain.PresenceKey]json.RawMessage, len(ack.State))
	for k, v := range ack.State {
		state[domain.PresenceKey(k)] = v
	}

	ch.mu.Lock()
	ch.conn = conn
	ch.state = state
	ch.subscribed = true
	fns := append([](func(core.PresenceEvent))(nil), ch.presenceFn...)
	ch.mu.Unlock()

	syncEvt := core.PresenceEvent{Type: core.PresenceSync, State: ch.PresenceState()}
	for _, fn := range fns {
		fn(syncEvt)
	}

	go ch.writePump(conn)
	go ch.readPump(conn)

	log.Debug().Str("module", "realtime").Str("topic", ch.topic).Str("key", string(ch.key)).Msg("subscribed")
	return nil
}

func (ch *wsChannel) Track(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return ch.enqueue(Frame{Type: FrameTrack, Value: raw})
}

func (ch *wsChannel) Untrack() error {
	return ch.enqueue(Frame{Type: FrameUntrack})
}

func (ch *wsChannel) Broadcast(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return ch.enqueue(Frame{Type: FrameBroadcast, Event: event, Value: raw})
}

func (ch *wsChannel) PresenceState() map[domain.PresenceKey]json.RawMessage {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make(map[domain.PresenceKey]json.RawMessage, len(ch.state))
	for k, v := range ch.state {
		out[k] = v
	}
	return out
}

func (ch *wsChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	conn := ch.conn
	close(ch.send)
	ch.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (ch *wsChannel) enqueue(f Frame) error {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if ch.closed {
		return ErrChannelClosed
	}
	if !ch.subscribed {
		return ErrNotSubscribed
	}
	select {
	case ch.send <- f:
		return nil
	default:
		return errors.New("send queue full")
	}
}

func (ch *wsChannel) writePump(conn *websocket.Conn) {
	for f := range ch.send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Warn().Err(err).Str("module", "realtime").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteJSON(f); err != nil {
			log.Warn().Err(err).Str("module", "realtime").Msg("writePump write error")
			return
		}
	}
}

func (ch *wsChannel) readPump(conn *websocket.Conn) {
	defer func() {
		ch.mu.Lock()
		wasClosed := ch.closed
		ch.mu.Unlock()
		if !wasClosed {
			log.Warn().Str("module", "realtime").Str("topic", ch.topic).Msg("hub connection lost")
		}
	}()

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		ch.dispatch(f)
	}
}

func (ch *wsChannel) dispatch(f Frame) {
	switch f.Type {
	case FramePresenceJoin:
		key := domain.PresenceKey(f.Key)
		ch.mu.Lock()
		ch.state[key] = f.Value
		fns := append([](func(core.PresenceEvent))(nil), ch.presenceFn...)
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(core.PresenceEvent{Type: core.PresenceJoin, Key: key, Value: f.Value})
		}
	case FramePresenceLeave:
		key := domain.PresenceKey(f.Key)
		ch.mu.Lock()
		delete(ch.state, key)
		fns := append([](func(core.PresenceEvent))(nil), ch.presenceFn...)
		ch.mu.Unlock()
		for _, fn := range fns {
			fn(core.PresenceEvent{Type: core.PresenceLeave, Key: key})
		}
	case FrameBroadcast:
		ch.mu.RLock()
		fns := append([](func(json.RawMessage))(nil), ch.bcast[f.Event]...)
		ch.mu.RUnlock()
		for _, fn := range fns {
			fn(f.Value)
		}
	default:
		log.Debug().Str("module", "realtime").Str("type", f.Type).Msg("ignoring frame")
	}
}
