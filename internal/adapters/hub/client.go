package hub

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/adapters/realtime"
	"github.com/devhazem/meetmesh/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection bound to a single topic after its
// subscribe frame is accepted.
type client struct {
	conn  *websocket.Conn
	send  chan realtime.Frame
	topic string
	key   domain.PresenceKey
	self  bool

	mu      sync.RWMutex
	tracked bool
	closed  bool
}

func (c *client) trySend(f realtime.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleWS upgrades the connection and runs the subscribe handshake
// before starting the pumps. The client token set by the session
// middleware identifies the connection in logs only; presence identity
// is the key the subscriber announces.
func (h *Hub) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("ws upgrade")
		return
	}

	var hello realtime.Frame
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return
	}
	if hello.Type != realtime.FrameSubscribe || hello.Topic == "" || hello.Key == "" {
		_ = ws.WriteJSON(realtime.Frame{Type: realtime.FrameError, Error: "subscribe frame expected"})
		_ = ws.Close()
		return
	}
	if !h.limiter.Allow(domain.PresenceKey(hello.Key)) {
		_ = ws.WriteJSON(realtime.Frame{Type: realtime.FrameError, Error: "too many subscribe attempts"})
		_ = ws.Close()
		return
	}

	cl := &client{
		conn:  ws,
		send:  make(chan realtime.Frame, 32),
		topic: hello.Topic,
		key:   domain.PresenceKey(hello.Key),
		self:  hello.Self,
	}

	snapshot := h.subscribe(cl)
	if err := ws.WriteJSON(realtime.Frame{Type: realtime.FrameSubscribed, Topic: cl.topic, State: snapshot}); err != nil {
		h.drop(cl)
		cl.close()
		return
	}

	log.Info().
		Str("module", "hub").
		Str("token", token).
		Str("topic", cl.topic).
		Str("key", string(cl.key)).
		Msg("subscribed")

	go h.writePump(ctx, cl)
	go h.readPump(ctx, cl)
}

func (h *Hub) writePump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "hub").Msg("writePump ctx done")
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		log.Info().Str("module", "hub").Str("key", string(c.key)).Msg("readPump closing")
		h.drop(c)
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var f realtime.Frame
			if err := c.conn.ReadJSON(&f); err != nil {
				return
			}
			h.handleFrame(c, f)
		}
	}
}

func (h *Hub) handleFrame(c *client, f realtime.Frame) {
	switch f.Type {
	case realtime.FrameTrack:
		c.mu.Lock()
		c.tracked = true
		c.mu.Unlock()
		h.track(c, f.Value)
	case realtime.FrameUntrack:
		c.mu.Lock()
		c.tracked = false
		c.mu.Unlock()
		h.untrack(c)
	case realtime.FrameBroadcast:
		h.broadcast(c, f.Event, f.Value)
	default:
		log.Warn().Str("module", "hub").Str("type", f.Type).Msg("unknown frame")
	}
}
