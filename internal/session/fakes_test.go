package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/devhazem/meetmesh/internal/core"
)

// fakeNetwork pairs peers by the id carried in their fake signals, so two
// sessions wired to the same network negotiate edges exactly like two
// clients behind a real transport would.
type fakeNetwork struct {
	mu    sync.Mutex
	peers map[string]*fakePeer
	seq   int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{peers: make(map[string]*fakePeer)}
}

func (n *fakeNetwork) NewPeer(initiator bool, stream *core.MediaStream) (core.PeerLink, error) {
	n.mu.Lock()
	n.seq++
	id := fmt.Sprintf("fp-%d", n.seq)
	p := &fakePeer{net: n, id: id, initiator: initiator, local: stream}
	n.peers[id] = p
	n.mu.Unlock()

	if initiator {
		go p.emitSignal()
	}
	return p, nil
}

type fakeSignal struct {
	Peer string `json:"peer"`
}

type fakePeer struct {
	net       *fakeNetwork
	id        string
	initiator bool
	local     *core.MediaStream

	mu         sync.Mutex
	onSignal   func(json.RawMessage)
	onStream   func(*core.MediaStream)
	onData     func([]byte)
	onClose    func()
	pending    json.RawMessage
	streamSent bool
	closeFired bool
	remote     *fakePeer
}

func (p *fakePeer) OnSignal(fn func(json.RawMessage)) {
	p.mu.Lock()
	p.onSignal = fn
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	if pending != nil && fn != nil {
		fn(pending)
	}
}

func (p *fakePeer) OnStream(fn func(*core.MediaStream)) {
	p.mu.Lock()
	p.onStream = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnData(fn func([]byte)) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// Apply links this peer with the one named in the signal. Answerers emit
// their own signal afterwards; the receiving side's stream event fires once
// the linked peer carries local media.
func (p *fakePeer) Apply(data json.RawMessage) error {
	var sig fakeSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return err
	}

	p.net.mu.Lock()
	other := p.net.peers[sig.Peer]
	p.net.mu.Unlock()
	if other == nil {
		return errors.New("unknown peer in signal")
	}

	p.mu.Lock()
	p.remote = other
	p.mu.Unlock()
	other.mu.Lock()
	other.remote = p
	other.mu.Unlock()

	if !p.initiator {
		go p.emitSignal()
	}
	go p.deliverStream(other)
	go other.deliverStream(p)
	return nil
}

func (p *fakePeer) Send(payload []byte) error {
	p.mu.Lock()
	remote := p.remote
	p.mu.Unlock()
	if remote == nil {
		return errors.New("no linked peer")
	}
	go func() {
		remote.mu.Lock()
		fn := remote.onData
		remote.mu.Unlock()
		if fn != nil {
			fn(payload)
		}
	}()
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	remote := p.remote
	p.mu.Unlock()
	p.fireClose()
	if remote != nil {
		go remote.fireClose()
	}
}

func (p *fakePeer) emitSignal() {
	data, _ := json.Marshal(fakeSignal{Peer: p.id})

	p.mu.Lock()
	fn := p.onSignal
	if fn == nil {
		p.pending = data
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(data)
}

// deliverStream hands a detached copy of the sender's media to the
// receiver, so enabled-flag changes travel through presence and not
// through shared pointers.
func (p *fakePeer) deliverStream(from *fakePeer) {
	if from.local == nil {
		return
	}

	p.mu.Lock()
	fn := p.onStream
	if fn == nil || p.streamSent {
		p.mu.Unlock()
		return
	}
	p.streamSent = true
	p.mu.Unlock()

	stream := &core.MediaStream{}
	if from.local.Video != nil {
		stream.Video = core.NewRemoteTrack(core.TrackVideo, nil)
	}
	if from.local.Audio != nil {
		stream.Audio = core.NewRemoteTrack(core.TrackAudio, nil)
	}
	fn(stream)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeFired
}

func (p *fakePeer) fireClose() {
	p.mu.Lock()
	if p.closeFired {
		p.mu.Unlock()
		return
	}
	p.closeFired = true
	fn := p.onClose
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fakeMedia acquires fake tracks honoring the constraints. Kinds listed in
// fail make the whole acquisition fail, which exercises the constraint
// ladder.
type fakeMedia struct {
	failVideo bool
	failAudio bool
}

func (m fakeMedia) Acquire(_ context.Context, c core.Constraints) (*core.MediaStream, error) {
	if (c.Video && m.failVideo) || (c.Audio && m.failAudio) {
		return nil, errors.New("device unavailable")
	}
	stream := &core.MediaStream{}
	if c.Video {
		stream.Video = core.NewLocalTrack(core.TrackVideo, nil)
	}
	if c.Audio {
		stream.Audio = core.NewLocalTrack(core.TrackAudio, nil)
	}
	return stream, nil
}
