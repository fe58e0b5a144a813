// Package rtc adapts pion/webrtc peer connections to the core.PeerLink
// contract: vanilla ICE (one fully gathered description per direction),
// a moderation data channel per edge and optional local media.
package rtc

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/core"
)

const moderationChannel = "moderation"

var ErrNoDataChannel = errors.New("data channel not open")

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// Factory builds peer links from one shared webrtc.Configuration.
type Factory struct {
	cfg webrtc.Configuration
}

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewPeer(initiator bool, stream *core.MediaStream) (core.PeerLink, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}

	p := &Peer{pc: pc, initiator: initiator}

	for _, track := range stream.Tracks() {
		if track.Local == nil {
			continue
		}
		if _, err := pc.AddTrack(track.Local); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			p.fireClose()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		p.addRemoteTrack(track)
	})

	if initiator {
		dc, err := pc.CreateDataChannel(moderationChannel, nil)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		p.bindDataChannel(dc)

		go p.negotiateOffer()
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != moderationChannel {
				return
			}
			p.bindDataChannel(dc)
		})
	}

	return p, nil
}

// Peer is one mesh edge. The signal callback fires exactly once with the
// complete local description after ICE gathering finishes.
type Peer struct {
	pc        *webrtc.PeerConnection
	initiator bool

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	dcOpen      bool
	onSignal    func(json.RawMessage)
	onStream    func(*core.MediaStream)
	onData      func([]byte)
	onClose     func()
	pending     json.RawMessage
	signalFired bool
	closeFired  bool
	remote      *core.MediaStream
	streamSent  bool
}

func (p *Peer) OnSignal(fn func(json.RawMessage)) {
	p.mu.Lock()
	p.onSignal = fn
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	if pending != nil && fn != nil {
		fn(pending)
	}
}

func (p *Peer) OnStream(fn func(*core.MediaStream)) {
	p.mu.Lock()
	p.onStream = fn
	ready := p.remote
	sent := p.streamSent
	if ready != nil && !sent {
		p.streamSent = true
	}
	p.mu.Unlock()
	if ready != nil && !sent && fn != nil {
		fn(ready)
	}
}

func (p *Peer) OnData(fn func([]byte)) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// Apply sets the remote description: the offer for answerers (which then
// produce their own gathered answer) or the answer for initiators.
func (p *Peer) Apply(data json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return err
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	if p.initiator {
		return nil
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	go func() {
		<-gathered
		p.emitSignal()
	}()
	return nil
}

func (p *Peer) Send(payload []byte) error {
	p.mu.Lock()
	dc := p.dc
	open := p.dcOpen
	p.mu.Unlock()
	if dc == nil || !open {
		return ErrNoDataChannel
	}
	return dc.Send(payload)
}

func (p *Peer) Close() {
	if err := p.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("peer close")
	}
	p.fireClose()
}

func (p *Peer) negotiateOffer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("create offer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("set local offer")
		return
	}
	<-gathered
	p.emitSignal()
}

// emitSignal delivers the gathered local description once, buffering it
// when the callback is not registered yet.
func (p *Peer) emitSignal() {
	desc := p.pc.LocalDescription()
	if desc == nil {
		return
	}
	data, err := json.Marshal(desc)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("marshal local description")
		return
	}

	p.mu.Lock()
	if p.signalFired {
		p.mu.Unlock()
		return
	}
	fn := p.onSignal
	if fn == nil {
		p.pending = data
		p.mu.Unlock()
		return
	}
	p.signalFired = true
	p.mu.Unlock()
	fn(data)
}

func (p *Peer) bindDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.mu.Lock()
		p.dcOpen = true
		p.mu.Unlock()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		fn := p.onData
		p.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// addRemoteTrack folds per-track callbacks into one stream event: the
// stream fires with the first track, later tracks attach to it.
func (p *Peer) addRemoteTrack(track *webrtc.TrackRemote) {
	kind := core.TrackAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.TrackVideo
	}

	p.mu.Lock()
	if p.remote == nil {
		p.remote = &core.MediaStream{}
	}
	switch kind {
	case core.TrackVideo:
		p.remote.Video = core.NewRemoteTrack(kind, track)
	case core.TrackAudio:
		p.remote.Audio = core.NewRemoteTrack(kind, track)
	}
	fn := p.onStream
	first := !p.streamSent && fn != nil
	if first {
		p.streamSent = true
	}
	stream := p.remote
	p.mu.Unlock()

	if first {
		fn(stream)
	}
}

func (p *Peer) fireClose() {
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
