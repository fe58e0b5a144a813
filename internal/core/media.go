package core

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/devhazem/meetmesh/internal/domain"
)

type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaTrack is one local or remote track with a toggleable enabled flag.
// For local tracks Local is set; for tracks received over an edge Remote is.
type MediaTrack struct {
	Kind   TrackKind
	Local  webrtc.TrackLocal
	Remote *webrtc.TrackRemote

	mu      sync.Mutex
	enabled bool
	onEnded func()
}

func NewLocalTrack(kind TrackKind, local webrtc.TrackLocal) *MediaTrack {
	return &MediaTrack{Kind: kind, Local: local, enabled: true}
}

func NewRemoteTrack(kind TrackKind, remote *webrtc.TrackRemote) *MediaTrack {
	return &MediaTrack{Kind: kind, Remote: remote, enabled: true}
}

func (t *MediaTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *MediaTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// OnEnded registers a callback fired once when the track stops for good,
// e.g. the OS-level "stop sharing" action on a screen-capture track.
func (t *MediaTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// Stop ends the track and fires the OnEnded callback at most once.
func (t *MediaTrack) Stop() {
	t.mu.Lock()
	fn := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MediaStream groups at most one video and one audio track.
type MediaStream struct {
	Video *MediaTrack
	Audio *MediaTrack
}

// State reports the enabled flags, the shape published via presence.
// A nil stream reports everything disabled.
func (s *MediaStream) State() domain.MediaState {
	if s == nil {
		return domain.MediaState{}
	}
	return domain.MediaState{
		Video: s.Video != nil && s.Video.Enabled(),
		Audio: s.Audio != nil && s.Audio.Enabled(),
	}
}

// ApplyState overrides the enabled flags from a remote presence value.
func (s *MediaStream) ApplyState(state domain.MediaState) {
	if s == nil {
		return
	}
	if s.Video != nil {
		s.Video.SetEnabled(state.Video)
	}
	if s.Audio != nil {
		s.Audio.SetEnabled(state.Audio)
	}
}

func (s *MediaStream) Tracks() []*MediaTrack {
	if s == nil {
		return nil
	}
	out := make([]*MediaTrack, 0, 2)
	if s.Video != nil {
		out = append(out, s.Video)
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	return out
}

// StopTracks ends every track in the stream.
func (s *MediaStream) StopTracks() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Constraints selects which kinds of local media to acquire.
type Constraints struct {
	Video bool
	Audio bool
}

// MediaProvider acquires local capture media. Acquisition may fail per
// kind; callers retry with reduced constraints and treat total failure as
// non-fatal.
type MediaProvider interface {
	Acquire(ctx context.Context, c Constraints) (*MediaStream, error)
}
