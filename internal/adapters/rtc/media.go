package rtc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/devhazem/meetmesh/internal/core"
)

var ErrNoKindRequested = errors.New("no media kind requested")

// SampleMediaProvider acquires local media as sample-fed pion tracks
// (VP8 video, Opus audio). Feeding captured frames into the tracks is the
// embedding application's job; the provider only owns negotiation shape.
type SampleMediaProvider struct{}

func (SampleMediaProvider) Acquire(_ context.Context, c core.Constraints) (*core.MediaStream, error) {
	if !c.Video && !c.Audio {
		return nil, ErrNoKindRequested
	}

	streamID := "meetmesh-" + uuid.NewString()
	stream := &core.MediaStream{}

	if c.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", streamID,
		)
		if err != nil {
			return nil, err
		}
		stream.Video = core.NewLocalTrack(core.TrackVideo, track)
	}

	if c.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", streamID,
		)
		if err != nil {
			return nil, err
		}
		stream.Audio = core.NewLocalTrack(core.TrackAudio, track)
	}

	return stream, nil
}
