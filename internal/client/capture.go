package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

const syntheticSampleInterval = 100 * time.Millisecond

// SyntheticProvider feeds silent audio and blank video samples into
// static tracks. The demo client and the tests run on it; real device
// capture plugs in through the CaptureProvider interface.
type SyntheticProvider struct{}

func (SyntheticProvider) UserMedia(ctx context.Context) (*CaptureStream, error) {
	audio, err := syntheticTrack(webrtc.MimeTypeOpus, "audio", "huddle-mic")
	if err != nil {
		return nil, err
	}
	video, err := syntheticTrack(webrtc.MimeTypeVP8, "video", "huddle-cam")
	if err != nil {
		audio.Stop()
		return nil, err
	}
	return &CaptureStream{Audio: audio, Video: video}, nil
}

func (SyntheticProvider) DisplayMedia(ctx context.Context) (*CaptureTrack, error) {
	return syntheticTrack(webrtc.MimeTypeVP8, "video", "huddle-screen")
}

func syntheticTrack(mimeType, kind, streamID string) (*CaptureTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType}, kind, streamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	stop := make(chan struct{})
	go feedSamples(track, stop)

	return NewCaptureTrack(track, func() { close(stop) }), nil
}

func feedSamples(track *webrtc.TrackLocalStaticSample, stop <-chan struct{}) {
	ticker := time.NewTicker(syntheticSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := track.WriteSample(media.Sample{
				Data:     []byte{0x00},
				Duration: syntheticSampleInterval,
			})
			if err != nil {
				log.Debug().Err(err).Str("module", "client.capture").Str("track", track.ID()).Msg("write sample")
			}
		}
	}
}
