package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// trackSender is the slice of *webrtc.RTPSender the controller needs to
// swap outbound tracks without renegotiating.
type trackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// CaptureTrack wraps a local track together with its end-of-life signal.
// Done fires when capture stops for any reason, including an external
// control the application never sees.
type CaptureTrack struct {
	Local webrtc.TrackLocal

	done chan struct{}
	once sync.Once
	stop func()
}

func NewCaptureTrack(local webrtc.TrackLocal, stop func()) *CaptureTrack {
	return &CaptureTrack{Local: local, done: make(chan struct{}), stop: stop}
}

func (t *CaptureTrack) Done() <-chan struct{} { return t.done }

// Stop ends capture and releases the underlying device. Idempotent.
func (t *CaptureTrack) Stop() {
	t.once.Do(func() {
		if t.stop != nil {
			t.stop()
		}
		close(t.done)
	})
}

// CaptureStream is the camera+microphone pair a participant sends.
type CaptureStream struct {
	Audio *CaptureTrack
	Video *CaptureTrack
}

func (s *CaptureStream) Stop() {
	if s.Audio != nil {
		s.Audio.Stop()
	}
	if s.Video != nil {
		s.Video.Stop()
	}
}

// CaptureProvider abstracts device access. Implementations return
// ErrDeviceUnavailable / ErrPermissionDenied / ErrScreenShareDenied so
// the session can map failures without knowing the capture backend.
type CaptureProvider interface {
	UserMedia(ctx context.Context) (*CaptureStream, error)
	DisplayMedia(ctx context.Context) (*CaptureTrack, error)
}

// mediaController owns the local capture stream. Nothing else may stop
// or replace its tracks; peer links only ever hold senders fed by it.
// All methods run on the session loop.
type mediaController struct {
	stream *CaptureStream
	screen *CaptureTrack
}

func (m *mediaController) install(stream *CaptureStream) { m.stream = stream }

func (m *mediaController) acquired() bool { return m.stream != nil }

func (m *mediaController) sharing() bool { return m.screen != nil }

// currentVideo is what a newly created link should send: the screen
// while sharing, the camera otherwise.
func (m *mediaController) currentVideo() webrtc.TrackLocal {
	if m.screen != nil {
		return m.screen.Local
	}
	return m.stream.Video.Local
}

func (m *mediaController) audio() webrtc.TrackLocal { return m.stream.Audio.Local }

// substituteScreen atomically swaps the outbound video of every sender
// to the screen track. On partial failure the already-swapped senders
// are reverted and the call continues on the camera unchanged.
func (m *mediaController) substituteScreen(screen *CaptureTrack, senders []trackSender) error {
	if m.stream == nil {
		screen.Stop()
		return ErrNotInRoom
	}
	for i, s := range senders {
		if err := s.ReplaceTrack(screen.Local); err != nil {
			for j := 0; j < i; j++ {
				if rerr := senders[j].ReplaceTrack(m.stream.Video.Local); rerr != nil {
					log.Error().Err(rerr).Str("module", "client.media").Msg("revert after failed substitution")
				}
			}
			screen.Stop()
			return fmt.Errorf("%w: %v", ErrScreenShareDenied, err)
		}
	}
	m.screen = screen
	return nil
}

// revertScreen restores the camera track on every sender. screen
// identifies which share is being reverted so a late end-of-life signal
// from an already-replaced share is a no-op.
func (m *mediaController) revertScreen(screen *CaptureTrack, senders []trackSender) {
	if m.screen == nil || (screen != nil && m.screen != screen) {
		return
	}
	for _, s := range senders {
		if err := s.ReplaceTrack(m.stream.Video.Local); err != nil {
			log.Error().Err(err).Str("module", "client.media").Msg("restore camera track")
		}
	}
	m.screen.Stop()
	m.screen = nil
}

// release stops every capture track to free the devices.
func (m *mediaController) release(senders []trackSender) {
	if m.screen != nil {
		m.revertScreen(m.screen, senders)
	}
	if m.stream != nil {
		m.stream.Stop()
		m.stream = nil
	}
}

// classifyCaptureErr keeps provider errors inside the documented
// taxonomy even when an implementation returns something else.
func classifyCaptureErr(err error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrDeviceUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
