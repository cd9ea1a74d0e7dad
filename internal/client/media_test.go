package client

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

// testContext substitutes for t.Context(), which requires Go 1.24.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type fakeSender struct {
	current webrtc.TrackLocal
	fail    bool
	calls   int
}

func (f *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	f.calls++
	if f.fail {
		return errors.New("sender rejected track")
	}
	f.current = t
	return nil
}

func testStream(t *testing.T) *CaptureStream {
	t.Helper()
	stream, err := SyntheticProvider{}.UserMedia(testContext(t))
	if err != nil {
		t.Fatalf("user media: %v", err)
	}
	t.Cleanup(stream.Stop)
	return stream
}

func testScreen(t *testing.T) *CaptureTrack {
	t.Helper()
	screen, err := SyntheticProvider{}.DisplayMedia(testContext(t))
	if err != nil {
		t.Fatalf("display media: %v", err)
	}
	t.Cleanup(screen.Stop)
	return screen
}

func TestSubstituteAndRevertScreen(t *testing.T) {
	m := &mediaController{}
	m.install(testStream(t))
	screen := testScreen(t)

	s1 := &fakeSender{current: m.stream.Video.Local}
	s2 := &fakeSender{current: m.stream.Video.Local}
	senders := []trackSender{s1, s2}

	if err := m.substituteScreen(screen, senders); err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if !m.sharing() {
		t.Fatal("controller must report sharing")
	}
	if s1.current != screen.Local || s2.current != screen.Local {
		t.Fatal("all senders must carry the screen track")
	}
	if m.currentVideo() != screen.Local {
		t.Fatal("new links must start on the screen track while sharing")
	}

	m.revertScreen(screen, senders)
	if m.sharing() {
		t.Fatal("controller must stop reporting sharing")
	}
	if s1.current != m.stream.Video.Local || s2.current != m.stream.Video.Local {
		t.Fatal("all senders must be back on the camera track")
	}
	select {
	case <-screen.Done():
	default:
		t.Fatal("revert must stop the screen capture")
	}
}

func TestSubstituteScreenPartialFailureRollsBack(t *testing.T) {
	m := &mediaController{}
	m.install(testStream(t))
	screen := testScreen(t)

	ok := &fakeSender{current: m.stream.Video.Local}
	bad := &fakeSender{fail: true}

	err := m.substituteScreen(screen, []trackSender{ok, bad})
	if !errors.Is(err, ErrScreenShareDenied) {
		t.Fatalf("err = %v, want ErrScreenShareDenied", err)
	}
	if m.sharing() {
		t.Fatal("failed substitution must not leave the controller sharing")
	}
	if ok.current != m.stream.Video.Local {
		t.Fatal("already-swapped sender must be reverted to the camera")
	}
	select {
	case <-screen.Done():
	default:
		t.Fatal("failed substitution must release the screen capture")
	}
}

func TestSubstituteScreenWithoutStream(t *testing.T) {
	m := &mediaController{}
	screen := testScreen(t)

	if err := m.substituteScreen(screen, nil); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
	select {
	case <-screen.Done():
	default:
		t.Fatal("rejected screen capture must be stopped")
	}
}

// A Done signal from a share that was already replaced by a newer one
// must not tear down the newer share.
func TestRevertScreenIgnoresStaleShare(t *testing.T) {
	m := &mediaController{}
	m.install(testStream(t))
	old := testScreen(t)
	current := testScreen(t)

	s := &fakeSender{current: m.stream.Video.Local}
	if err := m.substituteScreen(current, []trackSender{s}); err != nil {
		t.Fatalf("substitute: %v", err)
	}

	m.revertScreen(old, []trackSender{s})
	if !m.sharing() || s.current != current.Local {
		t.Fatal("stale revert must be a no-op")
	}

	m.revertScreen(current, []trackSender{s})
	if m.sharing() {
		t.Fatal("matching revert must end the share")
	}
}

func TestRevertScreenIdempotent(t *testing.T) {
	m := &mediaController{}
	m.install(testStream(t))
	screen := testScreen(t)

	s := &fakeSender{current: m.stream.Video.Local}
	if err := m.substituteScreen(screen, []trackSender{s}); err != nil {
		t.Fatalf("substitute: %v", err)
	}

	m.revertScreen(screen, []trackSender{s})
	calls := s.calls
	m.revertScreen(screen, []trackSender{s})
	if s.calls != calls {
		t.Fatal("second revert must not touch senders")
	}
}

func TestReleaseStopsEverything(t *testing.T) {
	m := &mediaController{}
	stream := testStream(t)
	m.install(stream)
	screen := testScreen(t)

	s := &fakeSender{current: stream.Video.Local}
	if err := m.substituteScreen(screen, []trackSender{s}); err != nil {
		t.Fatalf("substitute: %v", err)
	}

	m.release([]trackSender{s})
	if m.acquired() || m.sharing() {
		t.Fatal("release must drop both stream and screen")
	}
	for name, done := range map[string]<-chan struct{}{
		"audio":  stream.Audio.Done(),
		"video":  stream.Video.Done(),
		"screen": screen.Done(),
	} {
		select {
		case <-done:
		default:
			t.Fatalf("%s capture still running after release", name)
		}
	}
}

func TestClassifyCaptureErr(t *testing.T) {
	if got := classifyCaptureErr(ErrPermissionDenied); !errors.Is(got, ErrPermissionDenied) {
		t.Fatalf("permission error reclassified to %v", got)
	}
	if got := classifyCaptureErr(errors.New("v4l2: bus gone")); !errors.Is(got, ErrDeviceUnavailable) {
		t.Fatalf("unknown error = %v, want ErrDeviceUnavailable", got)
	}
}

func TestCaptureTrackStopIdempotent(t *testing.T) {
	stops := 0
	track := NewCaptureTrack(nil, func() { stops++ })
	track.Stop()
	track.Stop()
	if stops != 1 {
		t.Fatalf("stop ran %d times, want 1", stops)
	}
}
