package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

type fakeTransport struct {
	incoming chan protocol.Envelope
	sent     chan protocol.Envelope

	mu   sync.Mutex
	down bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan protocol.Envelope, 64),
		sent:     make(chan protocol.Envelope, 64),
	}
}

func (f *fakeTransport) Send(env protocol.Envelope) error {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return ErrTransportUnavailable
	}
	select {
	case f.sent <- env:
		return nil
	default:
		return errors.New("sent buffer full")
	}
}

func (f *fakeTransport) Incoming() <-chan protocol.Envelope { return f.incoming }

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
}

// lose simulates the server dropping the connection.
func (f *fakeTransport) lose() {
	f.mu.Lock()
	f.down = true
	f.mu.Unlock()
	close(f.incoming)
}

func (f *fakeTransport) push(t *testing.T, env protocol.Envelope, payload any) {
	t.Helper()
	sealed, err := protocol.Seal(env, payload)
	if err != nil {
		t.Fatalf("seal %s: %v", env.Type, err)
	}
	f.incoming <- sealed
}

// expectSent waits for an outbound frame of the wanted type, skipping
// the candidate chatter ICE gathering produces.
func (f *fakeTransport) expectSent(t *testing.T, want protocol.Type) protocol.Envelope {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-f.sent:
			if env.Type == want {
				return env
			}
			if env.Type != protocol.TypeCandidate {
				t.Fatalf("sent %s while waiting for %s", env.Type, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for outbound %s", want)
		}
	}
}

func (f *fakeTransport) expectNothingBut(t *testing.T, allowed protocol.Type) {
	t.Helper()
	timeout := time.After(200 * time.Millisecond)
	for {
		select {
		case env := <-f.sent:
			if env.Type != allowed {
				t.Fatalf("unexpected outbound %s", env.Type)
			}
		case <-timeout:
			return
		}
	}
}

func expectEvent(t *testing.T, s *Session, want EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", want)
			}
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// trackingProvider remembers the last screen track it handed out so
// tests can end the capture externally.
type trackingProvider struct {
	SyntheticProvider

	mu     sync.Mutex
	screen *CaptureTrack
}

func (p *trackingProvider) DisplayMedia(ctx context.Context) (*CaptureTrack, error) {
	track, err := p.SyntheticProvider.DisplayMedia(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.screen = track
	p.mu.Unlock()
	return track, nil
}

func (p *trackingProvider) lastScreen() *CaptureTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen
}

func newTestSession(t *testing.T, capture CaptureProvider) (*Session, *fakeTransport) {
	t.Helper()
	if capture == nil {
		capture = SyntheticProvider{}
	}
	tr := newFakeTransport()
	s, err := NewSession(Config{
		ServerURL: "ws://test/api/ws/signal",
		Capture:   capture,
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return tr, nil
		},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, tr
}

// joinedSession drives the join handshake: self is assigned by the
// server, existing lists who was already in the room.
func joinedSession(t *testing.T, s *Session, tr *fakeTransport, self domain.ParticipantID, existing []domain.ParticipantID) {
	t.Helper()
	if err := s.JoinRoom(context.Background(), "r1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	join := tr.expectSent(t, protocol.TypeJoinRoom)
	if join.Room != "r1" {
		t.Fatalf("join-room room = %s", join.Room)
	}
	tr.push(t, protocol.Envelope{Type: protocol.TypeRoomJoined, Room: "r1"},
		protocol.RoomJoined{Self: self, Participants: existing})
	expectEvent(t, s, EventRoomJoined)
}

func realOffer(t *testing.T) protocol.SDP {
	t.Helper()
	pc := newTestPC(t)
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("real offer: %v", err)
	}
	return protocol.SDPFromPion(offer)
}

func TestJoinRoomHandshake(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", []domain.ParticipantID{"a"})

	if got := s.Self(); got != "me" {
		t.Fatalf("self = %s, want me", got)
	}
	roster := s.Participants()
	if len(roster) != 1 || roster[0] != "a" {
		t.Fatalf("roster = %v, want [a]", roster)
	}
}

func TestJoinRoomRequiresRoomID(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if err := s.JoinRoom(context.Background(), ""); err == nil {
		t.Fatal("empty room id must be rejected")
	}
}

type deniedProvider struct{ SyntheticProvider }

func (deniedProvider) UserMedia(context.Context) (*CaptureStream, error) {
	return nil, ErrPermissionDenied
}

func TestJoinRoomCaptureDenied(t *testing.T) {
	s, tr := newTestSession(t, deniedProvider{})
	if err := s.JoinRoom(context.Background(), "r1"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	tr.expectNothingBut(t, protocol.TypeCandidate)
}

func TestUserJoinedTriggersOffer(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", nil)

	tr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "b", Participants: []domain.ParticipantID{"me", "b"}})

	offer := tr.expectSent(t, protocol.TypeOffer)
	if offer.To != "b" {
		t.Fatalf("offer.To = %s, want b", offer.To)
	}
	var sd protocol.SDP
	if err := offer.Open(&sd); err != nil || sd.Type != "offer" || sd.SDP == "" {
		t.Fatalf("offer payload = %+v (%v)", sd, err)
	}

	ev := expectEvent(t, s, EventPeerJoined)
	if ev.Participant != "b" {
		t.Fatalf("peer-joined participant = %s", ev.Participant)
	}
}

func TestIncomingOfferProducesAnswer(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", []domain.ParticipantID{"a"})

	tr.push(t, protocol.Envelope{Type: protocol.TypeOffer, Room: "r1", From: "a", To: "me"},
		realOffer(t))

	answer := tr.expectSent(t, protocol.TypeAnswer)
	if answer.To != "a" {
		t.Fatalf("answer.To = %s, want a", answer.To)
	}
	var sd protocol.SDP
	if err := answer.Open(&sd); err != nil || sd.Type != "answer" {
		t.Fatalf("answer payload = %+v (%v)", sd, err)
	}
}

func TestGlareLowerIDWins(t *testing.T) {
	// Lower-ID side: its own offer stands, the colliding one is dropped.
	low, lowTr := newTestSession(t, nil)
	joinedSession(t, low, lowTr, "a", nil)
	lowTr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "b", Participants: []domain.ParticipantID{"a", "b"}})
	lowTr.expectSent(t, protocol.TypeOffer)

	lowTr.push(t, protocol.Envelope{Type: protocol.TypeOffer, Room: "r1", From: "b", To: "a"},
		realOffer(t))
	lowTr.expectNothingBut(t, protocol.TypeCandidate)

	// Higher-ID side: rolls back its offer and answers instead.
	high, highTr := newTestSession(t, nil)
	joinedSession(t, high, highTr, "z", nil)
	highTr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "b", Participants: []domain.ParticipantID{"z", "b"}})
	highTr.expectSent(t, protocol.TypeOffer)

	highTr.push(t, protocol.Envelope{Type: protocol.TypeOffer, Room: "r1", From: "b", To: "z"},
		realOffer(t))
	answer := highTr.expectSent(t, protocol.TypeAnswer)
	if answer.To != "b" {
		t.Fatalf("answer.To = %s, want b", answer.To)
	}
}

func TestUserLeftDropsPeer(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", []domain.ParticipantID{"a"})

	tr.push(t, protocol.Envelope{Type: protocol.TypeUserLeft, Room: "r1"},
		protocol.RoomEvent{User: "a", Participants: []domain.ParticipantID{"me"}})

	ev := expectEvent(t, s, EventPeerLeft)
	if ev.Participant != "a" {
		t.Fatalf("peer-left participant = %s", ev.Participant)
	}
	if roster := s.Participants(); len(roster) != 0 {
		t.Fatalf("roster = %v, want empty", roster)
	}
}

func TestChatEchoBuildsHistory(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", nil)

	if err := s.SendChat("hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	sent := tr.expectSent(t, protocol.TypeChat)
	var msg domain.ChatMessage
	if err := sent.Open(&msg); err != nil || msg.Text != "hello" || msg.Author != "me" {
		t.Fatalf("outbound chat = %+v (%v)", msg, err)
	}

	// Nothing lands in history until the server echo arrives.
	if h := s.Messages(); len(h) != 0 {
		t.Fatalf("history before echo = %v", h)
	}

	tr.push(t, protocol.Envelope{Type: protocol.TypeChat, Room: "r1"}, msg)
	ev := expectEvent(t, s, EventChat)
	if ev.Message.Text != "hello" {
		t.Fatalf("chat event = %+v", ev.Message)
	}
	h := s.Messages()
	if len(h) != 1 || h[0].ID != msg.ID {
		t.Fatalf("history = %v", h)
	}
}

func TestSendChatWithoutTransport(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if err := s.SendChat("hello"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
}

func TestLeaveRoomNotifiesAndResets(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", []domain.ParticipantID{"a"})

	if err := s.LeaveRoom(); err != nil {
		t.Fatalf("leave: %v", err)
	}
	leave := tr.expectSent(t, protocol.TypeLeaveRoom)
	if leave.Room != "r1" {
		t.Fatalf("leave-room room = %s", leave.Room)
	}
	if roster := s.Participants(); len(roster) != 0 {
		t.Fatalf("roster after leave = %v", roster)
	}
	if err := s.LeaveRoom(); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("second leave = %v, want ErrNotInRoom", err)
	}
}

func TestTransportLostTearsDownRoom(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", []domain.ParticipantID{"a"})

	tr.lose()
	ev := expectEvent(t, s, EventConnectivity)
	if ev.Connected {
		t.Fatal("connectivity event must report disconnect")
	}
	if roster := s.Participants(); len(roster) != 0 {
		t.Fatalf("roster after loss = %v", roster)
	}
	if err := s.SendChat("hello"); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("chat after loss = %v, want ErrTransportUnavailable", err)
	}
}

func TestScreenShareLifecycle(t *testing.T) {
	capture := &trackingProvider{}
	s, tr := newTestSession(t, capture)
	joinedSession(t, s, tr, "me", nil)
	tr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "b", Participants: []domain.ParticipantID{"me", "b"}})
	tr.expectSent(t, protocol.TypeOffer)

	if err := s.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start share: %v", err)
	}
	ev := expectEvent(t, s, EventScreenShare)
	if !ev.Sharing {
		t.Fatal("first share event must report sharing")
	}

	// Starting again while sharing is a no-op.
	if err := s.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if err := s.StopScreenShare(); err != nil {
		t.Fatalf("stop share: %v", err)
	}
	ev = expectEvent(t, s, EventScreenShare)
	if ev.Sharing {
		t.Fatal("stop must report sharing over")
	}
	select {
	case <-capture.lastScreen().Done():
	default:
		t.Fatal("stop must release the screen capture")
	}
}

// Ending capture through an external control reverts to the camera the
// same way StopScreenShare does.
func TestScreenShareExternalEnd(t *testing.T) {
	capture := &trackingProvider{}
	s, tr := newTestSession(t, capture)
	joinedSession(t, s, tr, "me", nil)

	if err := s.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("start share: %v", err)
	}
	expectEvent(t, s, EventScreenShare)

	capture.lastScreen().Stop()
	ev := expectEvent(t, s, EventScreenShare)
	if ev.Sharing {
		t.Fatal("external end must report sharing over")
	}
}

func TestScreenShareWithoutMedia(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if err := s.StartScreenShare(context.Background()); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("err = %v, want ErrNotInRoom", err)
	}
}

// answerFor produces a real answer to the given offer from a throwaway
// remote peer connection.
func answerFor(t *testing.T, offer protocol.SDP) protocol.SDP {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("remote pc: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	desc, err := offer.ToPion()
	if err != nil {
		t.Fatalf("offer to pion: %v", err)
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		t.Fatalf("apply offer: %v", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	return protocol.SDPFromPion(answer)
}

// A peer that never answers is reported lost with ErrNegotiationTimeout;
// a peer that answered in time is untouched.
func TestNegotiationTimeoutReportsPeerLost(t *testing.T) {
	tr := newFakeTransport()
	s, err := NewSession(Config{
		ServerURL:          "ws://test/api/ws/signal",
		Capture:            SyntheticProvider{},
		NegotiationTimeout: 200 * time.Millisecond,
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return tr, nil
		},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	joinedSession(t, s, tr, "me", nil)

	tr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "b", Participants: []domain.ParticipantID{"me", "b"}})
	tr.expectSent(t, protocol.TypeOffer) // never answered

	tr.push(t, protocol.Envelope{Type: protocol.TypeUserJoined, Room: "r1"},
		protocol.RoomEvent{User: "c", Participants: []domain.ParticipantID{"me", "b", "c"}})
	offerC := tr.expectSent(t, protocol.TypeOffer)
	if offerC.To != "c" {
		t.Fatalf("second offer.To = %s, want c", offerC.To)
	}
	var sd protocol.SDP
	if err := offerC.Open(&sd); err != nil {
		t.Fatalf("open offer: %v", err)
	}
	tr.push(t, protocol.Envelope{Type: protocol.TypeAnswer, Room: "r1", From: "c", To: "me"},
		answerFor(t, sd))

	ev := expectEvent(t, s, EventPeerLost)
	if ev.Participant != "b" {
		t.Fatalf("peer-lost participant = %s, want b", ev.Participant)
	}
	if !errors.Is(ev.Err, ErrNegotiationTimeout) {
		t.Fatalf("peer-lost err = %v, want ErrNegotiationTimeout", ev.Err)
	}

	// The answered link's timer was stopped; nothing else is lost.
	quiet := time.After(400 * time.Millisecond)
	for {
		select {
		case got, ok := <-s.Events():
			if ok && got.Kind == EventPeerLost {
				t.Fatalf("unexpected peer-lost for %s", got.Participant)
			}
		case <-quiet:
			return
		}
	}
}

func TestCloseEndsEventStream(t *testing.T) {
	s, tr := newTestSession(t, nil)
	joinedSession(t, s, tr, "me", nil)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

var _ Transport = (*fakeTransport)(nil)
