// Package client implements the participant side of the collaboration
// core: the signaling channel, one peer link per remote participant,
// the local capture stream with screen-share substitution, and the
// room chat history.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

const defaultNegotiationTimeout = 30 * time.Second

type Config struct {
	ServerURL  string
	ICEServers []webrtc.ICEServer

	// NegotiationTimeout bounds how long a peer link may stay
	// un-connected before it is reported lost. There is no retry; that
	// is the caller's decision.
	NegotiationTimeout time.Duration

	ChatHistory int
	Capture     CaptureProvider

	// Dial overrides the signaling transport; defaults to the
	// websocket channel.
	Dial func(ctx context.Context, url string) (Transport, error)
}

// Session is one participant's presence. All state lives on a single
// event loop: signaling frames, peer callbacks and API calls run to
// completion one at a time, so handlers need no locks.
type Session struct {
	cfg Config

	acts   chan func()
	events chan Event
	closed chan struct{}
	once   sync.Once

	// Everything below is owned by the loop goroutine.
	transport Transport
	self      domain.ParticipantID
	room      domain.RoomID
	roster    []domain.ParticipantID
	links     map[domain.ParticipantID]*PeerLink
	media     *mediaController
	history   *chatHistory
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("client: ServerURL is required")
	}
	if cfg.Capture == nil {
		return nil, errors.New("client: CaptureProvider is required")
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = defaultNegotiationTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string) (Transport, error) {
			return Dial(ctx, url)
		}
	}

	s := &Session{
		cfg:     cfg,
		acts:    make(chan func(), 64),
		events:  make(chan Event, 64),
		closed:  make(chan struct{}),
		links:   make(map[domain.ParticipantID]*PeerLink),
		media:   &mediaController{},
		history: newChatHistory(cfg.ChatHistory),
	}
	go s.loop()
	return s, nil
}

// Events is where roster changes, tracks, chat and failures arrive for
// rendering. The channel is buffered; if the consumer stops draining it,
// new events are logged and dropped rather than stalling the signaling
// loop, so a renderer must treat the stream as lossy under sustained
// backlog. Closed when the session closes.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *Session) loop() {
	defer close(s.events)
	for {
		var incoming <-chan protocol.Envelope
		if s.transport != nil {
			incoming = s.transport.Incoming()
		}
		select {
		case <-s.closed:
			s.teardownRoom(false, true)
			if s.transport != nil {
				s.transport.Close()
			}
			return
		case fn := <-s.acts:
			fn()
		case env, ok := <-incoming:
			if !ok {
				s.onTransportLost()
				continue
			}
			s.handleEnvelope(env)
		}
	}
}

// run executes fn on the loop and waits for it.
func (s *Session) run(fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.acts <- func() { done <- fn() }:
	case <-s.closed:
		return ErrSessionClosed
	}
	select {
	case err := <-done:
		return err
	case <-s.closed:
		return ErrSessionClosed
	}
}

// post schedules fn on the loop without waiting; used by peer callbacks
// and watchers running on other goroutines.
func (s *Session) post(fn func()) {
	select {
	case s.acts <- fn:
	case <-s.closed:
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("module", "client.session").Str("event", ev.Kind.String()).Msg("event buffer full, dropping")
	}
}

// JoinRoom acquires local media, connects the signaling channel if
// needed, and asks the coordinator for the room. A capture failure
// aborts the join before any peer link exists. The roster arrives
// asynchronously as an EventRoomJoined.
func (s *Session) JoinRoom(ctx context.Context, roomID domain.RoomID) error {
	if roomID == "" {
		return errors.New("client: empty room id")
	}

	var haveMedia, haveTransport bool
	if err := s.run(func() error {
		haveMedia = s.media.acquired()
		haveTransport = s.transport != nil
		return nil
	}); err != nil {
		return err
	}

	// Acquisition and dialing can block on permission prompts and
	// handshakes, so they happen off-loop.
	var stream *CaptureStream
	if !haveMedia {
		st, err := s.cfg.Capture.UserMedia(ctx)
		if err != nil {
			return classifyCaptureErr(err)
		}
		stream = st
	}

	var tr Transport
	if !haveTransport {
		t, err := s.cfg.Dial(ctx, s.cfg.ServerURL)
		if err != nil {
			if stream != nil {
				stream.Stop()
			}
			return err
		}
		tr = t
	}

	return s.run(func() error {
		if s.room != "" && s.room != roomID {
			// Switching rooms keeps the devices but drops every link.
			s.teardownRoom(true, false)
		}
		if tr != nil {
			s.transport = tr
			s.emit(Event{Kind: EventConnectivity, Connected: true})
		}
		if stream != nil {
			s.media.install(stream)
		}
		if s.transport == nil {
			return ErrTransportUnavailable
		}
		return s.transport.Send(protocol.Envelope{Type: protocol.TypeJoinRoom, Room: roomID})
	})
}

// LeaveRoom synchronously tears down every peer link, releases the
// capture devices and notifies the coordinator. In-flight negotiations
// are simply discarded.
func (s *Session) LeaveRoom() error {
	return s.run(func() error {
		if s.room == "" && len(s.links) == 0 {
			return ErrNotInRoom
		}
		s.teardownRoom(true, true)
		return nil
	})
}

// SendChat is fire-and-forget; the message shows up in the local
// history only when the server echoes it back.
func (s *Session) SendChat(text string) error {
	return s.run(func() error {
		if s.transport == nil {
			return ErrTransportUnavailable
		}
		if s.room == "" {
			return ErrNotInRoom
		}
		msg := domain.ChatMessage{
			ID:        uuid.NewString(),
			Author:    s.self,
			Text:      text,
			Timestamp: time.Now().UnixMilli(),
		}
		env, err := protocol.Seal(protocol.Envelope{Type: protocol.TypeChat, Room: s.room}, msg)
		if err != nil {
			return err
		}
		return s.transport.Send(env)
	})
}

// StartScreenShare swaps the outbound video of every active link to a
// screen track without renegotiating. Denial leaves the call unchanged.
func (s *Session) StartScreenShare(ctx context.Context) error {
	var sharing, haveMedia bool
	if err := s.run(func() error {
		sharing = s.media.sharing()
		haveMedia = s.media.acquired()
		return nil
	}); err != nil {
		return err
	}
	if sharing {
		return nil
	}
	if !haveMedia {
		return ErrNotInRoom
	}

	screen, err := s.cfg.Capture.DisplayMedia(ctx)
	if err != nil {
		if errors.Is(err, ErrScreenShareDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrScreenShareDenied, err)
	}

	if err := s.run(func() error {
		if s.media.sharing() {
			screen.Stop()
			return nil
		}
		if err := s.media.substituteScreen(screen, s.videoSenders()); err != nil {
			return err
		}
		s.emit(Event{Kind: EventScreenShare, Sharing: true})
		return nil
	}); err != nil {
		return err
	}

	go s.watchScreenEnd(screen)
	return nil
}

// StopScreenShare restores the camera track on every link.
func (s *Session) StopScreenShare() error {
	return s.run(func() error {
		if !s.media.sharing() {
			return nil
		}
		s.media.revertScreen(s.media.screen, s.videoSenders())
		s.emit(Event{Kind: EventScreenShare, Sharing: false})
		return nil
	})
}

// watchScreenEnd performs the same reversal as StopScreenShare when the
// user ends capture through an external control.
func (s *Session) watchScreenEnd(screen *CaptureTrack) {
	select {
	case <-screen.Done():
		s.post(func() {
			wasSharing := s.media.sharing()
			s.media.revertScreen(screen, s.videoSenders())
			if wasSharing && !s.media.sharing() {
				s.emit(Event{Kind: EventScreenShare, Sharing: false})
			}
		})
	case <-s.closed:
	}
}

// Self reports the server-assigned participant identity, empty until
// the first room-joined arrives.
func (s *Session) Self() domain.ParticipantID {
	var id domain.ParticipantID
	_ = s.run(func() error { id = s.self; return nil })
	return id
}

// Participants is the current remote roster.
func (s *Session) Participants() []domain.ParticipantID {
	var out []domain.ParticipantID
	_ = s.run(func() error {
		out = append(out, s.roster...)
		return nil
	})
	return out
}

// Messages returns the bounded chat history in arrival order.
func (s *Session) Messages() []domain.ChatMessage {
	var out []domain.ChatMessage
	_ = s.run(func() error { out = s.history.All(); return nil })
	return out
}

func (s *Session) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRoomJoined:
		s.onRoomJoined(env)
	case protocol.TypeUserJoined:
		s.onUserJoined(env)
	case protocol.TypeUserLeft:
		s.onUserLeft(env)
	case protocol.TypeOffer:
		s.onOffer(env)
	case protocol.TypeAnswer:
		s.onAnswer(env)
	case protocol.TypeCandidate:
		s.onCandidate(env)
	case protocol.TypeChat:
		s.onChat(env)
	case protocol.TypeError:
		var e protocol.Error
		if env.Open(&e) == nil {
			log.Warn().Str("module", "client.session").Str("code", e.Code).Str("message", e.Message).Msg("server error")
		}
	case protocol.TypePong:
	default:
		log.Warn().Str("module", "client.session").Str("type", string(env.Type)).Msg("unexpected signal")
	}
}

func (s *Session) onRoomJoined(env protocol.Envelope) {
	var rj protocol.RoomJoined
	if err := env.Open(&rj); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad room-joined")
		return
	}
	s.self = rj.Self
	s.room = env.Room
	s.setRoster(rj.Participants)

	// Existing members already hold media, so they are the offering
	// side. Pre-creating the answering-side links gives candidates
	// that outrun their offers a place to be buffered.
	for _, p := range rj.Participants {
		if p == s.self {
			continue
		}
		if _, ok := s.links[p]; ok {
			continue
		}
		if _, err := s.createLink(p); err != nil {
			log.Error().Err(err).Str("module", "client.session").Str("remote", string(p)).Msg("create link")
		}
	}
	s.emit(Event{Kind: EventRoomJoined, Participants: append([]domain.ParticipantID(nil), s.roster...)})
}

func (s *Session) onUserJoined(env protocol.Envelope) {
	var ev protocol.RoomEvent
	if err := env.Open(&ev); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad user-joined")
		return
	}
	if ev.User == s.self {
		return
	}
	s.setRoster(ev.Participants)

	// A rejoining peer means the old link is dead weight.
	if old, ok := s.links[ev.User]; ok {
		old.Close()
		delete(s.links, ev.User)
	}

	// We were here first and hold local media: we offer.
	link, err := s.createLink(ev.User)
	if err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("remote", string(ev.User)).Msg("create link")
		return
	}
	offer, err := link.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("remote", string(ev.User)).Msg("offer")
		s.failLink(ev.User, err)
		return
	}
	s.send(protocol.TypeOffer, ev.User, offer)
	s.emit(Event{Kind: EventPeerJoined, Participant: ev.User, Participants: append([]domain.ParticipantID(nil), s.roster...)})
}

func (s *Session) onUserLeft(env protocol.Envelope) {
	var ev protocol.RoomEvent
	if err := env.Open(&ev); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad user-left")
		return
	}
	s.setRoster(ev.Participants)

	// Close immediately; never wait for the connection to notice.
	if link, ok := s.links[ev.User]; ok {
		link.Close()
		delete(s.links, ev.User)
	}
	s.emit(Event{Kind: EventPeerLeft, Participant: ev.User, Participants: append([]domain.ParticipantID(nil), s.roster...)})
}

func (s *Session) onOffer(env protocol.Envelope) {
	var sd protocol.SDP
	if err := env.Open(&sd); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad offer")
		return
	}

	link, ok := s.links[env.From]
	if ok && link.State() == linkHaveLocalOffer {
		// Glare: both sides offered at once. The lower participant ID
		// wins; its offer stands and the other side rolls back.
		if s.self < env.From {
			log.Info().Str("module", "client.session").Str("remote", string(env.From)).Msg("glare: ignoring colliding offer")
			return
		}
	}
	if !ok {
		var err error
		link, err = s.createLink(env.From)
		if err != nil {
			log.Error().Err(err).Str("module", "client.session").Str("remote", string(env.From)).Msg("create link")
			return
		}
	}

	answer, err := link.HandleOffer(sd)
	if err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("remote", string(env.From)).Msg("answer")
		s.failLink(env.From, err)
		return
	}
	s.send(protocol.TypeAnswer, env.From, answer)
}

func (s *Session) onAnswer(env protocol.Envelope) {
	link, ok := s.links[env.From]
	if !ok {
		log.Warn().Str("module", "client.session").Str("remote", string(env.From)).Msg("answer for unknown peer")
		return
	}
	var sd protocol.SDP
	if err := env.Open(&sd); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad answer")
		return
	}
	if err := link.HandleAnswer(sd); err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("remote", string(env.From)).Msg("apply answer")
		s.failLink(env.From, err)
	}
}

func (s *Session) onCandidate(env protocol.Envelope) {
	link, ok := s.links[env.From]
	if !ok {
		// Peer already gone; nothing to apply the candidate to.
		log.Debug().Str("module", "client.session").Str("remote", string(env.From)).Msg("candidate for unknown peer")
		return
	}
	var cd protocol.Candidate
	if err := env.Open(&cd); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad candidate")
		return
	}
	link.AddCandidate(cd.ToPion())
}

func (s *Session) onChat(env protocol.Envelope) {
	var msg domain.ChatMessage
	if err := env.Open(&msg); err != nil {
		log.Error().Err(err).Str("module", "client.session").Msg("bad chat")
		return
	}
	s.history.Append(msg)
	s.emit(Event{Kind: EventChat, Participant: msg.Author, Message: msg})
}

// createLink builds the peer connection with the current outbound
// tracks attached and wires its callbacks back into the loop.
func (s *Session) createLink(remote domain.ParticipantID) (*PeerLink, error) {
	if !s.media.acquired() {
		return nil, ErrDeviceUnavailable
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	audioSender, err := pc.AddTrack(s.media.audio())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("attach audio: %w", err)
	}
	videoSender, err := pc.AddTrack(s.media.currentVideo())
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("attach video: %w", err)
	}

	link := newPeerLink(remote, pc, audioSender, videoSender)

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		s.post(func() { s.send(protocol.TypeCandidate, remote, protocol.CandidateFromPion(init)) })
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.post(func() { s.emit(Event{Kind: EventTrack, Participant: remote, Track: track}) })
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.onPeerState(remote, st) })
	})

	link.startTimer(s.cfg.NegotiationTimeout, func() {
		s.post(func() { s.onNegotiationTimeout(remote) })
	})

	s.links[remote] = link
	return link, nil
}

// videoSenders collects the outbound video sender of every live link.
func (s *Session) videoSenders() []trackSender {
	out := make([]trackSender, 0, len(s.links))
	for _, link := range s.links {
		if link.videoSender != nil {
			out = append(out, link.videoSender)
		}
	}
	return out
}

func (s *Session) onPeerState(remote domain.ParticipantID, st webrtc.PeerConnectionState) {
	link, ok := s.links[remote]
	if !ok {
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		link.markConnected()
	case webrtc.PeerConnectionStateFailed:
		s.failLink(remote, ErrPeerFailed)
	}
}

func (s *Session) onNegotiationTimeout(remote domain.ParticipantID) {
	link, ok := s.links[remote]
	if !ok || link.State() == linkConnected || link.State().terminal() {
		return
	}
	s.failLink(remote, ErrNegotiationTimeout)
}

// failLink isolates a single peer's failure: the link is discarded and
// reported, everything else stays up.
func (s *Session) failLink(remote domain.ParticipantID, cause error) {
	link, ok := s.links[remote]
	if !ok {
		return
	}
	link.Fail()
	delete(s.links, remote)
	s.emit(Event{Kind: EventPeerLost, Participant: remote, Err: cause})
}

func (s *Session) send(t protocol.Type, to domain.ParticipantID, payload any) {
	if s.transport == nil {
		return
	}
	env, err := protocol.Seal(protocol.Envelope{Type: t, Room: s.room, To: to}, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "client.session").Str("type", string(t)).Msg("seal")
		return
	}
	if err := s.transport.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "client.session").Str("type", string(t)).Msg("send")
	}
}

func (s *Session) setRoster(list []domain.ParticipantID) {
	s.roster = s.roster[:0]
	for _, p := range list {
		if p != s.self {
			s.roster = append(s.roster, p)
		}
	}
}

// teardownRoom drops every link and, optionally, the capture devices.
// It runs on the loop so callers observe a fully torn-down session the
// moment it returns.
func (s *Session) teardownRoom(notify, releaseMedia bool) {
	for id, link := range s.links {
		link.Close()
		delete(s.links, id)
	}
	if releaseMedia {
		s.media.release(nil)
	}
	if notify && s.transport != nil && s.room != "" {
		_ = s.transport.Send(protocol.Envelope{Type: protocol.TypeLeaveRoom, Room: s.room})
	}
	s.room = ""
	s.roster = nil
}

func (s *Session) onTransportLost() {
	log.Warn().Str("module", "client.session").Msg("signaling transport lost")
	s.teardownRoom(false, true)
	s.transport = nil
	s.emit(Event{Kind: EventConnectivity, Connected: false})
}
