package client

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

type linkState int

const (
	linkNew linkState = iota
	linkHaveLocalOffer
	linkHaveRemoteOffer
	linkHaveLocalAnswer
	linkConnected
	linkFailed
	linkClosed
)

func (s linkState) String() string {
	switch s {
	case linkNew:
		return "new"
	case linkHaveLocalOffer:
		return "have-local-offer"
	case linkHaveRemoteOffer:
		return "have-remote-offer"
	case linkHaveLocalAnswer:
		return "have-local-answer"
	case linkConnected:
		return "connected"
	case linkFailed:
		return "failed"
	case linkClosed:
		return "closed"
	}
	return "unknown"
}

func (s linkState) terminal() bool { return s == linkFailed || s == linkClosed }

// PeerLink is one peer-to-peer connection to a remote participant.
// All methods run on the session loop; there is no locking because
// handlers run to completion before the next event is processed.
//
// Candidates that arrive before the remote description are buffered and
// flushed once it lands; ordering never discards a candidate.
type PeerLink struct {
	remote domain.ParticipantID
	pc     *webrtc.PeerConnection
	state  linkState

	pending []webrtc.ICECandidateInit

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender

	timer *time.Timer
}

func newPeerLink(remote domain.ParticipantID, pc *webrtc.PeerConnection, audio, video *webrtc.RTPSender) *PeerLink {
	return &PeerLink{
		remote:      remote,
		pc:          pc,
		state:       linkNew,
		audioSender: audio,
		videoSender: video,
	}
}

func (l *PeerLink) Remote() domain.ParticipantID { return l.remote }
func (l *PeerLink) State() linkState             { return l.state }

// CreateOffer makes this link the offering side.
func (l *PeerLink) CreateOffer() (protocol.SDP, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SDP{}, fmt.Errorf("create offer for %s: %w", l.remote, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return protocol.SDP{}, fmt.Errorf("set local offer for %s: %w", l.remote, err)
	}
	l.state = linkHaveLocalOffer
	return protocol.SDPFromPion(offer), nil
}

// HandleOffer applies a remote offer and produces the answer. When the
// link already holds a colliding local offer the caller has decided we
// are the polite side, so the local offer is rolled back first. An offer
// on a connected link is plain renegotiation and leaves the state
// connected.
func (l *PeerLink) HandleOffer(sd protocol.SDP) (protocol.SDP, error) {
	wasConnected := l.state == linkConnected

	if l.state == linkHaveLocalOffer {
		rollback := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
		if err := l.pc.SetLocalDescription(rollback); err != nil {
			return protocol.SDP{}, fmt.Errorf("rollback for %s: %w", l.remote, err)
		}
		l.state = linkNew
	}

	offer, err := sd.ToPion()
	if err != nil {
		return protocol.SDP{}, err
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return protocol.SDP{}, fmt.Errorf("set remote offer from %s: %w", l.remote, err)
	}
	if !wasConnected {
		l.state = linkHaveRemoteOffer
	}
	l.flushPending()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SDP{}, fmt.Errorf("create answer for %s: %w", l.remote, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return protocol.SDP{}, fmt.Errorf("set local answer for %s: %w", l.remote, err)
	}
	if !wasConnected {
		l.state = linkHaveLocalAnswer
	}
	return protocol.SDPFromPion(answer), nil
}

// HandleAnswer completes the offering side of the exchange.
func (l *PeerLink) HandleAnswer(sd protocol.SDP) error {
	if l.state != linkHaveLocalOffer && l.state != linkConnected {
		return fmt.Errorf("unexpected answer from %s in state %s", l.remote, l.state)
	}
	answer, err := sd.ToPion()
	if err != nil {
		return err
	}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer from %s: %w", l.remote, err)
	}
	l.flushPending()
	l.state = linkConnected
	l.stopTimer()
	return nil
}

// AddCandidate applies a remote candidate, buffering it when the remote
// description has not landed yet.
func (l *PeerLink) AddCandidate(init webrtc.ICECandidateInit) {
	if l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, init)
		return
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		log.Warn().Err(err).Str("module", "client.peer").Str("remote", string(l.remote)).Msg("add candidate")
	}
}

func (l *PeerLink) flushPending() {
	for _, init := range l.pending {
		if err := l.pc.AddICECandidate(init); err != nil {
			log.Warn().Err(err).Str("module", "client.peer").Str("remote", string(l.remote)).Msg("flush buffered candidate")
		}
	}
	l.pending = nil
}

// markConnected is used by the answering side, whose state machine only
// reaches connected once the transport reports it.
func (l *PeerLink) markConnected() {
	if l.state.terminal() {
		return
	}
	l.state = linkConnected
	l.stopTimer()
}

func (l *PeerLink) startTimer(d time.Duration, onTimeout func()) {
	l.stopTimer()
	l.timer = time.AfterFunc(d, onTimeout)
}

func (l *PeerLink) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *PeerLink) Fail() {
	if l.state.terminal() {
		return
	}
	l.state = linkFailed
	l.stopTimer()
	_ = l.pc.Close()
}

func (l *PeerLink) Close() {
	if l.state == linkClosed {
		return
	}
	l.state = linkClosed
	l.stopTimer()
	_ = l.pc.Close()
}
