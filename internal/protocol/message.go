// Package protocol defines the signaling wire format shared by the
// coordinator and clients. Every frame is a JSON envelope carrying a
// type tag plus routing fields; the payload stays opaque to the server
// for relayed types (offer/answer/candidate).
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/avenko/huddle/internal/domain"
)

type Type string

const (
	TypeJoinRoom   Type = "join-room"
	TypeLeaveRoom  Type = "leave-room"
	TypeRoomJoined Type = "room-joined"
	TypeUserJoined Type = "user-joined"
	TypeUserLeft   Type = "user-left"
	TypeOffer      Type = "offer"
	TypeAnswer     Type = "answer"
	TypeCandidate  Type = "ice-candidate"
	TypeChat       Type = "chat-message"
	TypePing       Type = "ping"
	TypePong       Type = "pong"
	TypeError      Type = "error"
)

// Envelope wraps every signaling frame. From is stamped by the server on
// relayed frames; whatever a client puts there is overwritten.
type Envelope struct {
	Type    Type                 `json:"type"`
	Room    domain.RoomID        `json:"room,omitempty"`
	From    domain.ParticipantID `json:"from,omitempty"`
	To      domain.ParticipantID `json:"to,omitempty"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

// RoomJoined is the reply to join-room. Participants lists the members
// that were already present; Self tells the client its server-assigned ID.
type RoomJoined struct {
	Self         domain.ParticipantID   `json:"self"`
	Participants []domain.ParticipantID `json:"participants"`
}

// RoomEvent announces a membership change. Participants is the full
// membership as of the change, taken under the room lock.
type RoomEvent struct {
	User         domain.ParticipantID   `json:"user"`
	Participants []domain.ParticipantID `json:"participants"`
}

// SDP is a JSON-friendly session description, converted at the edges so
// the server never needs pion types to relay it.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Seal builds an envelope with the payload marshaled in place.
func Seal(env Envelope, payload any) (Envelope, error) {
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal %s: %w", env.Type, err)
	}
	env.Payload = b
	return env, nil
}

// Open unmarshals the payload into dst.
func (e Envelope) Open(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return nil
}

// Decode parses a raw frame and checks the routing fields the type
// requires. Payload contents are validated by whoever opens them.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e Envelope) Validate() error {
	switch e.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		if e.Room == "" {
			return fmt.Errorf("%s: missing room", e.Type)
		}
	case TypeOffer, TypeAnswer, TypeCandidate:
		if e.To == "" {
			return fmt.Errorf("%s: missing recipient", e.Type)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s: missing payload", e.Type)
		}
	case TypeChat:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s: missing payload", e.Type)
		}
	case TypeRoomJoined, TypeUserJoined, TypeUserLeft, TypeError:
		if len(e.Payload) == 0 {
			return fmt.Errorf("%s: missing payload", e.Type)
		}
	case TypePing, TypePong:
	default:
		return fmt.Errorf("unknown signal type %q", e.Type)
	}
	return nil
}
