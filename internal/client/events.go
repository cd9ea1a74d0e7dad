package client

import (
	"github.com/pion/webrtc/v4"

	"github.com/avenko/huddle/internal/domain"
)

type EventKind int

const (
	// EventRoomJoined carries the roster that existed before we joined.
	EventRoomJoined EventKind = iota
	// EventPeerJoined / EventPeerLeft carry the membership as broadcast
	// by the server at the time of the change.
	EventPeerJoined
	EventPeerLeft
	// EventPeerLost reports a single failed link; the rest of the call
	// stays up. Err holds the reason.
	EventPeerLost
	// EventTrack delivers a remote media track for rendering.
	EventTrack
	EventChat
	// EventConnectivity reports signaling transport status. A false
	// value means all room state the session held is gone.
	EventConnectivity
	// EventScreenShare reports substitution state changes, including
	// the automatic reversal when capture ends externally.
	EventScreenShare
)

func (k EventKind) String() string {
	switch k {
	case EventRoomJoined:
		return "room-joined"
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventPeerLost:
		return "peer-lost"
	case EventTrack:
		return "track"
	case EventChat:
		return "chat"
	case EventConnectivity:
		return "connectivity"
	case EventScreenShare:
		return "screen-share"
	}
	return "unknown"
}

// Event is what the session hands to the presentation layer. Fields are
// set per kind; unset ones are zero.
type Event struct {
	Kind         EventKind
	Participant  domain.ParticipantID
	Participants []domain.ParticipantID
	Track        *webrtc.TrackRemote
	Message      domain.ChatMessage
	Connected    bool
	Sharing      bool
	Err          error
}
