package app

import "github.com/avenko/huddle/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to members whose send buffer is full.
type Policy interface {
	OnBackpressure(room domain.RoomID, member domain.ParticipantID) BackpressureAction
}

// SimplePolicy kicks slow consumers: a client that cannot drain its
// signaling buffer cannot keep a call alive anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(domain.RoomID, domain.ParticipantID) BackpressureAction {
	return KickMember
}
