package core

import "github.com/avenko/huddle/internal/domain"

// Frame is an encoded signaling envelope ready for the wire.
type Frame []byte

// SignalConnection abstracts a member's signaling transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a participant identity to its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() domain.ParticipantID
	Signal() SignalConnection
}

// PublishResult reports delivery stats/backpressure to the service layer.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

// RoomService owns a room's membership set but never closes
// adapter-owned resources.
//
// Join and Leave take the membership snapshot and fan the announce frame
// out while still holding the room lock, so the participant list inside
// a user-joined/user-left is never stale relative to a concurrent change.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Snapshot() []domain.ParticipantID
	Member(id domain.ParticipantID) (MemberSession, bool)

	Join(ms MemberSession, announce func(participants []domain.ParticipantID) Frame) (existing []domain.ParticipantID, res PublishResult)
	Leave(id domain.ParticipantID, announce func(participants []domain.ParticipantID) Frame) (empty bool, res PublishResult, ok bool)
	Broadcast(from domain.ParticipantID, data Frame, includeSender bool) PublishResult
}

type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	MemberCount int           `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	Remove(id domain.RoomID)
}
