package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/core"
	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

// Service coordinates the registry, the room set and the backpressure
// policy. It owns membership transitions; the signal adapter owns the
// transport and payload relaying.
type Service struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
}

func NewService(reg *Registry, rooms core.RoomManager, policy Policy) *Service {
	return &Service{Registry: reg, Rooms: rooms, Policy: policy}
}

// Join puts the participant into roomID, leaving any previous room
// first. It returns the members that were already present, for the
// room-joined reply. The user-joined fanout happens inside the room
// lock so its participant list matches the membership exactly.
func (s *Service) Join(id domain.ParticipantID, roomID domain.RoomID) ([]domain.ParticipantID, bool) {
	if prev, ok := s.Registry.RoomOf(id); ok && prev != roomID {
		s.Leave(id)
	}
	sess, ok := s.Registry.Get(id)
	if !ok {
		return nil, false
	}

	room := s.Rooms.GetOrCreate(roomID)
	existing, res := room.Join(sess, func(participants []domain.ParticipantID) core.Frame {
		return roomEventFrame(protocol.TypeUserJoined, roomID, id, participants)
	})
	s.Registry.SetRoom(id, roomID)
	s.applyBackpressure(roomID, res)
	return existing, true
}

// Leave removes the participant from its current room, announcing
// user-left to the members that remain. Empty rooms are destroyed.
func (s *Service) Leave(id domain.ParticipantID) {
	roomID, ok := s.Registry.RoomOf(id)
	if !ok {
		return
	}
	room, ok := s.Rooms.Get(roomID)
	if !ok {
		s.Registry.ClearRoom(id)
		return
	}

	empty, res, _ := room.Leave(id, func(participants []domain.ParticipantID) core.Frame {
		return roomEventFrame(protocol.TypeUserLeft, roomID, id, participants)
	})
	s.Registry.ClearRoom(id)
	if empty {
		s.Rooms.Remove(roomID)
		log.Info().Str("module", "app.service").Str("room", string(roomID)).Msg("room destroyed")
	}
	s.applyBackpressure(roomID, res)
}

// Disconnect is Leave plus forgetting the session entirely; called when
// the transport drops.
func (s *Service) Disconnect(id domain.ParticipantID) {
	s.Leave(id)
	s.Registry.Unbind(id)
}

func (s *Service) applyBackpressure(roomID domain.RoomID, res core.PublishResult) {
	if s.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch s.Policy.OnBackpressure(roomID, slow) {
		case KickMember:
			log.Warn().Str("module", "app.service").Str("participant", string(slow)).Msg("kicking slow consumer")
			s.Registry.Cancel(slow)
		case DropFrame, NoAction:
		}
	}
}

func roomEventFrame(t protocol.Type, room domain.RoomID, user domain.ParticipantID, participants []domain.ParticipantID) core.Frame {
	env, err := protocol.Seal(protocol.Envelope{Type: t, Room: room}, protocol.RoomEvent{
		User:         user,
		Participants: participants,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.service").Msg("seal room event")
		return nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.service").Msg("marshal room event")
		return nil
	}
	return b
}
