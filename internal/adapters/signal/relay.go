package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

// handleRelay forwards offer/answer/ice-candidate frames verbatim to the
// named recipient. The payload is never inspected; only the envelope is
// rewritten: From is stamped with the sender's identity so it cannot be
// spoofed, and Room with the sender's room.
func (ctl *Controller) handleRelay(id domain.ParticipantID, env protocol.Envelope) {
	roomID, ok := ctl.Service.Registry.RoomOf(id)
	if !ok {
		log.Warn().Str("module", "signal").Str("participant", string(id)).Str("type", string(env.Type)).Msg("relay from participant outside any room")
		return
	}
	room, ok := ctl.Service.Rooms.Get(roomID)
	if !ok {
		return
	}
	recipient, ok := room.Member(env.To)
	if !ok {
		log.Warn().Str("module", "signal").Str("participant", string(id)).Str("to", string(env.To)).Str("type", string(env.Type)).Msg("relay recipient not in room")
		return
	}

	env.From = id
	env.Room = roomID
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal relay frame")
		return
	}
	if err := recipient.Signal().TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("to", string(env.To)).Msg("relay dropped")
	}
}
