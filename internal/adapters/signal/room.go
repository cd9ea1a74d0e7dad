package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

func (ctl *Controller) handleJoin(id domain.ParticipantID, c *wsConn, env protocol.Envelope) {
	log.Info().Str("module", "signal").Str("participant", string(id)).Str("room", string(env.Room)).Msg("join")

	existing, ok := ctl.Service.Join(id, env.Room)
	if !ok {
		ctl.sendError(c, "no_session", "connection is not registered")
		return
	}

	reply, err := protocol.Seal(protocol.Envelope{
		Type: protocol.TypeRoomJoined,
		Room: env.Room,
	}, protocol.RoomJoined{
		Self:         id,
		Participants: existing,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("seal room-joined")
		return
	}
	ctl.sendEnv(c, reply)
}

// handleLeave removes the participant from its room; the websocket
// stays open so it can join again later.
func (ctl *Controller) handleLeave(id domain.ParticipantID, c *wsConn) {
	log.Info().Str("module", "signal").Str("participant", string(id)).Msg("leave")
	ctl.Service.Leave(id)
}
