package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

// handleChat broadcasts a chat message to every member of the sender's
// room, sender included; clients build their history purely from the
// echo so everyone orders messages by arrival.
func (ctl *Controller) handleChat(id domain.ParticipantID, c *wsConn, env protocol.Envelope) {
	if !ctl.chatLimiter.Allow(id) {
		ctl.sendError(c, "rate_limited", "too many chat messages")
		return
	}

	roomID, ok := ctl.Service.Registry.RoomOf(id)
	if !ok {
		ctl.sendError(c, "not_in_room", "join a room before chatting")
		return
	}
	room, ok := ctl.Service.Rooms.Get(roomID)
	if !ok {
		return
	}

	var msg domain.ChatMessage
	if err := env.Open(&msg); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	if msg.Text == "" || len(msg.Text) > domain.MaxChatTextLen {
		ctl.sendError(c, "bad_payload", "chat text empty or too long")
		return
	}
	msg.Author = id // author is whoever holds the connection

	out, err := protocol.Seal(protocol.Envelope{
		Type: protocol.TypeChat,
		Room: roomID,
		From: id,
	}, msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("seal chat")
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal chat")
		return
	}

	res := room.Broadcast(id, b, true)
	log.Debug().Str("module", "signal").Str("room", string(roomID)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("chat broadcast")
}
