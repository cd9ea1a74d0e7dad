package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/domain"
	"github.com/avenko/huddle/internal/protocol"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Closing the conn unblocks readPump, whose defer removes
			// the participant from its room.
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump runs until the transport drops, then removes the participant
// from its room so the remaining members get user-left right away.
func (ctl *Controller) readPump(ctx context.Context, id domain.ParticipantID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("participant", string(id)).Msg("readPump closing")
		c.Close()
		ctl.chatLimiter.Forget(id)
		ctl.Service.Disconnect(id)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("participant", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(id, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(id domain.ParticipantID, c *wsConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("participant", string(id)).Msg("bad frame")
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		ctl.handleJoin(id, c, env)
	case protocol.TypeLeaveRoom:
		ctl.handleLeave(id, c)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		ctl.handleRelay(id, env)
	case protocol.TypeChat:
		ctl.handleChat(id, c, env)
	default:
		log.Warn().Str("module", "signal").Str("type", string(env.Type)).Msg("unexpected signal from client")
	}
}

func (ctl *Controller) sendEnv(c *wsConn, env protocol.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal envelope")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, code, message string) {
	env, err := protocol.Seal(protocol.Envelope{Type: protocol.TypeError}, protocol.Error{
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	ctl.sendEnv(c, env)
}
