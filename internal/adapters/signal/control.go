package signal

import "github.com/avenko/huddle/internal/protocol"

func (ctl *Controller) handlePing(c *wsConn) {
	ctl.sendEnv(c, protocol.Envelope{Type: protocol.TypePong})
}
