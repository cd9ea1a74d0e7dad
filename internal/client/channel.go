package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Transport is the signaling channel as the session sees it: sends are
// fire-and-forget, inbound envelopes arrive in transport delivery order,
// and a closed Incoming channel means the connection is gone for good.
type Transport interface {
	Send(protocol.Envelope) error
	Incoming() <-chan protocol.Envelope
	Close()
}

// Channel is the websocket Transport. Frames that fail to decode are
// logged and skipped; ordering of the rest is preserved.
type Channel struct {
	conn     *websocket.Conn
	incoming chan protocol.Envelope
	outgoing chan protocol.Envelope
	done     chan struct{}
	closing  sync.Once
}

// Dial connects to the coordinator and starts the IO pumps.
func Dial(ctx context.Context, serverURL string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	c := &Channel{
		conn:     conn,
		incoming: make(chan protocol.Envelope, 32),
		outgoing: make(chan protocol.Envelope, 32),
		done:     make(chan struct{}),
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Channel) readPump() {
	defer func() {
		c.shutdown()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "client.channel").Msg("read loop ended")
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.channel").Msg("dropping undecodable frame")
			continue
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case env := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Warn().Err(err).Str("module", "client.channel").Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues an envelope. Delivery is never acknowledged; once the
// transport is gone it fails fast.
func (c *Channel) Send(env protocol.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrTransportUnavailable
	}
}

func (c *Channel) Incoming() <-chan protocol.Envelope { return c.incoming }

func (c *Channel) Close() { c.shutdown() }

func (c *Channel) shutdown() {
	c.closing.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
