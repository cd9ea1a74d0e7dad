package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/app"
	"github.com/avenko/huddle/internal/config"
	"github.com/avenko/huddle/internal/core"
	"github.com/avenko/huddle/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller terminates signaling websockets and routes frames between
// room members. It never inspects relayed offer/answer/candidate
// payloads.
type Controller struct {
	Service *app.Service

	readLimit   int64
	pingPeriod  time.Duration
	chatLimiter *RateLimiter
}

func NewController(svc *app.Service, cfg *config.Config) *Controller {
	return &Controller{
		Service:     svc,
		readLimit:   cfg.ReadLimit,
		pingPeriod:  cfg.PingPeriod,
		chatLimiter: NewRateLimiter(cfg.ChatBurst, cfg.ChatInterval),
	}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// wsSession binds a participant identity to its websocket for the room
// layer.
type wsSession struct {
	id   domain.ParticipantID
	conn *wsConn
}

func (s *wsSession) ID() domain.ParticipantID      { return s.id }
func (s *wsSession) Signal() core.SignalConnection { return s.conn }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the
// transport drops. Each connection gets a fresh participant identity if
// the token middleware did not supply one.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.ParticipantID(c.GetString("client_token"))
	if id == "" {
		id = domain.ParticipantID(uuid.NewString())
	}
	log.Info().Str("module", "signal").Str("participant", string(id)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := &wsSession{id: id, conn: conn}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Service.Registry.Bind(id, sess, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}
