// Headless demo participant: joins a room with synthetic capture
// tracks, prints roster and chat activity, and optionally runs a short
// screen-share cycle. Useful for poking at a coordinator without a
// browser.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avenko/huddle/internal/client"
	"github.com/avenko/huddle/internal/config"
	"github.com/avenko/huddle/internal/domain"
)

func main() {
	var (
		serverURL   = flag.String("server", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
		room        = flag.String("room", "lobby", "room to join")
		chatText    = flag.String("say", "", "chat message to send after joining")
		shareAfter  = flag.Duration("share-after", 0, "start a screen share after this long (0 = never)")
		stunServers = flag.String("stun", "stun:stun.l.google.com:19302", "comma-separated STUN URLs")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	iceServers, err := config.ParseICEServers(*stunServers, "", "", "")
	if err != nil {
		log.Fatal().Err(err).Msg("bad stun config")
	}

	sess, err := client.NewSession(client.Config{
		ServerURL:  *serverURL,
		ICEServers: iceServers,
		Capture:    client.SyntheticProvider{},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create session")
	}
	defer sess.Close()

	if err := sess.JoinRoom(ctx, domain.RoomID(*room)); err != nil {
		log.Fatal().Err(err).Str("room", *room).Msg("join failed")
	}

	if *chatText != "" {
		go func() {
			time.Sleep(time.Second)
			if err := sess.SendChat(*chatText); err != nil {
				log.Warn().Err(err).Msg("chat send")
			}
		}()
	}
	if *shareAfter > 0 {
		go func() {
			time.Sleep(*shareAfter)
			if err := sess.StartScreenShare(ctx); err != nil {
				log.Warn().Err(err).Msg("screen share")
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if err := sess.LeaveRoom(); err != nil {
				log.Debug().Err(err).Msg("leave")
			}
			return
		case ev, ok := <-sess.Events():
			if !ok {
				return
			}
			printEvent(ev)
		}
	}
}

func printEvent(ev client.Event) {
	l := log.Info().Str("event", ev.Kind.String())
	switch ev.Kind {
	case client.EventRoomJoined, client.EventPeerJoined, client.EventPeerLeft:
		l.Interface("participants", ev.Participants).Str("participant", string(ev.Participant)).Msg("roster")
	case client.EventChat:
		l.Str("author", string(ev.Message.Author)).Str("text", ev.Message.Text).Msg("chat")
	case client.EventTrack:
		l.Str("participant", string(ev.Participant)).Str("kind", ev.Track.Kind().String()).Msg("remote track")
	case client.EventPeerLost:
		l.Str("participant", string(ev.Participant)).Err(ev.Err).Msg("peer lost")
	case client.EventConnectivity:
		l.Bool("connected", ev.Connected).Msg("signaling")
	case client.EventScreenShare:
		l.Bool("sharing", ev.Sharing).Msg("screen share")
	default:
		l.Msg("event")
	}
}
