package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devhazem/meetmesh/internal/adapters/realtime"
	"github.com/devhazem/meetmesh/internal/adapters/rtc"
	"github.com/devhazem/meetmesh/internal/config"
	"github.com/devhazem/meetmesh/internal/core"
	"github.com/devhazem/meetmesh/internal/domain"
	"github.com/devhazem/meetmesh/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	code := domain.RoomCode(cfg.RoomCode)
	if code == "" {
		log.Fatal().Msg("room_code is required")
	}

	// An identity owning the room it joins becomes that room's host.
	self, err := domain.NewIdentity(cfg.Name, code)
	if err != nil {
		log.Fatal().Err(err).Msg("bad identity")
	}
	self.Image = cfg.Image

	rtcCfg := webrtc.Configuration{}
	if len(cfg.StunServers) > 0 {
		rtcCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.StunServers}}
	} else {
		rtcCfg = rtc.DefaultConfig()
	}

	hooks := session.Hooks{
		OnState: func(state core.State) {
			log.Info().Str("state", state.String()).Msg("session state")
		},
		OnWaiting: func(entry session.WaitingEntry) {
			log.Info().Str("name", entry.Identity.Name).Str("key", string(entry.Key)).Msg("waiting for admission")
		},
		OnParticipantJoined: func(p session.Participant) {
			log.Info().Str("name", p.Identity.Name).Str("key", string(p.Key)).Msg("participant joined")
		},
		OnParticipantLeft: func(p session.Participant) {
			log.Info().Str("name", p.Identity.Name).Str("key", string(p.Key)).Msg("participant left")
		},
		OnChat: func(msg domain.ChatMessage) {
			log.Info().Str("from", msg.User.Name).Str("text", msg.Message).Msg("chat")
		},
		OnPresenter: func(p *session.Presenter) {
			if p == nil {
				log.Info().Msg("screen share ended")
				return
			}
			log.Info().Str("name", p.Identity.Name).Msg("screen share started")
		},
		OnMuted: func(muted bool) {
			log.Info().Bool("muted", muted).Msg("moderation")
		},
	}

	sess := session.New(
		code,
		self,
		realtime.NewClient(cfg.HubURL),
		rtc.NewFactory(rtcCfg),
		rtc.SampleMediaProvider{},
		hooks,
	)

	if err := sess.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	if err := sess.Join(ctx); err != nil {
		log.Fatal().Err(err).Msg("join")
	}

	<-ctx.Done()
	log.Info().Msg("hanging up")
	sess.HangUp()
}
