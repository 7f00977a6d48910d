package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edulive/rtcmesh/internal/adapters/httpapi"
	"github.com/edulive/rtcmesh/internal/adapters/media"
	sigadapter "github.com/edulive/rtcmesh/internal/adapters/signal"
	"github.com/edulive/rtcmesh/internal/app"
	"github.com/edulive/rtcmesh/internal/config"
	"github.com/edulive/rtcmesh/internal/domain"
	"github.com/edulive/rtcmesh/internal/rtc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	displayName := cfg.DisplayName
	if displayName == "" {
		displayName = "guest"
	}
	self, err := domain.NewUser(displayName, domain.RoleParticipant)
	if err != nil {
		log.Fatal().Err(err).Str("displayName", displayName).Msg("invalid identity")
	}
	if cfg.UserID != "" {
		if err := self.SetID(domain.UserID(cfg.UserID)); err != nil {
			log.Fatal().Err(err).Str("userId", cfg.UserID).Msg("invalid identity")
		}
	}

	channel := sigadapter.NewClient(sigadapter.Options{
		URL:               cfg.SignalURL,
		Identity:          self.ID,
		PingPeriod:        cfg.PingPeriod,
		ReadLimit:         cfg.ReadLimit,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		ForcedLogout: func(reason string) {
			log.Warn().Str("reason", reason).Msg("forced logout, shutting down")
			cancel()
		},
	})
	if err := channel.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("signaling connect failed")
	}
	defer channel.Close()

	source, err := media.NewSource()
	if err != nil {
		log.Fatal().Err(err).Msg("media source init failed")
	}
	mediaMgr := app.NewMediaManager(source, cfg.DeviceCooldown)
	mediaMgr.OnDiagnostic(func(me *app.MediaError) {
		log.Warn().Str("class", string(me.Class)).Msg(me.UserMessage())
	})

	linkFactory, err := rtc.NewFactory(cfg.STUNServers, source.Populate)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api init failed")
	}
	registry := app.NewRegistry(linkFactory, cfg.RelinkDelay)
	negotiator := app.NewNegotiator(channel, registry, mediaMgr, self.ID, cfg.GatherTimeout, cfg.RetryDelay)

	typing := app.NewTypingSet()
	go typing.RunSweeper(ctx)

	coord := app.NewCoordinator(channel, mediaMgr, registry, negotiator, typing, self)
	coord.Listen()

	r := httpapi.SetupRouter(cfg, coord)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("user", string(self.ID)).Msg("rtcmesh client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if snap := coord.Snapshot(); snap.SessionID != "" {
		if snap.Role == domain.RoleHost {
			_ = coord.End(snap.SessionID)
		} else {
			_ = coord.Leave(snap.SessionID)
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
