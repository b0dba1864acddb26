package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"duochat/internal/auth"
	"duochat/internal/config"
	"duochat/internal/httpapi"
	"duochat/internal/store"
	"duochat/internal/ws"
)

var rootCmd = &cobra.Command{
	Use:   "duochat",
	Short: "Two-party chat relay server",
	RunE:  runServer,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute server command")
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("[server] store close error")
		}
	}()

	hub := ws.NewHub(st)
	go hub.Run()

	authority := auth.NewAuthority(cfg.TokenSecret, cfg.TokenTTL)
	handler := httpapi.NewRouter(httpapi.Deps{
		Hub:          hub,
		Store:        st,
		Authority:    authority,
		Login:        auth.NewLoginHandler(cfg.Users, authority),
		HistoryLimit: cfg.HistoryLimit,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		hub.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("[server] http shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Msg("[server] listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info().Msg("[server] shutdown complete")
	return nil
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}
