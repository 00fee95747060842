package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/campusloop/backend/internal/auth"
	"github.com/campusloop/backend/internal/config"
	"github.com/campusloop/backend/internal/database/migrate"
	"github.com/campusloop/backend/internal/handler"
	"github.com/campusloop/backend/internal/service/broker"
	"github.com/campusloop/backend/internal/service/tourgen"
	"github.com/campusloop/backend/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file, using system environment only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogger(cfg.Server.LogLevel)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("database unreachable")
	}
	cancel()

	if err := migrate.Run(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	store := postgres.New(db)

	// The itinerary generator is optional: without model credentials the
	// broker runs with enrichment disabled.
	var enricher broker.Enricher
	if cfg.AI.Enabled() {
		tourgenSvc, err := tourgen.NewService(ctx, cfg.AI, log.With().Str("component", "tourgen").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("itinerary generation unavailable, sessions start with submitted structures")
		} else {
			enricher = tourgenSvc
			log.Info().Msg("itinerary generation enabled")
		}
	} else {
		log.Info().Msg("no model credentials configured, itinerary generation disabled")
	}

	var verifier *auth.Verifier
	if cfg.Auth.WSSecret != "" {
		verifier = auth.NewVerifier(cfg.Auth.WSSecret)
		log.Info().Msg("websocket upgrade requires a bearer credential")
	}

	registry := broker.NewRegistry()
	liveBroker := broker.New(registry, store, enricher, log.With().Str("component", "broker").Logger())

	router := handler.NewRouter(liveBroker, verifier, store, db, log.Logger)

	startServer(ctx, cfg.Server, router)
}

func setupLogger(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("campusloop backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
