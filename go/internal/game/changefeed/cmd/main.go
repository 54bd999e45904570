// Command relay forwards Postgres change notifications for the game tables
// onto the GAME_CHANGES JetStream stream.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/mcdev12/fingerbutton/go/internal/dbconfig"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/game/repository"
	"github.com/mcdev12/fingerbutton/go/internal/gameconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	gameCfg, err := gameconfig.Load(getEnv("GAME_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load game config")
	}
	dbCfg := dbconfig.NewConfigFromEnv()

	jsCfg := changefeed.DefaultJetStreamConfig()
	jsCfg.URL = getEnv("NATS_URL", jsCfg.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbCfg.PoolDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	publisher, err := changefeed.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create JetStream publisher")
	}
	defer publisher.Close()

	listenerCfg := changefeed.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	listenerCfg.NotifyChannel = gameCfg.Feed.NotifyChannel
	listenerCfg.FallbackInterval = gameCfg.Feed.FallbackInterval

	listener, err := changefeed.NewListener(repository.NewRepository(pool), publisher, listenerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create listener")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", jsCfg.URL).
		Str("stream", jsCfg.StreamName).
		Msg("starting change relay")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("listener failed")
			stop()
		}
	}()

	health := changefeed.NewHealthChecker(listener, pool, publisher)
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	mux.Handle("/metrics", health.MetricsHandler())
	server := &http.Server{
		Addr:         ":" + getEnv("RELAY_PORT", "8082"),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health check server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}
	<-done
	log.Info().Msg("change relay shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
