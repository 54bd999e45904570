// Command gateway serves the realtime WebSocket fan-out. It consumes relayed
// changes from JetStream and polls subscribed sessions as a fallback.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/dbconfig"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/mcdev12/fingerbutton/go/internal/game/gateway"
	"github.com/mcdev12/fingerbutton/go/internal/game/presence"
	"github.com/mcdev12/fingerbutton/go/internal/game/repository"
	"github.com/mcdev12/fingerbutton/go/internal/game/session"
	"github.com/mcdev12/fingerbutton/go/internal/gameconfig"
	"github.com/rs/cors"
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

	port := getEnv("GATEWAY_PORT", "8081")
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
	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", jsCfg.URL).
		Str("port", port).
		Msg("starting game gateway")

	// Presses arriving over WebSocket go through the same presence and
	// elimination path as the RPC server.
	clock := clockwork.NewRealClock()
	repo := repository.NewRepository(pool)
	engine := elimination.NewEngine(repo, clock)
	tracker := presence.NewTracker(repo, engine, clock, presence.Config{
		HeartbeatInterval: gameCfg.HeartbeatInterval,
		StaleAfter:        gameCfg.StaleAfter,
	})
	defer tracker.Close()
	app := session.NewApp(repo, engine, clock, gameCfg)

	feed := changefeed.NewFeedWithClock(clock)
	source, err := changefeed.NewJetStreamSource(feed, jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create change consumer")
	}
	defer source.Close()

	gatewayService := gateway.NewService(gateway.DefaultConfig(), feed, app, tracker, clock)

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"game-gateway","connections":%d,"sessions":%d}`,
			stats.TotalConnections, stats.ActiveSessions)
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", port),
		Handler:     cors.AllowAll().Handler(mux),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	done := make(chan struct{}, 3)
	go func() {
		defer func() { done <- struct{}{} }()
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		if err := source.Start(ctx); err != nil {
			log.Error().Err(err).Msg("change consumer failed")
			stop()
		}
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		feed.RunFallback(ctx, gameCfg.Feed.FallbackInterval)
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	for i := 0; i < cap(done); i++ {
		<-done
	}
	log.Info().Msg("game gateway shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
