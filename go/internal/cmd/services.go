package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/game"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/mcdev12/fingerbutton/go/internal/game/gateway"
	"github.com/mcdev12/fingerbutton/go/internal/game/memstore"
	"github.com/mcdev12/fingerbutton/go/internal/game/orchestrator"
	"github.com/mcdev12/fingerbutton/go/internal/game/presence"
	"github.com/mcdev12/fingerbutton/go/internal/game/repository"
	"github.com/mcdev12/fingerbutton/go/internal/game/session"
	"github.com/mcdev12/fingerbutton/go/internal/leaderboard"
	"github.com/rs/zerolog/log"
)

// gameStore is everything the API server needs from a store.
type gameStore interface {
	session.Store
	presence.Store
	elimination.Store
	leaderboard.Store
	changefeed.SessionLister
}

type Services struct {
	Game    *game.Service
	Gateway *gateway.Service // in-process gateway, memory store only

	feed         *changefeed.Feed
	presence     *presence.Tracker
	orchestrator *orchestrator.Orchestrator
	recorder     *leaderboard.Recorder
	listener     *changefeed.Listener
	cfg          *Config

	pool  *pgxpool.Pool
	redis *leaderboard.Client

	wg sync.WaitGroup
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Engine → Presence / Session app → Orchestrator → Service
	clock := clockwork.NewRealClock()
	feed := changefeed.NewFeedWithClock(clock)
	s := &Services{feed: feed, cfg: cfg}

	var store gameStore
	switch cfg.StoreDriver {
	case storeMemory:
		mem := memstore.New()
		mem.SetNotifier(feed)
		store = mem
		log.Warn().Msg("using in-memory store, state is lost on restart")
	default:
		pool, err := setupDatabase(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		repo := repository.NewRepository(pool)
		store = repo

		listenerCfg := changefeed.DefaultListenerConfig()
		listenerCfg.DatabaseURL = cfg.Database.DSN()
		listenerCfg.NotifyChannel = cfg.Game.Feed.NotifyChannel
		listenerCfg.FallbackInterval = cfg.Game.Feed.FallbackInterval
		// The feed itself is the publisher: changes stay in this process.
		listener, err := changefeed.NewListener(repo, feed, listenerCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create change listener: %w", err)
		}
		s.listener = listener
	}

	engine := elimination.NewEngine(store, clock)
	s.presence = presence.NewTracker(store, engine, clock, presence.Config{
		HeartbeatInterval: cfg.Game.HeartbeatInterval,
		StaleAfter:        cfg.Game.StaleAfter,
	})
	app := session.NewApp(store, engine, clock, cfg.Game)
	s.orchestrator = orchestrator.NewOrchestrator(app, s.presence, clock, orchestrator.Config{
		Workers:       cfg.Game.SchedulerWorkers,
		SweepInterval: cfg.Game.SweepInterval,
	})
	app.SetCountdownScheduler(s.orchestrator)

	var board game.Leaderboard
	if cfg.Leaderboard {
		client, err := leaderboard.NewClient(ctx, leaderboard.LoadConfigFromEnv())
		if err != nil {
			log.Warn().Err(err).Msg("leaderboard disabled")
		} else {
			s.redis = client
			s.recorder = leaderboard.NewRecorder(client, store)
			feed.SubscribeAll(s.recorder.Handle, changefeed.TableSessions)
			board = client
		}
	}

	s.Game = game.NewService(app, s.presence, board)
	if cfg.StoreDriver == storeMemory {
		s.Gateway = gateway.NewService(gateway.DefaultConfig(), feed, app, s.presence, clock)
	}
	return s, nil
}

// Start launches every background loop. They stop when ctx is done.
func (s *Services) Start(ctx context.Context) {
	s.goRun("orchestrator", func() error { return s.orchestrator.Run(ctx) })
	s.goRun("feed fallback", func() error {
		s.feed.RunFallback(ctx, s.cfg.Game.Feed.FallbackInterval)
		return nil
	})
	if s.listener != nil {
		s.goRun("change listener", func() error { return s.listener.Start(ctx) })
	}
	if s.recorder != nil {
		s.goRun("leaderboard recorder", func() error {
			s.recorder.Run(ctx)
			return nil
		})
	}
	if s.Gateway != nil {
		s.goRun("gateway", func() error { return s.Gateway.Start(ctx) })
	}
}

func (s *Services) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			log.Error().Err(err).Str("component", name).Msg("background component failed")
		}
	}()
}

// Wait blocks until every background loop has returned.
func (s *Services) Wait() {
	s.wg.Wait()
}

// Close releases heartbeats and connections.
func (s *Services) Close() {
	if s.presence != nil {
		s.presence.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close Redis client")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
