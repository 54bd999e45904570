// Package orchestrator drives the time-based parts of the game: countdown
// completion, scheduled game activation and the staleness sweep.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionApp defines what the orchestrator needs from the session app
type SessionApp interface {
	CompleteCountdown(ctx context.Context, sessionID uuid.UUID) bool
	ActivateScheduledGames(ctx context.Context) int
	RepairPlacements(ctx context.Context) int
	LiveSessions(ctx context.Context) ([]*models.GameSession, error)
}

// StaleCleaner eliminates holders that stopped sending heartbeats.
type StaleCleaner interface {
	CleanupStalePlayers(ctx context.Context, sessionID uuid.UUID) int
}

type Config struct {
	Workers       int
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:       10,
		SweepInterval: 3 * time.Second,
	}
}

type Orchestrator struct {
	app        SessionApp
	cleaner    StaleCleaner
	clock      clockwork.Clock
	cfg        Config
	instanceID string

	workCh chan uuid.UUID

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex

	activeTimers   map[uuid.UUID]*countdownTimer
	activeTimersMu sync.Mutex
	waiters        atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a new game orchestrator with worker pool
func NewOrchestrator(app SessionApp, cleaner StaleCleaner, clock clockwork.Clock, cfg Config) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		app:        app,
		cleaner:    cleaner,
		clock:      clock,
		cfg:        cfg,
		instanceID: uuid.New().String()[:8], // short ID for logging

		workCh:       make(chan uuid.UUID, cfg.Workers*2),
		inFlight:     make(map[uuid.UUID]bool),
		activeTimers: make(map[uuid.UUID]*countdownTimer),

		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the worker pool and the sweep loop. The first sweep runs
// immediately and re-arms countdowns of sessions left in starting.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().
		Str("instance", o.instanceID).
		Int("workers", o.cfg.Workers).
		Dur("sweep_interval", o.cfg.SweepInterval).
		Msg("orchestrator started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		o.cancel()
		cancelWorkers()
		wg.Wait()
		o.cancelAllTimers()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	o.sweep(ctx)

	ticker := o.clock.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", o.instanceID).Msg("orchestrator shutdown requested")
			return nil
		case <-o.ctx.Done():
			return nil
		case <-ticker.Chan():
			o.sweep(ctx)
		}
	}
}

// Stop cancels pending countdown timers and ends Run.
func (o *Orchestrator) Stop() {
	o.cancel()
}

// sweep opens due scheduled games, finishes interrupted placements, recovers
// countdowns and eliminates stale holders.
func (o *Orchestrator) sweep(ctx context.Context) {
	o.app.ActivateScheduledGames(ctx)
	o.app.RepairPlacements(ctx)

	live, err := o.app.LiveSessions(ctx)
	if err != nil {
		log.Error().Err(err).Str("instance", o.instanceID).Msg("failed to list live sessions")
		return
	}

	now := o.clock.Now()
	for _, sess := range live {
		if sess.Status == models.GameStatusStarting && sess.CountdownEndsAt != nil {
			switch {
			case !sess.CountdownEndsAt.After(now):
				o.enqueue(sess.ID)
			case !o.hasTimer(sess.ID):
				log.Info().Str("session_id", sess.ID.String()).Msg("re-arming countdown")
				o.ScheduleCountdown(sess.ID, *sess.CountdownEndsAt)
			}
		}
		o.cleaner.CleanupStalePlayers(ctx, sess.ID)
	}
}

func (o *Orchestrator) enqueue(sessionID uuid.UUID) {
	o.inFlightMu.Lock()
	if o.inFlight[sessionID] {
		o.inFlightMu.Unlock()
		log.Debug().Str("session_id", sessionID.String()).Str("instance", o.instanceID).Msg("skipping session already in flight")
		return
	}
	o.inFlight[sessionID] = true
	o.inFlightMu.Unlock()

	select {
	case o.workCh <- sessionID:
		log.Debug().Str("session_id", sessionID.String()).Msg("queued countdown completion")
	case <-o.ctx.Done():
		o.inFlightMu.Lock()
		delete(o.inFlight, sessionID)
		o.inFlightMu.Unlock()
	}
}

// worker completes countdowns from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case sessionID := <-o.workCh:
			log.Debug().
				Str("session_id", sessionID.String()).
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker completing countdown")

			o.app.CompleteCountdown(ctx, sessionID)

			// Clean up in-flight tracking regardless of success/failure
			o.inFlightMu.Lock()
			delete(o.inFlight, sessionID)
			o.inFlightMu.Unlock()
		}
	}
}
