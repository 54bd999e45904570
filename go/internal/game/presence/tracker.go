// Package presence tracks who is holding the button. A holder stays in the
// game only while heartbeats keep arriving; releasing, a failed heartbeat or
// going stale all end in the same permanent elimination.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/rs/zerolog/log"
)

// Store defines what the tracker needs from the game store
type Store interface {
	StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error)
	TouchHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error)
	EliminatePlayer(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error)
	EliminateStalePlayers(ctx context.Context, sessionID uuid.UUID, cutoff, now time.Time) ([]int64, error)
}

// WinnerChecker runs after every elimination.
type WinnerChecker interface {
	CheckForWinner(ctx context.Context, sessionID uuid.UUID) (elimination.Result, error)
}

type Config struct {
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 2 * time.Second,
		StaleAfter:        8 * time.Second,
	}
}

type heartbeatKey struct {
	sessionID uuid.UUID
	fid       int64
}

type heartbeat struct {
	ticker clockwork.Ticker
	cancel context.CancelFunc
}

type Tracker struct {
	store   Store
	checker WinnerChecker
	clock   clockwork.Clock
	cfg     Config

	mu         sync.Mutex
	heartbeats map[heartbeatKey]*heartbeat

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTracker(store Store, checker WinnerChecker, clock clockwork.Clock, cfg Config) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:      store,
		checker:    checker,
		clock:      clock,
		cfg:        cfg,
		heartbeats: make(map[heartbeatKey]*heartbeat),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// StartPressing marks the player as holding. False means the guard was not met.
func (t *Tracker) StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool {
	ok, err := t.store.StartPressing(ctx, sessionID, fid, t.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Int64("fid", fid).Msg("failed to start pressing")
		return false
	}
	if !ok {
		log.Debug().Str("session_id", sessionID.String()).Int64("fid", fid).Msg("start pressing rejected")
	}
	return ok
}

// SendHeartbeat refreshes a holder's liveness.
func (t *Tracker) SendHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64) bool {
	ok, err := t.store.TouchHeartbeat(ctx, sessionID, fid, t.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Int64("fid", fid).Msg("failed to record heartbeat")
		return false
	}
	return ok
}

// StopPressing releases and eliminates the player, then checks for a winner.
// The player's local heartbeat is stopped whatever the outcome.
func (t *Tracker) StopPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool {
	t.StopHeartbeat(sessionID, fid)

	ok, err := t.store.EliminatePlayer(ctx, sessionID, fid, t.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Int64("fid", fid).Msg("failed to stop pressing")
		return false
	}
	if !ok {
		log.Debug().Str("session_id", sessionID.String()).Int64("fid", fid).Msg("stop pressing rejected")
		return false
	}

	log.Info().Str("session_id", sessionID.String()).Int64("fid", fid).Msg("player eliminated")
	t.checkForWinner(ctx, sessionID)
	return true
}

// CleanupStalePlayers eliminates holders whose heartbeat is older than
// StaleAfter and then always runs the winner check.
func (t *Tracker) CleanupStalePlayers(ctx context.Context, sessionID uuid.UUID) int {
	now := t.clock.Now()
	fids, err := t.store.EliminateStalePlayers(ctx, sessionID, now.Add(-t.cfg.StaleAfter), now)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to clean up stale players")
		return 0
	}
	for _, fid := range fids {
		t.StopHeartbeat(sessionID, fid)
	}
	if len(fids) > 0 {
		log.Info().Str("session_id", sessionID.String()).Ints64("fids", fids).Msg("eliminated stale players")
	}

	t.checkForWinner(ctx, sessionID)
	return len(fids)
}

func (t *Tracker) checkForWinner(ctx context.Context, sessionID uuid.UUID) {
	if _, err := t.checker.CheckForWinner(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("winner check failed")
	}
}
