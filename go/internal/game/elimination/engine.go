package elimination

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store defines what the engine needs from the game store
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)
	ListActivePlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)
	CompleteSession(ctx context.Context, id uuid.UUID, winnerFID *int64, endedAt time.Time) (bool, error)
	SetPlacement(ctx context.Context, sessionID uuid.UUID, fid int64, placement int) (bool, error)
	FinalizePlacements(ctx context.Context, sessionID uuid.UUID, start int) (int, error)
}

// Result describes what a winner check did.
type Result struct {
	// Completed is true only for the call that moved the session to completed.
	Completed bool
	WinnerFID *int64
	// Remaining is the number of non-eliminated players observed.
	Remaining int
	Placed    int
}

// Engine decides when a session is over. It keeps no state between calls;
// every check re-reads the store and completion is a conditional write, so
// concurrent and repeated calls complete a session at most once.
type Engine struct {
	store Store
	clock clockwork.Clock
}

func NewEngine(store Store, clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		store: store,
		clock: clock,
	}
}

// CheckForWinner completes the session when one or zero players remain.
// On a session that is already completed it only assigns placements that a
// failed earlier call left unset.
func (e *Engine) CheckForWinner(ctx context.Context, sessionID uuid.UUID) (Result, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get session: %w", err)
	}
	if sess.Status == models.GameStatusCompleted {
		placed, err := e.place(ctx, sessionID, sess.WinnerFID)
		return Result{WinnerFID: sess.WinnerFID, Placed: placed}, err
	}
	if !sess.Status.IsLive() {
		return Result{}, nil
	}

	active, err := e.store.ListActivePlayers(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list active players: %w", err)
	}
	res := Result{Remaining: len(active)}
	if len(active) > 1 {
		return res, nil
	}

	var winner *int64
	if len(active) == 1 {
		fid := active[0].FID
		winner = &fid
	}

	ok, err := e.store.CompleteSession(ctx, sessionID, winner, e.clock.Now())
	if err != nil {
		return res, fmt.Errorf("failed to complete session: %w", err)
	}
	if !ok {
		// Another caller completed it, or someone was eliminated since the read.
		log.Debug().Str("session_id", sessionID.String()).Msg("completion guard not met")
		return res, nil
	}
	res.Completed = true
	res.WinnerFID = winner

	res.Placed, err = e.place(ctx, sessionID, winner)
	if err != nil {
		return res, err
	}

	ev := log.Info().Str("session_id", sessionID.String()).Int("placed", res.Placed)
	if winner != nil {
		ev = ev.Int64("winner_fid", *winner)
	}
	ev.Msg("game completed")
	return res, nil
}

// place ranks every player of a completed session that has no placement yet.
// Both writes skip rows already placed, so it is safe to run again after a
// partial failure.
func (e *Engine) place(ctx context.Context, sessionID uuid.UUID, winner *int64) (int, error) {
	players, err := e.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to list players: %w", err)
	}

	pending := false
	winnerPlaced := false
	for _, p := range players {
		if p.Placement != nil {
			if winner != nil && p.FID == *winner {
				winnerPlaced = true
			}
			continue
		}
		pending = true
	}
	if !pending {
		return 0, nil
	}

	placed := 0
	start := 1
	if winner != nil {
		start = 2
		if !winnerPlaced {
			ok, err := e.store.SetPlacement(ctx, sessionID, *winner, 1)
			if err != nil {
				return 0, fmt.Errorf("failed to place winner: %w", err)
			}
			if ok {
				placed++
			} else {
				log.Warn().
					Str("session_id", sessionID.String()).
					Int64("winner_fid", *winner).
					Msg("winner placement not applied")
			}
		}
	}

	n, err := e.store.FinalizePlacements(ctx, sessionID, start)
	if err != nil {
		return placed, fmt.Errorf("failed to finalize placements: %w", err)
	}
	return placed + n, nil
}
