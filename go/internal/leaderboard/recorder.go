package leaderboard

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Board stores game results.
type Board interface {
	RecordResult(ctx context.Context, sessionID uuid.UUID, winnerFID *int64, participants []int64) (bool, error)
}

// Store defines what the recorder needs from the game store
type Store interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)
}

// Recorder watches the change feed for completed sessions and records them.
// Handle never blocks the feed; recording happens on Run's goroutine.
type Recorder struct {
	board   Board
	store   Store
	pending chan uuid.UUID
}

func NewRecorder(board Board, store Store) *Recorder {
	return &Recorder{
		board:   board,
		store:   store,
		pending: make(chan uuid.UUID, 256),
	}
}

// sessionStatus is the subset of a session row the recorder inspects.
type sessionStatus struct {
	Status models.GameStatus `json:"status"`
}

// Handle is a changefeed.Handler for the sessions table.
func (r *Recorder) Handle(_ context.Context, ev changefeed.ChangeEvent) {
	if ev.Table != changefeed.TableSessions || ev.Type != changefeed.ChangeUpdate || len(ev.Record) == 0 {
		return
	}
	var row sessionStatus
	if err := json.Unmarshal(ev.Record, &row); err != nil {
		log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Msg("unreadable session change")
		return
	}
	if row.Status != models.GameStatusCompleted {
		return
	}

	select {
	case r.pending <- ev.SessionID:
	default:
		log.Warn().Str("session_id", ev.SessionID.String()).Msg("leaderboard queue full, dropping result")
	}
}

// Run records queued sessions until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.pending:
			if err := r.record(ctx, id); err != nil {
				log.Error().Err(err).Str("session_id", id.String()).Msg("failed to record leaderboard result")
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.GameStatusCompleted {
		return nil
	}
	players, err := r.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return err
	}
	fids := make([]int64, len(players))
	for i, p := range players {
		fids[i] = p.FID
	}

	recorded, err := r.board.RecordResult(ctx, sessionID, sess.WinnerFID, fids)
	if err != nil {
		return err
	}
	if recorded {
		log.Info().Str("session_id", sessionID.String()).Int("participants", len(fids)).Msg("recorded leaderboard result")
	}
	return nil
}
