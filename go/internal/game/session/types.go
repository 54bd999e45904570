package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

// ErrInvalidArgument marks requests rejected before reaching the store.
var ErrInvalidArgument = errors.New("invalid argument")

// HistoryLimit is how many past games GetUserHistory returns.
const HistoryLimit = 20

const featuredLimit = 5

// Store defines what the session app needs from the game store
type Store interface {
	CreateSession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, error)
	GetOrCreateDailySession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, bool, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	GetSessionByShareCode(ctx context.Context, code string) (*models.GameSession, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.GameSession, error)
	TransitionToStarting(ctx context.Context, id uuid.UUID, startedAt, countdownEndsAt time.Time) (bool, error)
	CompleteCountdown(ctx context.Context, id uuid.UUID, now time.Time) (bool, []int64, error)
	ActivateScheduledSessions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListUnplacedSessions(ctx context.Context) ([]uuid.UUID, error)
	JoinSession(ctx context.Context, p models.JoinParams) (*models.Player, bool, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)
	ListPlayerHistory(ctx context.Context, fid int64, limit int) ([]models.PlayerHistoryEntry, error)
}

// WinnerChecker runs after the countdown eliminates non-holders.
type WinnerChecker interface {
	CheckForWinner(ctx context.Context, sessionID uuid.UUID) (elimination.Result, error)
}

// CountdownScheduler arms the delayed countdown completion for a session.
type CountdownScheduler interface {
	ScheduleCountdown(sessionID uuid.UUID, endsAt time.Time)
}

// JoinRequest identifies a participant joining a session.
type JoinRequest struct {
	SessionID   uuid.UUID
	FID         int64
	Username    string
	DisplayName *string
	PfpURL      *string
}

// GameState is a session together with its players, as broadcast to clients.
type GameState struct {
	Session *models.GameSession `json:"session"`
	Players []*models.Player    `json:"players"`
}
