package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/gameconfig"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// App handles the session lifecycle: creation, joining and the
// waiting → starting → active transitions. Completion belongs to the
// elimination engine.
type App struct {
	store     Store
	checker   WinnerChecker
	scheduler CountdownScheduler
	clock     clockwork.Clock
	cfg       gameconfig.Config

	newCode func() (string, error)
}

// NewApp creates a new session App
func NewApp(store Store, checker WinnerChecker, clock clockwork.Clock, cfg gameconfig.Config) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		store:   store,
		checker: checker,
		clock:   clock,
		cfg:     cfg,
		newCode: newShareCode,
	}
}

// SetCountdownScheduler wires the component that completes countdowns.
// It is set after construction because the scheduler calls back into App.
func (a *App) SetCountdownScheduler(s CountdownScheduler) {
	a.scheduler = s
}

// CreatePublicGame opens a new public session. maxPlayers of 0 uses the default.
func (a *App) CreatePublicGame(ctx context.Context, maxPlayers int) (*models.GameSession, error) {
	maxPlayers, err := a.resolveMaxPlayers(maxPlayers)
	if err != nil {
		return nil, err
	}
	sess, err := a.store.CreateSession(ctx, models.CreateSessionParams{
		ID:         uuid.New(),
		Status:     models.GameStatusWaiting,
		GameType:   models.GameTypePublic,
		MaxPlayers: maxPlayers,
		CreatedAt:  a.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create public game: %w", err)
	}
	log.Info().Str("session_id", sess.ID.String()).Int("max_players", maxPlayers).Msg("created public game")
	return sess, nil
}

// CreatePrivateGame opens a session reachable by share code.
func (a *App) CreatePrivateGame(ctx context.Context, creatorFID int64, maxPlayers int) (*models.GameSession, error) {
	if creatorFID <= 0 {
		return nil, fmt.Errorf("%w: creator fid must be positive", ErrInvalidArgument)
	}
	maxPlayers, err := a.resolveMaxPlayers(maxPlayers)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= shareCodeAttempts; attempt++ {
		code, err := a.newCode()
		if err != nil {
			return nil, err
		}
		sess, err := a.store.CreateSession(ctx, models.CreateSessionParams{
			ID:           uuid.New(),
			Status:       models.GameStatusWaiting,
			GameType:     models.GameTypePrivate,
			ShareCode:    &code,
			MaxPlayers:   maxPlayers,
			CreatedByFID: &creatorFID,
			CreatedAt:    a.clock.Now(),
		})
		if errors.Is(err, models.ErrShareCodeTaken) {
			log.Debug().Str("share_code", code).Int("attempt", attempt).Msg("share code collision")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create private game: %w", err)
		}
		log.Info().
			Str("session_id", sess.ID.String()).
			Str("share_code", code).
			Int64("creator_fid", creatorFID).
			Msg("created private game")
		return sess, nil
	}
	return nil, fmt.Errorf("failed to create private game: %w", models.ErrShareCodeTaken)
}

// GetDailyGame returns today's daily game, creating it on first request.
// It stays scheduled until the configured start time.
func (a *App) GetDailyGame(ctx context.Context) (*models.GameSession, error) {
	now := a.clock.Now()
	day, err := a.cfg.Daily.Date(now)
	if err != nil {
		return nil, err
	}
	start, err := a.cfg.Daily.StartOn(now)
	if err != nil {
		return nil, err
	}

	status := models.GameStatusScheduled
	if !now.Before(start) {
		status = models.GameStatusWaiting
	}
	startUTC := start.UTC()
	sess, created, err := a.store.GetOrCreateDailySession(ctx, models.CreateSessionParams{
		ID:                 uuid.New(),
		Status:             status,
		GameType:           models.GameTypeDaily,
		MaxPlayers:         a.cfg.Daily.MaxPlayers,
		ScheduledStartTime: &startUTC,
		IsFeatured:         a.cfg.Daily.Featured,
		DailyDate:          &day,
		CreatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get daily game: %w", err)
	}
	if created {
		log.Info().Str("session_id", sess.ID.String()).Str("daily_date", day).Time("starts_at", startUTC).Msg("created daily game")
	}
	return sess, nil
}

func (a *App) GetGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	return a.store.GetSession(ctx, id)
}

func (a *App) GetGameByShareCode(ctx context.Context, code string) (*models.GameSession, error) {
	code = NormalizeShareCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: share code is required", ErrInvalidArgument)
	}
	return a.store.GetSessionByShareCode(ctx, code)
}

// ListActiveGames returns joinable and running sessions, newest first.
// An empty gameType matches every type.
func (a *App) ListActiveGames(ctx context.Context, gameType models.GameType, includeScheduled bool) ([]*models.GameSession, error) {
	if gameType != "" && !gameType.Valid() {
		return nil, fmt.Errorf("%w: unknown game type %q", ErrInvalidArgument, gameType)
	}
	statuses := []models.GameStatus{models.GameStatusWaiting, models.GameStatusStarting, models.GameStatusActive}
	if includeScheduled {
		statuses = append(statuses, models.GameStatusScheduled)
	}
	return a.store.ListSessions(ctx, models.SessionFilter{Statuses: statuses, GameType: gameType})
}

// ListFeaturedGames returns the newest featured sessions that have not finished.
func (a *App) ListFeaturedGames(ctx context.Context) ([]*models.GameSession, error) {
	return a.store.ListSessions(ctx, models.SessionFilter{
		Statuses: []models.GameStatus{
			models.GameStatusScheduled, models.GameStatusWaiting, models.GameStatusStarting, models.GameStatusActive,
		},
		FeaturedOnly: true,
		Limit:        featuredLimit,
	})
}

// LiveSessions returns every starting or active session.
func (a *App) LiveSessions(ctx context.Context) ([]*models.GameSession, error) {
	return a.store.ListSessions(ctx, models.SessionFilter{
		Statuses: []models.GameStatus{models.GameStatusStarting, models.GameStatusActive},
	})
}

func (a *App) ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	return a.store.ListPlayers(ctx, sessionID)
}

// GetState loads a session and all of its players.
func (a *App) GetState(ctx context.Context, sessionID uuid.UUID) (*GameState, error) {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	players, err := a.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return &GameState{Session: sess, Players: players}, nil
}

func (a *App) GetUserHistory(ctx context.Context, fid int64) ([]models.PlayerHistoryEntry, error) {
	if fid <= 0 {
		return nil, fmt.Errorf("%w: fid must be positive", ErrInvalidArgument)
	}
	return a.store.ListPlayerHistory(ctx, fid, HistoryLimit)
}

// JoinGame adds the participant or returns their existing row. Rejoining
// refreshes display metadata but never resets joined_at or elimination.
func (a *App) JoinGame(ctx context.Context, req JoinRequest) (*models.Player, error) {
	if err := validateJoinRequest(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	player, created, err := a.store.JoinSession(ctx, models.JoinParams{
		SessionID:   req.SessionID,
		FID:         req.FID,
		Username:    strings.TrimSpace(req.Username),
		DisplayName: req.DisplayName,
		PfpURL:      req.PfpURL,
		Now:         a.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if created {
		log.Info().Str("session_id", req.SessionID.String()).Int64("fid", req.FID).Msg("player joined")
	}
	return player, nil
}

func validateJoinRequest(req JoinRequest) error {
	if req.SessionID == uuid.Nil {
		return fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if req.FID <= 0 {
		return fmt.Errorf("%w: fid must be positive", ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidArgument)
	}
	return nil
}

// StartGame begins the countdown when enough players have joined. Exactly one
// caller wins the waiting → starting transition and arms the countdown.
func (a *App) StartGame(ctx context.Context, sessionID uuid.UUID) bool {
	sess, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load session for start")
		return false
	}
	if sess.TotalPlayers < a.cfg.MinPlayers {
		log.Debug().
			Str("session_id", sessionID.String()).
			Int("total_players", sess.TotalPlayers).
			Int("min_players", a.cfg.MinPlayers).
			Msg("not enough players to start")
		return false
	}

	now := a.clock.Now()
	endsAt := now.Add(a.cfg.Countdown)
	ok, err := a.store.TransitionToStarting(ctx, sessionID, now, endsAt)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to start game")
		return false
	}
	if !ok {
		log.Debug().Str("session_id", sessionID.String()).Msg("start rejected, session not waiting")
		return false
	}

	if a.scheduler != nil {
		a.scheduler.ScheduleCountdown(sessionID, endsAt)
	} else {
		log.Warn().Str("session_id", sessionID.String()).Msg("no countdown scheduler configured")
	}
	log.Info().Str("session_id", sessionID.String()).Time("countdown_ends_at", endsAt).Msg("game starting")
	return true
}

// CompleteCountdown eliminates everyone not holding, activates the session
// and runs the winner check.
func (a *App) CompleteCountdown(ctx context.Context, sessionID uuid.UUID) bool {
	ok, eliminated, err := a.store.CompleteCountdown(ctx, sessionID, a.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to complete countdown")
		return false
	}
	if !ok {
		log.Debug().Str("session_id", sessionID.String()).Msg("countdown already completed")
		return false
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Ints64("eliminated", eliminated).
		Msg("countdown complete, game active")

	if _, err := a.checker.CheckForWinner(ctx, sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("winner check failed")
	}
	return true
}

// ActivateScheduledGames opens scheduled sessions whose start time has passed.
func (a *App) ActivateScheduledGames(ctx context.Context) int {
	ids, err := a.store.ActivateScheduledSessions(ctx, a.clock.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to activate scheduled games")
		return 0
	}
	for _, id := range ids {
		log.Info().Str("session_id", id.String()).Msg("scheduled game opened")
	}
	return len(ids)
}

// RepairPlacements reruns the winner check for completed sessions whose
// placements were left unfinished.
func (a *App) RepairPlacements(ctx context.Context) int {
	ids, err := a.store.ListUnplacedSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list unplaced sessions")
		return 0
	}
	repaired := 0
	for _, id := range ids {
		res, err := a.checker.CheckForWinner(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("session_id", id.String()).Msg("placement repair failed")
			continue
		}
		if res.Placed > 0 {
			repaired++
			log.Info().Str("session_id", id.String()).Int("placed", res.Placed).Msg("repaired placements")
		}
	}
	return repaired
}

func (a *App) resolveMaxPlayers(n int) (int, error) {
	if n == 0 {
		return a.cfg.DefaultMaxPlayers, nil
	}
	if n < a.cfg.MinPlayers {
		return 0, fmt.Errorf("%w: max players must be at least %d", ErrInvalidArgument, a.cfg.MinPlayers)
	}
	return n, nil
}
