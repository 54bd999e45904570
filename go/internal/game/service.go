// Package game exposes the game over connect RPC.
package game

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/gamev1"
	"github.com/mcdev12/fingerbutton/go/internal/game/session"
	"github.com/mcdev12/fingerbutton/go/internal/leaderboard"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// SessionApp defines what the service layer needs from the session state machine
type SessionApp interface {
	CreatePublicGame(ctx context.Context, maxPlayers int) (*models.GameSession, error)
	CreatePrivateGame(ctx context.Context, creatorFID int64, maxPlayers int) (*models.GameSession, error)
	GetDailyGame(ctx context.Context) (*models.GameSession, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	GetGameByShareCode(ctx context.Context, code string) (*models.GameSession, error)
	ListActiveGames(ctx context.Context, gameType models.GameType, includeScheduled bool) ([]*models.GameSession, error)
	ListFeaturedGames(ctx context.Context) ([]*models.GameSession, error)
	ListPlayers(ctx context.Context, sessionID uuid.UUID) ([]*models.Player, error)
	GetUserHistory(ctx context.Context, fid int64) ([]models.PlayerHistoryEntry, error)
	JoinGame(ctx context.Context, req session.JoinRequest) (*models.Player, error)
	StartGame(ctx context.Context, sessionID uuid.UUID) bool
}

// PresenceApp defines what the service layer needs from the presence tracker
type PresenceApp interface {
	StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool
	StopPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool
	SendHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64) bool
	CleanupStalePlayers(ctx context.Context, sessionID uuid.UUID) int
}

// Leaderboard reads all-time standings.
type Leaderboard interface {
	Top(ctx context.Context, limit int64) ([]leaderboard.Entry, error)
}

// Service implements game.v1.GameService
type Service struct {
	sessions    SessionApp
	presence    PresenceApp
	leaderboard Leaderboard
}

// NewService creates the RPC service. board may be nil when no leaderboard
// is configured.
func NewService(sessions SessionApp, presence PresenceApp, board Leaderboard) *Service {
	return &Service{
		sessions:    sessions,
		presence:    presence,
		leaderboard: board,
	}
}

var _ gamev1.GameServiceHandler = (*Service)(nil)

// toConnectError maps app errors onto connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrPlayerNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, models.ErrGameNotJoinable):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, models.ErrGameFull):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, session.ErrInvalidArgument):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, models.ErrShareCodeTaken):
		return connect.NewError(connect.CodeAborted, err)
	default:
		log.Error().Err(err).Msg("game rpc failed")
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("invalid session_id: %w", err))
	}
	return id, nil
}

func parsePlayerAction(msg *gamev1.PlayerActionRequest) (uuid.UUID, int64, error) {
	id, err := parseSessionID(msg.SessionID)
	if err != nil {
		return uuid.Nil, 0, err
	}
	if msg.FID <= 0 {
		return uuid.Nil, 0, connect.NewError(connect.CodeInvalidArgument, errors.New("fid must be positive"))
	}
	return id, msg.FID, nil
}

func success(ok bool) *connect.Response[gamev1.SuccessResponse] {
	return connect.NewResponse(&gamev1.SuccessResponse{Success: ok})
}

// StartPressing marks a participant as holding the button
func (s *Service) StartPressing(ctx context.Context, req *connect.Request[gamev1.PlayerActionRequest]) (*connect.Response[gamev1.SuccessResponse], error) {
	id, fid, err := parsePlayerAction(req.Msg)
	if err != nil {
		return nil, err
	}
	return success(s.presence.StartPressing(ctx, id, fid)), nil
}

// StopPressing releases the button, which eliminates the participant
func (s *Service) StopPressing(ctx context.Context, req *connect.Request[gamev1.PlayerActionRequest]) (*connect.Response[gamev1.SuccessResponse], error) {
	id, fid, err := parsePlayerAction(req.Msg)
	if err != nil {
		return nil, err
	}
	return success(s.presence.StopPressing(ctx, id, fid)), nil
}

func (s *Service) SendHeartbeat(ctx context.Context, req *connect.Request[gamev1.PlayerActionRequest]) (*connect.Response[gamev1.SuccessResponse], error) {
	id, fid, err := parsePlayerAction(req.Msg)
	if err != nil {
		return nil, err
	}
	return success(s.presence.SendHeartbeat(ctx, id, fid)), nil
}

func (s *Service) StartGame(ctx context.Context, req *connect.Request[gamev1.SessionRequest]) (*connect.Response[gamev1.SuccessResponse], error) {
	id, err := parseSessionID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	return success(s.sessions.StartGame(ctx, id)), nil
}

func (s *Service) CleanupStalePlayers(ctx context.Context, req *connect.Request[gamev1.SessionRequest]) (*connect.Response[gamev1.CleanupStalePlayersResponse], error) {
	id, err := parseSessionID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	n := s.presence.CleanupStalePlayers(ctx, id)
	return connect.NewResponse(&gamev1.CleanupStalePlayersResponse{Eliminated: n}), nil
}

// JoinGame adds a participant, or returns their existing row on rejoin
func (s *Service) JoinGame(ctx context.Context, req *connect.Request[gamev1.JoinGameRequest]) (*connect.Response[gamev1.JoinGameResponse], error) {
	id, err := parseSessionID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	player, err := s.sessions.JoinGame(ctx, session.JoinRequest{
		SessionID:   id,
		FID:         req.Msg.FID,
		Username:    req.Msg.Username,
		DisplayName: req.Msg.DisplayName,
		PfpURL:      req.Msg.PfpURL,
	})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.JoinGameResponse{Player: player}), nil
}

func (s *Service) GetGame(ctx context.Context, req *connect.Request[gamev1.SessionRequest]) (*connect.Response[gamev1.GameResponse], error) {
	id, err := parseSessionID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	game, err := s.sessions.GetGame(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GameResponse{Game: game}), nil
}

func (s *Service) ListPlayers(ctx context.Context, req *connect.Request[gamev1.SessionRequest]) (*connect.Response[gamev1.ListPlayersResponse], error) {
	id, err := parseSessionID(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	players, err := s.sessions.ListPlayers(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.ListPlayersResponse{Players: players}), nil
}

func (s *Service) CreatePublicGame(ctx context.Context, req *connect.Request[gamev1.CreatePublicGameRequest]) (*connect.Response[gamev1.GameResponse], error) {
	game, err := s.sessions.CreatePublicGame(ctx, req.Msg.MaxPlayers)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GameResponse{Game: game}), nil
}

func (s *Service) CreatePrivateGame(ctx context.Context, req *connect.Request[gamev1.CreatePrivateGameRequest]) (*connect.Response[gamev1.GameResponse], error) {
	game, err := s.sessions.CreatePrivateGame(ctx, req.Msg.CreatorFID, req.Msg.MaxPlayers)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GameResponse{Game: game}), nil
}

// GetDailyGame returns today's daily game, creating it on first request
func (s *Service) GetDailyGame(ctx context.Context, req *connect.Request[gamev1.GetDailyGameRequest]) (*connect.Response[gamev1.GameResponse], error) {
	game, err := s.sessions.GetDailyGame(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GameResponse{Game: game}), nil
}

func (s *Service) ListActiveGames(ctx context.Context, req *connect.Request[gamev1.ListActiveGamesRequest]) (*connect.Response[gamev1.ListGamesResponse], error) {
	games, err := s.sessions.ListActiveGames(ctx, models.GameType(req.Msg.GameType), req.Msg.IncludeScheduled)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.ListGamesResponse{Games: games}), nil
}

func (s *Service) ListFeaturedGames(ctx context.Context, req *connect.Request[gamev1.ListFeaturedGamesRequest]) (*connect.Response[gamev1.ListGamesResponse], error) {
	games, err := s.sessions.ListFeaturedGames(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.ListGamesResponse{Games: games}), nil
}

func (s *Service) GetGameByShareCode(ctx context.Context, req *connect.Request[gamev1.GetGameByShareCodeRequest]) (*connect.Response[gamev1.GameResponse], error) {
	game, err := s.sessions.GetGameByShareCode(ctx, req.Msg.ShareCode)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GameResponse{Game: game}), nil
}

// GetUserHistory returns a participant's most recent games
func (s *Service) GetUserHistory(ctx context.Context, req *connect.Request[gamev1.GetUserHistoryRequest]) (*connect.Response[gamev1.GetUserHistoryResponse], error) {
	history, err := s.sessions.GetUserHistory(ctx, req.Msg.FID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&gamev1.GetUserHistoryResponse{History: history}), nil
}

func (s *Service) GetLeaderboard(ctx context.Context, req *connect.Request[gamev1.GetLeaderboardRequest]) (*connect.Response[gamev1.GetLeaderboardResponse], error) {
	if s.leaderboard == nil {
		return nil, connect.NewError(connect.CodeUnavailable, errors.New("leaderboard is not configured"))
	}
	limit := req.Msg.Limit
	switch {
	case limit <= 0:
		limit = defaultLeaderboardLimit
	case limit > maxLeaderboardLimit:
		limit = maxLeaderboardLimit
	}
	entries, err := s.leaderboard.Top(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read leaderboard")
		return nil, connect.NewError(connect.CodeUnavailable, errors.New("leaderboard unavailable"))
	}
	return connect.NewResponse(&gamev1.GetLeaderboardResponse{Entries: entries}), nil
}
