// Package gamev1 is the client contract of game.v1.GameService: request and
// response messages, procedure names, a JSON codec, and the connect handler
// and client constructors.
package gamev1

import (
	"github.com/mcdev12/fingerbutton/go/internal/leaderboard"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

// PlayerActionRequest addresses one participant of one session.
type PlayerActionRequest struct {
	SessionID string `json:"session_id"`
	FID       int64  `json:"fid"`
}

// SessionRequest addresses one session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// SuccessResponse answers guarded operations. A false success is an expected
// outcome, never an error.
type SuccessResponse struct {
	Success bool `json:"success"`
}

type CleanupStalePlayersResponse struct {
	Eliminated int `json:"eliminated"`
}

type JoinGameRequest struct {
	SessionID   string  `json:"session_id"`
	FID         int64   `json:"fid"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	PfpURL      *string `json:"pfp_url,omitempty"`
}

type JoinGameResponse struct {
	Player *models.Player `json:"player"`
}

type GameResponse struct {
	Game *models.GameSession `json:"game"`
}

type ListPlayersResponse struct {
	Players []*models.Player `json:"players"`
}

type CreatePublicGameRequest struct {
	MaxPlayers int `json:"max_players,omitempty"`
}

type CreatePrivateGameRequest struct {
	CreatorFID int64 `json:"creator_fid"`
	MaxPlayers int   `json:"max_players,omitempty"`
}

type GetDailyGameRequest struct{}

type ListActiveGamesRequest struct {
	GameType         string `json:"game_type,omitempty"`
	IncludeScheduled bool   `json:"include_scheduled,omitempty"`
}

type ListFeaturedGamesRequest struct{}

type ListGamesResponse struct {
	Games []*models.GameSession `json:"games"`
}

type GetGameByShareCodeRequest struct {
	ShareCode string `json:"share_code"`
}

type GetUserHistoryRequest struct {
	FID int64 `json:"fid"`
}

type GetUserHistoryResponse struct {
	History []models.PlayerHistoryEntry `json:"history"`
}

type GetLeaderboardRequest struct {
	Limit int64 `json:"limit,omitempty"`
}

type GetLeaderboardResponse struct {
	Entries []leaderboard.Entry `json:"entries"`
}
