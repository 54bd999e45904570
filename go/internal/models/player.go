package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is a participant's record within one session.
type Player struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	FID           int64      `json:"fid"`
	Username      string     `json:"username"`
	DisplayName   *string    `json:"display_name,omitempty"`
	PfpURL        *string    `json:"pfp_url,omitempty"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	IsPressing    bool       `json:"is_pressing"`
	IsEliminated  bool       `json:"is_eliminated"`
	EliminatedAt  *time.Time `json:"eliminated_at,omitempty"`
	Placement     *int       `json:"placement,omitempty"`
}

// JoinParams identifies the joining participant and their display metadata.
type JoinParams struct {
	SessionID   uuid.UUID
	FID         int64
	Username    string
	DisplayName *string
	PfpURL      *string
	Now         time.Time
}

// PlayerHistoryEntry is one past game of a participant.
type PlayerHistoryEntry struct {
	SessionID    uuid.UUID  `json:"session_id"`
	GameType     GameType   `json:"game_type"`
	Status       GameStatus `json:"status"`
	JoinedAt     time.Time  `json:"joined_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Placement    *int       `json:"placement,omitempty"`
	TotalPlayers int        `json:"total_players"`
	Won          bool       `json:"won"`
}
