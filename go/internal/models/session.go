package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus defines where a session is in its lifecycle.
type GameStatus string

const (
	GameStatusScheduled GameStatus = "scheduled"
	GameStatusWaiting   GameStatus = "waiting"
	GameStatusStarting  GameStatus = "starting"
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
)

// IsLive reports whether presses and eliminations are accepted in this status.
func (s GameStatus) IsLive() bool {
	return s == GameStatusStarting || s == GameStatusActive
}

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameStatusScheduled, GameStatusWaiting, GameStatusStarting, GameStatusActive, GameStatusCompleted:
		return true
	}
	return false
}

// GameType defines how a session was created.
type GameType string

const (
	GameTypePublic  GameType = "public"
	GameTypeDaily   GameType = "daily"
	GameTypePrivate GameType = "private"
)

// Valid reports whether t is a known game type.
func (t GameType) Valid() bool {
	switch t {
	case GameTypePublic, GameTypeDaily, GameTypePrivate:
		return true
	}
	return false
}

// GameSession is one instance of the elimination game.
type GameSession struct {
	ID                 uuid.UUID  `json:"id"`
	Status             GameStatus `json:"status"`
	GameType           GameType   `json:"game_type"`
	ShareCode          *string    `json:"share_code,omitempty"`
	TotalPlayers       int        `json:"total_players"`
	MaxPlayers         int        `json:"max_players"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CountdownEndsAt    *time.Time `json:"countdown_ends_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	WinnerFID          *int64     `json:"winner_fid,omitempty"`
	CreatedByFID       *int64     `json:"created_by_fid,omitempty"`
	IsFeatured         bool       `json:"is_featured"`
	DailyDate          *string    `json:"daily_date,omitempty"` // YYYY-MM-DD, daily games only
	CreatedAt          time.Time  `json:"created_at"`
}

// CreateSessionParams holds the fields a store needs to insert a session.
type CreateSessionParams struct {
	ID                 uuid.UUID
	Status             GameStatus
	GameType           GameType
	ShareCode          *string
	MaxPlayers         int
	ScheduledStartTime *time.Time
	CreatedByFID       *int64
	IsFeatured         bool
	DailyDate          *string
	CreatedAt          time.Time
}

// SessionFilter narrows session listings. Zero values mean "any".
type SessionFilter struct {
	Statuses     []GameStatus
	GameType     GameType
	FeaturedOnly bool
	Limit        int
}

// Matches reports whether s passes the filter (ignoring Limit).
func (f SessionFilter) Matches(s *GameSession) bool {
	if f.GameType != "" && s.GameType != f.GameType {
		return false
	}
	if f.FeaturedOnly && !s.IsFeatured {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}
