package models

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches the lookup.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrPlayerNotFound is returned when the participant never joined the session.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrGameFull is returned when a new participant would exceed max_players.
	ErrGameFull = errors.New("game is full")
	// ErrGameNotJoinable is returned when new participants are no longer accepted.
	ErrGameNotJoinable = errors.New("game is not accepting new players")
	// ErrShareCodeTaken is returned when a generated share code collides.
	ErrShareCodeTaken = errors.New("share code already in use")
)
