package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Table names a store table that emits changes.
type Table string

const (
	TableSessions Table = "game_sessions"
	TablePlayers  Table = "game_players"
)

// ChangeType is the kind of row mutation.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	// ChangeRefresh carries no row; it asks observers to re-read the session.
	ChangeRefresh ChangeType = "REFRESH"
)

// ChangeEvent describes one mutation affecting a session.
type ChangeEvent struct {
	ID         uuid.UUID       `json:"id"`
	Table      Table           `json:"table"`
	Type       ChangeType      `json:"type"`
	SessionID  uuid.UUID       `json:"session_id"`
	Record     json.RawMessage `json:"record,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewRefresh builds a REFRESH event for a session.
func NewRefresh(sessionID uuid.UUID, now time.Time) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		Type:       ChangeRefresh,
		SessionID:  sessionID,
		OccurredAt: now,
	}
}

// notification is the JSON body sent by the notify_game_change trigger.
type notification struct {
	Table     Table           `json:"table"`
	Type      ChangeType      `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	Record    json.RawMessage `json:"record"`
}

// ParseNotification converts a pg_notify payload into a ChangeEvent.
func ParseNotification(payload string, now time.Time) (ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal notification: %w", err)
	}
	if n.SessionID == uuid.Nil {
		return ChangeEvent{}, fmt.Errorf("notification without session_id")
	}
	switch n.Table {
	case TableSessions, TablePlayers:
	default:
		return ChangeEvent{}, fmt.Errorf("unknown table %q", n.Table)
	}
	return ChangeEvent{
		ID:         uuid.New(),
		Table:      n.Table,
		Type:       n.Type,
		SessionID:  n.SessionID,
		Record:     n.Record,
		OccurredAt: now,
	}, nil
}
