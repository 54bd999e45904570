package gateway

import (
	"encoding/json"
	"time"
)

// MessageType names a websocket message in either direction.
type MessageType string

const (
	// Server to client.
	MessageSnapshot MessageType = "snapshot"
	MessageAck      MessageType = "ack"
	MessageError    MessageType = "error"

	// Client to server.
	MessagePress   MessageType = "press"
	MessageRelease MessageType = "release"
	MessagePing    MessageType = "ping"
)

// ServerMessage is the envelope for everything the gateway sends.
type ServerMessage struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is a command sent by a connected player.
type ClientMessage struct {
	Type MessageType `json:"type"`
}

// AckPayload answers a press or release.
type AckPayload struct {
	Action  MessageType `json:"action"`
	Success bool        `json:"success"`
}

// ErrorPayload reports a malformed or unsupported client message.
type ErrorPayload struct {
	Message string `json:"message"`
}

func encode(msgType MessageType, sessionID string, now time.Time, payload any) ([]byte, error) {
	msg := ServerMessage{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: now.UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}
