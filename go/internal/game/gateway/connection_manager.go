package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Controls is what a connection needs to press and release the button.
type Controls interface {
	StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool
	StopPressing(ctx context.Context, sessionID uuid.UUID, fid int64) bool
	StartHeartbeat(sessionID uuid.UUID, fid int64, onFailure func())
	StopHeartbeat(sessionID uuid.UUID, fid int64)
}

// SessionWatcher is told when a session gains its first connection and
// when it loses its last one.
type SessionWatcher interface {
	Watch(sessionID uuid.UUID)
	Unwatch(sessionID uuid.UUID)
}

// ConnectionManager manages WebSocket connections grouped by session
type ConnectionManager struct {
	sessionConnections map[uuid.UUID]map[*Connection]bool
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	controls Controls
	watcher  SessionWatcher

	broadcastCh chan BroadcastMessage

	ctx    context.Context
	cancel context.CancelFunc
}

// Connection is one player's WebSocket.
type Connection struct {
	ID        string
	SessionID uuid.UUID
	FID       int64
	Conn      *websocket.Conn
	Send      chan []byte
	Manager   *ConnectionManager

	ConnectedAt time.Time

	// pressing is true while this connection owns the player's heartbeat.
	pressing atomic.Bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	CommandTimeout  time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an encoded message for every connection of a session.
type BroadcastMessage struct {
	SessionID uuid.UUID
	Data      []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		CommandTimeout:  5 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. watcher may be nil.
func NewConnectionManager(config ConnectionConfig, controls Controls, watcher SessionWatcher) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		controls:    controls,
		watcher:     watcher,
		broadcastCh: make(chan BroadcastMessage, 1000),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start processes broadcasts until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer cm.cancel()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket for one player.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, fid int64) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		FID:         fid,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Int64("fid", fid).
		Str("session_id", sessionID.String()).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	first := cm.sessionConnections[conn.SessionID] == nil
	if first {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	total := len(cm.sessionConnections[conn.SessionID])
	cm.mu.Unlock()

	// Watch is called on every registration so the newcomer gets a snapshot.
	if cm.watcher != nil {
		cm.watcher.Watch(conn.SessionID)
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", total).
		Bool("first", first).
		Msg("connection registered")
}

// unregisterConnection removes a connection. It is safe to call more than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists || !connections[conn] {
		cm.mu.Unlock()
		return
	}
	delete(connections, conn)
	close(conn.Send)
	last := len(connections) == 0
	if last {
		delete(cm.sessionConnections, conn.SessionID)
	}
	cm.mu.Unlock()

	// A dropped connection stops the local ticker only. The sweeper decides
	// whether the player went stale.
	if conn.pressing.Swap(false) {
		cm.controls.StopHeartbeat(conn.SessionID, conn.FID)
	}
	if last && cm.watcher != nil {
		cm.watcher.Unwatch(conn.SessionID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Int64("fid", conn.FID).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

// BroadcastToSession queues data for every connection of the session.
func (cm *ConnectionManager) BroadcastToSession(sessionID uuid.UUID, data []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Data: data}:
	default:
		log.Warn().Str("session_id", sessionID.String()).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	var slow []*Connection

	// Sends happen under the read lock so no Send channel is closed mid-broadcast.
	cm.mu.RLock()
	connections := cm.sessionConnections[message.SessionID]
	for conn := range connections {
		select {
		case conn.Send <- message.Data:
		default:
			slow = append(slow, conn)
		}
	}
	sent := len(connections) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Int64("fid", conn.FID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("session_id", message.SessionID.String()).
		Int("connections", sent).
		Msg("message broadcasted")
}

// sendTo queues data for a single connection if it is still registered.
func (cm *ConnectionManager) sendTo(conn *Connection, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.sessionConnections[conn.SessionID][conn] {
		return false
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

// ConnectionStats summarizes active connections.
type ConnectionStats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID.String()] = len(connections)
	}
	return stats
}

// CloseAll closes every connection.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.sessionConnections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(MessageError, ErrorPayload{Message: "malformed message"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Manager.ctx, c.Manager.config.CommandTimeout)
	defer cancel()

	switch msg.Type {
	case MessagePress:
		c.reply(MessageAck, AckPayload{Action: MessagePress, Success: c.press(ctx)})
	case MessageRelease:
		c.reply(MessageAck, AckPayload{Action: MessageRelease, Success: c.release(ctx)})
	default:
		c.reply(MessageError, ErrorPayload{Message: fmt.Sprintf("unsupported message type %q", msg.Type)})
	}
}

// press marks the player as holding and starts the server-held heartbeat.
func (c *Connection) press(ctx context.Context) bool {
	controls := c.Manager.controls
	if !controls.StartPressing(ctx, c.SessionID, c.FID) {
		return false
	}
	c.pressing.Store(true)
	controls.StartHeartbeat(c.SessionID, c.FID, func() {
		// The heartbeat was rejected: treat it as a release.
		if !c.pressing.Swap(false) {
			return
		}
		stopCtx, cancel := context.WithTimeout(c.Manager.ctx, c.Manager.config.CommandTimeout)
		defer cancel()
		controls.StopPressing(stopCtx, c.SessionID, c.FID)
	})
	return true
}

func (c *Connection) release(ctx context.Context) bool {
	c.pressing.Store(false)
	return c.Manager.controls.StopPressing(ctx, c.SessionID, c.FID)
}

func (c *Connection) reply(msgType MessageType, payload any) {
	data, err := encode(msgType, c.SessionID.String(), time.Now(), payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode reply")
		return
	}
	c.Manager.sendTo(c, data)
}
