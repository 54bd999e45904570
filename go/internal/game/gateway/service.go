// Package gateway is the realtime fan-out: players connect over WebSocket,
// press and release through the same socket, and receive a fresh snapshot of
// their game whenever the change feed reports a mutation.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Presence is the subset of the presence tracker the gateway drives.
type Presence interface {
	Controls
	StopSession(sessionID uuid.UUID)
}

// Service ties together connections, the reconciler and the HTTP routes.
type Service struct {
	connectionManager *ConnectionManager
	reconciler        *Reconciler
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler

	wg sync.WaitGroup
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a gateway fed by feed, reading state through provider.
func NewService(config Config, feed Feed, provider StateProvider, presence Presence, clock clockwork.Clock) *Service {
	reconciler := NewReconciler(feed, provider, nil, clock)
	connectionManager := NewConnectionManager(config.ConnectionConfig, presence, reconciler)
	reconciler.SetBroadcaster(connectionManager)
	// Heartbeats of a finished game would only be rejected.
	reconciler.OnCompleted(presence.StopSession)

	return &Service{
		connectionManager: connectionManager,
		reconciler:        reconciler,
		wsHandler:         NewWebSocketHandler(connectionManager),
		stateHandler:      NewStateHandler(provider),
	}
}

// Start runs the gateway until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting game gateway service")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.connectionManager.Start(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.reconciler.Run(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("game gateway service shutting down")
	return s.stop()
}

// stop closes every connection and waits for the background loops.
func (s *Service) stop() error {
	s.connectionManager.CloseAll()
	s.wg.Wait()
	log.Info().Msg("game gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
