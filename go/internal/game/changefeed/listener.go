package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-announce live sessions
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "game_changes",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
	}
}

// Publisher receives every change the listener observes.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// SessionLister defines what the listener needs to find sessions for the fallback sweep.
type SessionLister interface {
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.GameSession, error)
}

// ListenerStats is a point-in-time view of relay progress.
type ListenerStats struct {
	Running     bool
	Relayed     uint64
	Failed      uint64
	LastRelayed time.Time
	LastError   string
}

// Listener forwards Postgres notifications from the game tables to a Publisher.
type Listener struct {
	listener  *pq.Listener
	sessions  SessionLister
	publisher Publisher
	cfg       ListenerConfig

	mu    sync.Mutex
	stats ListenerStats
}

func NewListener(sessions SessionLister, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{
		listener:  l,
		sessions:  sessions,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	l.setRunning(true)
	defer l.setRunning(false)

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established; notifications may have been missed
				if err := l.announceLive(ctx); err != nil {
					log.Error().Err(err).Msg("failed to announce live sessions after reconnect")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.C:
			if err := l.announceLive(ctx); err != nil {
				log.Error().Err(err).Msg("failed to announce live sessions")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// Stats returns a copy of the relay counters.
func (l *Listener) Stats() ListenerStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Listener) setRunning(running bool) {
	l.mu.Lock()
	l.stats.Running = running
	l.mu.Unlock()
}

func (l *Listener) recordPublish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.stats.Failed++
		l.stats.LastError = err.Error()
		return
	}
	l.stats.Relayed++
	l.stats.LastRelayed = time.Now().UTC()
	l.stats.LastError = ""
}

// handleNotification parses a trigger payload and publishes it.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	event, err := ParseNotification(extra, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}

	if err := l.publishWithRetry(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("event_id", event.ID.String()).
		Str("session_id", event.SessionID.String()).
		Str("table", string(event.Table)).
		Str("type", string(event.Type)).
		Msg("published change")
	return nil
}

// announceLive publishes a REFRESH for every session that is not completed so
// observers converge even when a notification was lost.
func (l *Listener) announceLive(ctx context.Context) error {
	live, err := l.sessions.ListSessions(ctx, models.SessionFilter{
		Statuses: []models.GameStatus{
			models.GameStatusWaiting,
			models.GameStatusStarting,
			models.GameStatusActive,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to list live sessions: %w", err)
	}

	now := time.Now().UTC()
	for _, s := range live {
		if err := l.publishWithRetry(ctx, NewRefresh(s.ID, now)); err != nil {
			log.Error().Err(err).Str("session_id", s.ID.String()).Msg("failed to publish refresh")
		}
	}
	return nil
}

// publishWithRetry attempts to publish an event with a given retry delay and max retries.
func (l *Listener) publishWithRetry(ctx context.Context, event ChangeEvent) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		l.recordPublish(nil)
		return nil
	}

	err := fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
	l.recordPublish(err)
	return err
}
