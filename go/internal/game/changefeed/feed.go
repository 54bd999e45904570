package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Handler is invoked for every event matching a subscription.
// Handlers run on the dispatching goroutine and must not block for long.
type Handler func(ctx context.Context, event ChangeEvent)

// Subscription is a registered handler. Unsubscribe is safe to call more than once.
type Subscription struct {
	feed      *Feed
	sessionID uuid.UUID // uuid.Nil for SubscribeAll
	tables    map[Table]bool
	handler   Handler
	once      sync.Once
}

// Unsubscribe removes the handler from its feed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s)
	})
}

func (s *Subscription) wants(table Table) bool {
	return len(s.tables) == 0 || table == "" || s.tables[table]
}

// Feed is the in-process registry of change subscribers.
type Feed struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[*Subscription]struct{}
	global   map[*Subscription]struct{}
	clock    clockwork.Clock
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return NewFeedWithClock(clockwork.NewRealClock())
}

// NewFeedWithClock creates an empty feed using clock for refresh events.
func NewFeedWithClock(clock clockwork.Clock) *Feed {
	return &Feed{
		sessions: make(map[uuid.UUID]map[*Subscription]struct{}),
		global:   make(map[*Subscription]struct{}),
		clock:    clock,
	}
}

// Subscribe registers handler for changes to one session. No tables means all tables.
func (f *Feed) Subscribe(sessionID uuid.UUID, handler Handler, tables ...Table) *Subscription {
	sub := newSubscription(f, sessionID, handler, tables)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessions[sessionID] == nil {
		f.sessions[sessionID] = make(map[*Subscription]struct{})
	}
	f.sessions[sessionID][sub] = struct{}{}

	log.Debug().
		Str("session_id", sessionID.String()).
		Int("subscribers", len(f.sessions[sessionID])).
		Msg("change subscription added")
	return sub
}

// SubscribeAll registers handler for changes to every session.
func (f *Feed) SubscribeAll(handler Handler, tables ...Table) *Subscription {
	sub := newSubscription(f, uuid.Nil, handler, tables)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.global[sub] = struct{}{}
	return sub
}

func newSubscription(f *Feed, sessionID uuid.UUID, handler Handler, tables []Table) *Subscription {
	sub := &Subscription{feed: f, sessionID: sessionID, handler: handler}
	if len(tables) > 0 {
		sub.tables = make(map[Table]bool, len(tables))
		for _, t := range tables {
			sub.tables[t] = true
		}
	}
	return sub
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub.sessionID == uuid.Nil {
		delete(f.global, sub)
		return
	}
	subs, ok := f.sessions[sub.sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(f.sessions, sub.sessionID)
	}
	log.Debug().Str("session_id", sub.sessionID.String()).Msg("change subscription removed")
}

// Dispatch delivers event to every matching subscriber.
func (f *Feed) Dispatch(ctx context.Context, event ChangeEvent) {
	f.mu.RLock()
	targets := make([]*Subscription, 0, len(f.sessions[event.SessionID])+len(f.global))
	for sub := range f.sessions[event.SessionID] {
		if sub.wants(event.Table) {
			targets = append(targets, sub)
		}
	}
	for sub := range f.global {
		if sub.wants(event.Table) {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.handler(ctx, event)
	}
}

// Publish lets the feed act as a listener sink in single-process mode.
func (f *Feed) Publish(ctx context.Context, event ChangeEvent) error {
	f.Dispatch(ctx, event)
	return nil
}

// Sessions returns the ids with at least one per-session subscriber.
func (f *Feed) Sessions() []uuid.UUID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Refresh dispatches a REFRESH event to every subscribed session.
func (f *Feed) Refresh(ctx context.Context) {
	for _, id := range f.Sessions() {
		f.Dispatch(ctx, NewRefresh(id, f.clock.Now()))
	}
}

// RunFallback calls Refresh every interval until ctx is done. It is the
// polling counterpart to pushed notifications.
func (f *Feed) RunFallback(ctx context.Context, interval time.Duration) {
	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			f.Refresh(ctx)
		}
	}
}
