package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/game/session"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Feed is the subscription side of the change feed.
type Feed interface {
	Subscribe(sessionID uuid.UUID, handler changefeed.Handler, tables ...changefeed.Table) *changefeed.Subscription
}

// Broadcaster delivers an encoded message to a session's connections.
type Broadcaster interface {
	BroadcastToSession(sessionID uuid.UUID, data []byte)
}

// Reconciler turns change events into fresh snapshots. Every event only marks
// its session dirty; the run loop re-reads the session and its players and
// broadcasts the result, so bursts of events collapse into one snapshot.
type Reconciler struct {
	feed        Feed
	provider    StateProvider
	broadcaster Broadcaster
	clock       clockwork.Clock

	mu    sync.Mutex
	subs  map[uuid.UUID]*changefeed.Subscription
	dirty map[uuid.UUID]struct{}
	wake  chan struct{}

	onCompleted func(sessionID uuid.UUID)
}

func NewReconciler(feed Feed, provider StateProvider, broadcaster Broadcaster, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		feed:        feed,
		provider:    provider,
		broadcaster: broadcaster,
		clock:       clock,
		subs:        make(map[uuid.UUID]*changefeed.Subscription),
		dirty:       make(map[uuid.UUID]struct{}),
		wake:        make(chan struct{}, 1),
	}
}

// SetBroadcaster wires the reconciler to its connection manager.
func (r *Reconciler) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// OnCompleted registers a callback run once per snapshot of a completed session.
func (r *Reconciler) OnCompleted(fn func(sessionID uuid.UUID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCompleted = fn
}

// Watch subscribes to the session if needed and schedules a snapshot.
func (r *Reconciler) Watch(sessionID uuid.UUID) {
	r.mu.Lock()
	if _, ok := r.subs[sessionID]; !ok {
		r.subs[sessionID] = r.feed.Subscribe(sessionID, r.handle)
		log.Debug().Str("session_id", sessionID.String()).Msg("watching session")
	}
	r.mu.Unlock()
	r.markDirty(sessionID)
}

// Unwatch drops the session's subscription.
func (r *Reconciler) Unwatch(sessionID uuid.UUID) {
	r.mu.Lock()
	sub, ok := r.subs[sessionID]
	delete(r.subs, sessionID)
	delete(r.dirty, sessionID)
	r.mu.Unlock()
	if ok {
		sub.Unsubscribe()
		log.Debug().Str("session_id", sessionID.String()).Msg("stopped watching session")
	}
}

// Watching reports how many sessions have a subscription.
func (r *Reconciler) Watching() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// handle is the changefeed.Handler for every watched session. Pushed changes
// and fallback refreshes both end up here.
func (r *Reconciler) handle(_ context.Context, ev changefeed.ChangeEvent) {
	r.markDirty(ev.SessionID)
}

func (r *Reconciler) markDirty(sessionID uuid.UUID) {
	r.mu.Lock()
	r.dirty[sessionID] = struct{}{}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run reconciles dirty sessions until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.unwatchAll()
			return
		case <-r.wake:
			for _, id := range r.takeDirty() {
				r.Reconcile(ctx, id)
			}
		}
	}
}

func (r *Reconciler) takeDirty() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	clear(r.dirty)
	return ids
}

func (r *Reconciler) unwatchAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[uuid.UUID]*changefeed.Subscription)
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Reconcile loads the session's current state and broadcasts it.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID uuid.UUID) {
	state, err := r.provider.GetState(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to load game state")
		return
	}

	data, err := encode(MessageSnapshot, sessionID.String(), r.clock.Now(), state)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to encode snapshot")
		return
	}

	r.mu.Lock()
	broadcaster, onCompleted := r.broadcaster, r.onCompleted
	r.mu.Unlock()

	if broadcaster != nil {
		broadcaster.BroadcastToSession(sessionID, data)
	}
	if onCompleted != nil && state.Session.Status == models.GameStatusCompleted {
		onCompleted(sessionID)
	}
}

var _ StateProvider = (*session.App)(nil)
