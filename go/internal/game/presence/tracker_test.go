package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/mcdev12/fingerbutton/go/internal/game/memstore"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

// signalStore reports every heartbeat write so tests can wait on ticker goroutines.
type signalStore struct {
	*memstore.Store
	touches chan bool
}

func (s *signalStore) TouchHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	ok, err := s.Store.TouchHeartbeat(ctx, sessionID, fid, now)
	s.touches <- ok
	return ok, err
}

func liveSession(t *testing.T, store *memstore.Store, fids ...int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	if _, err := store.CreateSession(ctx, models.CreateSessionParams{
		ID: id, Status: models.GameStatusWaiting, GameType: models.GameTypePublic, MaxPlayers: 10, CreatedAt: t0,
	}); err != nil {
		t.Fatal(err)
	}
	for i, fid := range fids {
		store.JoinSession(ctx, models.JoinParams{SessionID: id, FID: fid, Now: t0.Add(time.Duration(i) * time.Second)})
	}
	store.TransitionToStarting(ctx, id, t0, t0.Add(5*time.Second))
	for _, fid := range fids {
		store.StartPressing(ctx, id, fid, t0)
	}
	store.CompleteCountdown(ctx, id, t0.Add(5*time.Second))
	return id
}

func newTracker(t *testing.T, clock clockwork.Clock) (*Tracker, *signalStore) {
	t.Helper()
	store := &signalStore{Store: memstore.New(), touches: make(chan bool, 16)}
	tracker := NewTracker(store, elimination.NewEngine(store.Store, clock), clock, DefaultConfig())
	t.Cleanup(tracker.Close)
	return tracker, store
}

func waitTouch(t *testing.T, store *signalStore) bool {
	t.Helper()
	select {
	case ok := <-store.touches:
		return ok
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never fired")
		return false
	}
}

func TestHeartbeatTickerRefreshesHolder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(t0.Add(6 * time.Second))
	tracker, store := newTracker(t, clock)
	id := liveSession(t, store.Store, 1, 2)

	tracker.StartHeartbeat(id, 1, func() { t.Error("unexpected heartbeat failure") })
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Second)
	if !waitTouch(t, store) {
		t.Fatal("heartbeat rejected")
	}

	p, _ := store.GetPlayer(ctx, id, 1)
	if !p.LastHeartbeat.Equal(t0.Add(8 * time.Second)) {
		t.Errorf("last heartbeat = %s, want %s", p.LastHeartbeat, t0.Add(8*time.Second))
	}
	if tracker.ActiveHeartbeats() != 1 {
		t.Errorf("active heartbeats = %d, want 1", tracker.ActiveHeartbeats())
	}
}

func TestHeartbeatFailureCallsOnFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(t0.Add(6 * time.Second))
	tracker, store := newTracker(t, clock)
	id := liveSession(t, store.Store, 1, 2, 3)

	failed := make(chan struct{})
	tracker.StartHeartbeat(id, 1, func() {
		tracker.StopPressing(context.Background(), id, 1)
		close(failed)
	})
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}

	// Eliminated elsewhere: the next heartbeat must not apply.
	store.EliminatePlayer(ctx, id, 1, clock.Now())
	clock.Advance(2 * time.Second)
	if waitTouch(t, store) {
		t.Fatal("heartbeat applied to an eliminated player")
	}

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure not called")
	}
	if tracker.ActiveHeartbeats() != 0 {
		t.Errorf("failed heartbeat still registered")
	}
	p, _ := store.GetPlayer(ctx, id, 1)
	if !p.EliminatedAt.Equal(t0.Add(6 * time.Second)) {
		t.Errorf("eliminated_at rewritten: %s", p.EliminatedAt)
	}
}

func TestRestartReplacesHeartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tracker, store := newTracker(t, clock)
	id := liveSession(t, store.Store, 1, 2)

	tracker.StartHeartbeat(id, 1, nil)
	tracker.StartHeartbeat(id, 1, nil)
	tracker.StartHeartbeat(id, 2, nil)
	if got := tracker.ActiveHeartbeats(); got != 2 {
		t.Fatalf("active heartbeats = %d, want 2", got)
	}

	tracker.StopHeartbeat(id, 2)
	if got := tracker.ActiveHeartbeats(); got != 1 {
		t.Fatalf("active heartbeats = %d, want 1", got)
	}
	tracker.StopSession(id)
	if got := tracker.ActiveHeartbeats(); got != 0 {
		t.Fatalf("active heartbeats = %d, want 0", got)
	}

	// Stopping locally never rewrites store state.
	p, _ := store.GetPlayer(context.Background(), id, 1)
	if !p.IsPressing || p.IsEliminated {
		t.Errorf("local stop changed player %+v", p)
	}
}

func TestStopPressingCompletesGame(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0.Add(10 * time.Second))
	tracker, store := newTracker(t, clock)
	id := liveSession(t, store.Store, 1, 2)
	tracker.StartHeartbeat(id, 2, nil)

	if !tracker.StopPressing(ctx, id, 2) {
		t.Fatal("StopPressing rejected")
	}
	if tracker.ActiveHeartbeats() != 0 {
		t.Error("heartbeat survived release")
	}
	if tracker.StopPressing(ctx, id, 2) {
		t.Error("second release accepted")
	}

	sess, _ := store.GetSession(ctx, id)
	if sess.Status != models.GameStatusCompleted || sess.WinnerFID == nil || *sess.WinnerFID != 1 {
		t.Errorf("unexpected session %+v", sess)
	}
	if tracker.SendHeartbeat(ctx, id, 1) {
		t.Error("heartbeat accepted after completion")
	}
}

func TestStartPressingGuards(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0)
	tracker, store := newTracker(t, clock)

	id := uuid.New()
	store.CreateSession(ctx, models.CreateSessionParams{
		ID: id, Status: models.GameStatusWaiting, GameType: models.GameTypePublic, MaxPlayers: 10, CreatedAt: t0,
	})
	store.JoinSession(ctx, models.JoinParams{SessionID: id, FID: 1, Now: t0})

	if tracker.StartPressing(ctx, id, 1) {
		t.Error("press accepted while waiting")
	}
	store.TransitionToStarting(ctx, id, t0, t0.Add(5*time.Second))
	if !tracker.StartPressing(ctx, id, 1) {
		t.Error("press rejected while starting")
	}
	if tracker.StartPressing(ctx, id, 42) {
		t.Error("press accepted for unknown player")
	}
}

func TestCleanupStalePlayers(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(t0.Add(9 * time.Second))
	tracker, store := newTracker(t, clock)
	id := liveSession(t, store.Store, 1, 2, 3)

	if !tracker.SendHeartbeat(ctx, id, 1) {
		t.Fatal("heartbeat rejected")
	}
	<-store.touches

	if n := tracker.CleanupStalePlayers(ctx, id); n != 2 {
		t.Fatalf("cleaned %d players, want 2", n)
	}
	sess, _ := store.GetSession(ctx, id)
	if sess.Status != models.GameStatusCompleted || *sess.WinnerFID != 1 {
		t.Errorf("unexpected session %+v", sess)
	}
	if n := tracker.CleanupStalePlayers(ctx, id); n != 0 {
		t.Errorf("second cleanup eliminated %d players", n)
	}
}
