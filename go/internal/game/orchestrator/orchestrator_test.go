package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

type fakeApp struct {
	mu          sync.Mutex
	live        []*models.GameSession
	completed   chan uuid.UUID
	activations atomic.Int32
	repairs     atomic.Int32
}

func newFakeApp(live ...*models.GameSession) *fakeApp {
	return &fakeApp{live: live, completed: make(chan uuid.UUID, 8)}
}

func (f *fakeApp) CompleteCountdown(_ context.Context, id uuid.UUID) bool {
	f.completed <- id
	return true
}

func (f *fakeApp) ActivateScheduledGames(context.Context) int {
	f.activations.Add(1)
	return 0
}

func (f *fakeApp) RepairPlacements(context.Context) int {
	f.repairs.Add(1)
	return 0
}

func (f *fakeApp) LiveSessions(context.Context) ([]*models.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, nil
}

type fakeCleaner struct {
	cleaned chan uuid.UUID
}

func (f *fakeCleaner) CleanupStalePlayers(_ context.Context, id uuid.UUID) int {
	f.cleaned <- id
	return 0
}

func start(t *testing.T, o *Orchestrator) (context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()
	return ctx, func() {
		cancel()
		<-done
	}
}

func expectID(t *testing.T, ch <-chan uuid.UUID, want uuid.UUID, what string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("%s for %s, want %s", what, got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%s never happened for %s", what, want)
	}
}

func TestCountdownTimerCompletesSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app := newFakeApp()
	o := NewOrchestrator(app, &fakeCleaner{cleaned: make(chan uuid.UUID, 8)}, clock, DefaultConfig())
	ctx, stop := start(t, o)
	defer stop()

	// Sweep ticker.
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	id := uuid.New()
	o.ScheduleCountdown(id, clock.Now().Add(5*time.Second))
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if o.ActiveTimers() != 1 {
		t.Fatalf("active timers = %d, want 1", o.ActiveTimers())
	}

	clock.Advance(5 * time.Second)
	expectID(t, app.completed, id, "countdown completion")
	if o.ActiveTimers() != 0 {
		t.Errorf("fired timer still registered")
	}
}

func TestScheduleCountdownReplacesTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := NewOrchestrator(newFakeApp(), &fakeCleaner{cleaned: make(chan uuid.UUID, 8)}, clock, DefaultConfig())
	defer o.Stop()

	id := uuid.New()
	o.ScheduleCountdown(id, clock.Now().Add(5*time.Second))
	o.ScheduleCountdown(id, clock.Now().Add(10*time.Second))
	o.ScheduleCountdown(uuid.New(), clock.Now().Add(5*time.Second))

	if got := o.ActiveTimers(); got != 2 {
		t.Errorf("active timers = %d, want 2", got)
	}
	// The replaced timer's goroutine exits without waiting for shutdown.
	waitForWaiters(t, o, 2)

	o.cancelTimer(id)
	waitForWaiters(t, o, 1)

	o.Stop()
	waitForWaiters(t, o, 0)
}

func waitForWaiters(t *testing.T, o *Orchestrator, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for o.waiters.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("timer goroutines = %d, want %d", o.waiters.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweepRecoversCountdownsAndCleansLiveSessions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	now := clock.Now()
	overdue := now.Add(-time.Second)
	pending := now.Add(3 * time.Second)

	overdueSession := &models.GameSession{ID: uuid.New(), Status: models.GameStatusStarting, CountdownEndsAt: &overdue}
	pendingSession := &models.GameSession{ID: uuid.New(), Status: models.GameStatusStarting, CountdownEndsAt: &pending}
	activeSession := &models.GameSession{ID: uuid.New(), Status: models.GameStatusActive}

	app := newFakeApp(overdueSession, pendingSession, activeSession)
	cleaner := &fakeCleaner{cleaned: make(chan uuid.UUID, 16)}
	o := NewOrchestrator(app, cleaner, clock, DefaultConfig())
	ctx, stop := start(t, o)
	defer stop()

	expectID(t, app.completed, overdueSession.ID, "overdue countdown completion")

	// Sweep ticker plus the re-armed countdown.
	if err := clock.BlockUntilContext(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if app.activations.Load() != 1 {
		t.Errorf("scheduled activation ran %d times, want 1", app.activations.Load())
	}
	if app.repairs.Load() != 1 {
		t.Errorf("placement repair ran %d times, want 1", app.repairs.Load())
	}

	cleaned := map[uuid.UUID]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-cleaner.cleaned:
			cleaned[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("stale cleanup not run for every live session")
		}
	}
	for _, s := range []*models.GameSession{overdueSession, pendingSession, activeSession} {
		if !cleaned[s.ID] {
			t.Errorf("session %s not cleaned", s.ID)
		}
	}

	// The re-armed countdown fires at its original deadline.
	app.mu.Lock()
	app.live = nil
	app.mu.Unlock()
	clock.Advance(3 * time.Second)
	expectID(t, app.completed, pendingSession.ID, "recovered countdown completion")
}
