package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/fingerbutton/go/internal/game/elimination"
	"github.com/mcdev12/fingerbutton/go/internal/game/memstore"
	"github.com/mcdev12/fingerbutton/go/internal/gameconfig"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

var t0 = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

type scheduled struct {
	sessionID uuid.UUID
	endsAt    time.Time
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []scheduled
}

func (r *recordingScheduler) ScheduleCountdown(sessionID uuid.UUID, endsAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, scheduled{sessionID, endsAt})
}

func (r *recordingScheduler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	app       *App
	store     *memstore.Store
	clock     *clockwork.FakeClock
	scheduler *recordingScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memstore.New()
	app := NewApp(store, elimination.NewEngine(store, clock), clock, gameconfig.Default())
	sched := &recordingScheduler{}
	app.SetCountdownScheduler(sched)
	return &fixture{app: app, store: store, clock: clock, scheduler: sched}
}

func (f *fixture) publicGame(t *testing.T, fids ...int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	sess, err := f.app.CreatePublicGame(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, fid := range fids {
		if _, err := f.app.JoinGame(ctx, JoinRequest{SessionID: sess.ID, FID: fid, Username: "player"}); err != nil {
			t.Fatal(err)
		}
		f.clock.Advance(time.Second)
	}
	return sess.ID
}

func TestStartGameRequiresMinimumPlayers(t *testing.T) {
	f := newFixture(t)
	id := f.publicGame(t, 1)

	if f.app.StartGame(context.Background(), id) {
		t.Fatal("started with one player")
	}
	if f.scheduler.count() != 0 {
		t.Error("countdown armed for rejected start")
	}
}

func TestStartGameArmsCountdownOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.publicGame(t, 1, 2)

	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.app.StartGame(ctx, id) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := started.Load(); n != 1 {
		t.Fatalf("StartGame succeeded %d times, want 1", n)
	}
	want := []scheduled{{id, f.clock.Now().Add(5 * time.Second)}}
	if diff := cmp.Diff(want, f.scheduler.calls, cmp.AllowUnexported(scheduled{})); diff != "" {
		t.Errorf("scheduled countdowns mismatch (-want +got):\n%s", diff)
	}

	sess, _ := f.app.GetGame(ctx, id)
	if sess.Status != models.GameStatusStarting || !sess.CountdownEndsAt.Equal(f.clock.Now().Add(5*time.Second)) {
		t.Errorf("unexpected session after start %+v", sess)
	}
}

func TestCompleteCountdownKeepsHolders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.publicGame(t, 1, 2, 3)
	f.app.StartGame(ctx, id)
	f.store.StartPressing(ctx, id, 1, f.clock.Now())
	f.store.StartPressing(ctx, id, 2, f.clock.Now())
	f.clock.Advance(5 * time.Second)

	if !f.app.CompleteCountdown(ctx, id) {
		t.Fatal("CompleteCountdown rejected")
	}
	if f.app.CompleteCountdown(ctx, id) {
		t.Error("countdown completed twice")
	}

	sess, _ := f.app.GetGame(ctx, id)
	if sess.Status != models.GameStatusActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}
	players, _ := f.app.ListPlayers(ctx, id)
	eliminated := map[int64]bool{}
	for _, p := range players {
		eliminated[p.FID] = p.IsEliminated
	}
	if diff := cmp.Diff(map[int64]bool{1: false, 2: false, 3: true}, eliminated); diff != "" {
		t.Errorf("elimination mismatch (-want +got):\n%s", diff)
	}
}

func TestCompleteCountdownWithSingleHolderEndsGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.publicGame(t, 1, 2)
	f.app.StartGame(ctx, id)
	f.store.StartPressing(ctx, id, 2, f.clock.Now())
	f.clock.Advance(5 * time.Second)

	f.app.CompleteCountdown(ctx, id)

	sess, _ := f.app.GetGame(ctx, id)
	if sess.Status != models.GameStatusCompleted || sess.WinnerFID == nil || *sess.WinnerFID != 2 {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestJoinGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess, err := f.app.CreatePublicGame(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	invalid := []JoinRequest{
		{FID: 1, Username: "a"},
		{SessionID: sess.ID, Username: "a"},
		{SessionID: sess.ID, FID: 1, Username: "   "},
	}
	for _, req := range invalid {
		if _, err := f.app.JoinGame(ctx, req); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("JoinGame(%+v) err = %v, want ErrInvalidArgument", req, err)
		}
	}

	first, err := f.app.JoinGame(ctx, JoinRequest{SessionID: sess.ID, FID: 1, Username: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(time.Minute)
	again, err := f.app.JoinGame(ctx, JoinRequest{SessionID: sess.ID, FID: 1, Username: "alice2"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || !again.JoinedAt.Equal(first.JoinedAt) || again.Username != "alice2" {
		t.Errorf("rejoin mismatch: first %+v again %+v", first, again)
	}

	if _, err := f.app.JoinGame(ctx, JoinRequest{SessionID: sess.ID, FID: 2, Username: "bob"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.app.JoinGame(ctx, JoinRequest{SessionID: sess.ID, FID: 3, Username: "carol"}); !errors.Is(err, models.ErrGameFull) {
		t.Errorf("join full game err = %v, want ErrGameFull", err)
	}
}

func TestCreatePrivateGameRetriesShareCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taken := "AAAAAA"
	f.store.CreateSession(ctx, models.CreateSessionParams{
		ID: uuid.New(), Status: models.GameStatusWaiting, GameType: models.GameTypePrivate, ShareCode: &taken, MaxPlayers: 5,
	})

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	f.app.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	sess, err := f.app.CreatePrivateGame(ctx, 42, 0)
	if err != nil {
		t.Fatal(err)
	}
	if *sess.ShareCode != "BBBBBB" || *sess.CreatedByFID != 42 || sess.GameType != models.GameTypePrivate {
		t.Errorf("unexpected private game %+v", sess)
	}

	got, err := f.app.GetGameByShareCode(ctx, "  bbbbbb ")
	if err != nil || got.ID != sess.ID {
		t.Errorf("GetGameByShareCode = %v, %v", got, err)
	}
	if _, err := f.app.CreatePrivateGame(ctx, 0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing creator err = %v", err)
	}
}

func TestCreatePrivateGameGivesUpAfterCollisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taken := "ZZZZZZ"
	f.store.CreateSession(ctx, models.CreateSessionParams{
		ID: uuid.New(), Status: models.GameStatusWaiting, GameType: models.GameTypePrivate, ShareCode: &taken, MaxPlayers: 5,
	})
	f.app.newCode = func() (string, error) { return taken, nil }

	if _, err := f.app.CreatePrivateGame(ctx, 1, 0); !errors.Is(err, models.ErrShareCodeTaken) {
		t.Errorf("err = %v, want ErrShareCodeTaken", err)
	}
}

func TestDailyGameLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// 10:00 in New York, two hours before the daily start.
	daily, err := f.app.GetDailyGame(ctx)
	if err != nil {
		t.Fatal(err)
	}
	wantStart := time.Date(2025, 3, 1, 17, 0, 0, 0, time.UTC)
	if daily.Status != models.GameStatusScheduled || !daily.ScheduledStartTime.Equal(wantStart) || *daily.DailyDate != "2025-03-01" {
		t.Fatalf("unexpected daily game %+v", daily)
	}
	if !daily.IsFeatured || daily.MaxPlayers != 1000 {
		t.Errorf("daily defaults not applied: %+v", daily)
	}

	again, _ := f.app.GetDailyGame(ctx)
	if again.ID != daily.ID {
		t.Error("second request created another daily game")
	}

	active, _ := f.app.ListActiveGames(ctx, models.GameTypeDaily, false)
	if len(active) != 0 {
		t.Errorf("scheduled game listed without includeScheduled: %d", len(active))
	}
	active, _ = f.app.ListActiveGames(ctx, models.GameTypeDaily, true)
	if len(active) != 1 {
		t.Errorf("scheduled game missing with includeScheduled: %d", len(active))
	}
	featured, _ := f.app.ListFeaturedGames(ctx)
	if len(featured) != 1 || featured[0].ID != daily.ID {
		t.Errorf("featured = %v", featured)
	}

	if n := f.app.ActivateScheduledGames(ctx); n != 0 {
		t.Errorf("activated %d games early", n)
	}
	f.clock.Advance(2 * time.Hour)
	if n := f.app.ActivateScheduledGames(ctx); n != 1 {
		t.Fatalf("activated %d games, want 1", n)
	}
	opened, _ := f.app.GetGame(ctx, daily.ID)
	if opened.Status != models.GameStatusWaiting {
		t.Errorf("status = %s, want waiting", opened.Status)
	}
}

func TestListActiveGamesRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.ListActiveGames(context.Background(), "weekly", false); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestGetUserHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < HistoryLimit+3; i++ {
		f.publicGame(t, 9)
	}

	history, err := f.app.GetUserHistory(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != HistoryLimit {
		t.Errorf("history length = %d, want %d", len(history), HistoryLimit)
	}
	if _, err := f.app.GetUserHistory(ctx, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestNewShareCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := newShareCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != shareCodeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(shareCodeAlphabet, r) {
				t.Fatalf("code %q contains %q", code, r)
			}
		}
		seen[code] = true
	}
	if len(seen) < 45 {
		t.Errorf("only %d distinct codes out of 50", len(seen))
	}
}

func TestListFeaturedGamesReturnsNewestFive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []uuid.UUID
	for i := 0; i < 7; i++ {
		id := uuid.New()
		status := models.GameStatusWaiting
		if i == 6 {
			status = models.GameStatusCompleted
		}
		if _, err := f.store.CreateSession(ctx, models.CreateSessionParams{
			ID: id, Status: status, GameType: models.GameTypePublic, MaxPlayers: 10,
			IsFeatured: true, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	f.store.CreateSession(ctx, models.CreateSessionParams{
		ID: uuid.New(), Status: models.GameStatusWaiting, GameType: models.GameTypePublic, MaxPlayers: 10,
		CreatedAt: t0.Add(time.Hour),
	})

	featured, err := f.app.ListFeaturedGames(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got []uuid.UUID
	for _, s := range featured {
		got = append(got, s.ID)
	}
	want := []uuid.UUID{ids[5], ids[4], ids[3], ids[2], ids[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("featured games mismatch (-want +got):\n%s", diff)
	}
}

func TestRepairPlacementsFinishesCompletedSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.publicGame(t, 1, 2)
	f.app.StartGame(ctx, id)
	f.store.StartPressing(ctx, id, 1, f.clock.Now())
	f.store.StartPressing(ctx, id, 2, f.clock.Now())
	f.clock.Advance(5 * time.Second)
	if !f.app.CompleteCountdown(ctx, id) {
		t.Fatal("CompleteCountdown rejected")
	}

	// Completed without placements, as after a failure between the two writes.
	f.store.EliminatePlayer(ctx, id, 2, f.clock.Now())
	winner := int64(1)
	if ok, _ := f.store.CompleteSession(ctx, id, &winner, f.clock.Now()); !ok {
		t.Fatal("CompleteSession rejected")
	}

	if n := f.app.RepairPlacements(ctx); n != 1 {
		t.Fatalf("RepairPlacements = %d, want 1", n)
	}
	players, _ := f.app.ListPlayers(ctx, id)
	got := map[int64]int{}
	for _, p := range players {
		if p.Placement != nil {
			got[p.FID] = *p.Placement
		}
	}
	if diff := cmp.Diff(map[int64]int{1: 1, 2: 2}, got); diff != "" {
		t.Errorf("placements mismatch (-want +got):\n%s", diff)
	}
	if n := f.app.RepairPlacements(ctx); n != 0 {
		t.Errorf("second RepairPlacements = %d, want 0", n)
	}
}
