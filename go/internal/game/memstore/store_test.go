package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newSession(t *testing.T, s *Store, status models.GameStatus, maxPlayers int) *models.GameSession {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), models.CreateSessionParams{
		ID:         uuid.New(),
		Status:     status,
		GameType:   models.GameTypePublic,
		MaxPlayers: maxPlayers,
		CreatedAt:  t0,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

func join(t *testing.T, s *Store, sessionID uuid.UUID, fid int64, at time.Time) *models.Player {
	t.Helper()
	p, _, err := s.JoinSession(context.Background(), models.JoinParams{
		SessionID: sessionID, FID: fid, Username: "u", Now: at,
	})
	if err != nil {
		t.Fatalf("JoinSession(%d): %v", fid, err)
	}
	return p
}

func TestJoinSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)

	first := join(t, s, sess.ID, 1, t0)
	name := "Alice"
	again, created, err := s.JoinSession(ctx, models.JoinParams{
		SessionID: sess.ID, FID: 1, Username: "alice", DisplayName: &name, Now: t0.Add(time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("rejoin reported a new row")
	}
	if again.ID != first.ID || !again.JoinedAt.Equal(t0) {
		t.Errorf("rejoin changed identity or joined_at: %+v", again)
	}
	if !again.LastHeartbeat.Equal(t0.Add(time.Minute)) || again.Username != "alice" {
		t.Errorf("rejoin did not refresh heartbeat/metadata: %+v", again)
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.TotalPlayers != 1 {
		t.Errorf("TotalPlayers = %d, want 1", got.TotalPlayers)
	}
}

func TestJoinSessionGuards(t *testing.T) {
	ctx := context.Background()
	s := New()

	full := newSession(t, s, models.GameStatusWaiting, 2)
	join(t, s, full.ID, 1, t0)
	join(t, s, full.ID, 2, t0)
	if _, _, err := s.JoinSession(ctx, models.JoinParams{SessionID: full.ID, FID: 3, Now: t0}); !errors.Is(err, models.ErrGameFull) {
		t.Errorf("join full game err = %v, want ErrGameFull", err)
	}

	active := newSession(t, s, models.GameStatusActive, 10)
	if _, _, err := s.JoinSession(ctx, models.JoinParams{SessionID: active.ID, FID: 3, Now: t0}); !errors.Is(err, models.ErrGameNotJoinable) {
		t.Errorf("join active game err = %v, want ErrGameNotJoinable", err)
	}

	if _, _, err := s.JoinSession(ctx, models.JoinParams{SessionID: uuid.New(), FID: 3, Now: t0}); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("join missing game err = %v, want ErrSessionNotFound", err)
	}
}

func TestRejoinNeverUneliminates(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	join(t, s, sess.ID, 1, t0)
	join(t, s, sess.ID, 2, t0)
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))

	if ok, _ := s.EliminatePlayer(ctx, sess.ID, 1, t0.Add(time.Second)); !ok {
		t.Fatal("eliminate failed")
	}
	p := join(t, s, sess.ID, 1, t0.Add(2*time.Second))
	if !p.IsEliminated || p.EliminatedAt == nil || !p.EliminatedAt.Equal(t0.Add(time.Second)) {
		t.Errorf("rejoin resurrected player: %+v", p)
	}
}

func TestPressingGuards(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	join(t, s, sess.ID, 1, t0)

	if ok, _ := s.StartPressing(ctx, sess.ID, 1, t0); ok {
		t.Error("pressing accepted while waiting")
	}
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))

	if ok, _ := s.TouchHeartbeat(ctx, sess.ID, 1, t0); ok {
		t.Error("heartbeat accepted for a player not pressing")
	}
	if ok, _ := s.StartPressing(ctx, sess.ID, 1, t0); !ok {
		t.Fatal("StartPressing rejected")
	}
	if ok, _ := s.TouchHeartbeat(ctx, sess.ID, 1, t0.Add(time.Second)); !ok {
		t.Error("heartbeat rejected while pressing")
	}
	if ok, _ := s.EliminatePlayer(ctx, sess.ID, 1, t0.Add(2*time.Second)); !ok {
		t.Fatal("EliminatePlayer rejected")
	}
	if ok, _ := s.EliminatePlayer(ctx, sess.ID, 1, t0.Add(3*time.Second)); ok {
		t.Error("second elimination applied")
	}
	if ok, _ := s.TouchHeartbeat(ctx, sess.ID, 1, t0.Add(3*time.Second)); ok {
		t.Error("heartbeat applied to eliminated player")
	}
	if ok, _ := s.StartPressing(ctx, sess.ID, 1, t0.Add(3*time.Second)); ok {
		t.Error("eliminated player pressed again")
	}

	p, _ := s.GetPlayer(ctx, sess.ID, 1)
	if p.IsPressing || !p.EliminatedAt.Equal(t0.Add(2*time.Second)) {
		t.Errorf("unexpected player state %+v", p)
	}
	if ok, _ := s.StartPressing(ctx, sess.ID, 99, t0); ok {
		t.Error("missing player pressed")
	}
}

func TestCompleteCountdownEliminatesNonHolders(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	for fid := int64(1); fid <= 3; fid++ {
		join(t, s, sess.ID, fid, t0.Add(time.Duration(fid)*time.Second))
	}
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))
	s.StartPressing(ctx, sess.ID, 1, t0.Add(time.Second))
	s.StartPressing(ctx, sess.ID, 2, t0.Add(time.Second))

	ok, eliminated, err := s.CompleteCountdown(ctx, sess.ID, t0.Add(5*time.Second))
	if err != nil || !ok {
		t.Fatalf("CompleteCountdown = %v, %v", ok, err)
	}
	if diff := cmp.Diff([]int64{3}, eliminated); diff != "" {
		t.Errorf("eliminated mismatch (-want +got):\n%s", diff)
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != models.GameStatusActive || got.CountdownEndsAt != nil {
		t.Errorf("session after countdown: %+v", got)
	}
	if ok, _, _ := s.CompleteCountdown(ctx, sess.ID, t0.Add(6*time.Second)); ok {
		t.Error("countdown completed twice")
	}
}

func TestCompleteSessionRequiresExactSurvivors(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	join(t, s, sess.ID, 1, t0)
	join(t, s, sess.ID, 2, t0)
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))

	winner := int64(1)
	if ok, _ := s.CompleteSession(ctx, sess.ID, &winner, t0); ok {
		t.Error("completed with two survivors")
	}
	if ok, _ := s.CompleteSession(ctx, sess.ID, nil, t0); ok {
		t.Error("completed without winner while players remain")
	}

	s.EliminatePlayer(ctx, sess.ID, 2, t0.Add(time.Second))
	if ok, _ := s.CompleteSession(ctx, sess.ID, &winner, t0.Add(2*time.Second)); !ok {
		t.Fatal("CompleteSession rejected the sole survivor")
	}
	if ok, _ := s.CompleteSession(ctx, sess.ID, &winner, t0.Add(3*time.Second)); ok {
		t.Error("completed twice")
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != models.GameStatusCompleted || got.WinnerFID == nil || *got.WinnerFID != 1 || got.CountdownEndsAt != nil {
		t.Errorf("unexpected completed session %+v", got)
	}
	if ok, _ := s.EliminatePlayer(ctx, sess.ID, 1, t0.Add(4*time.Second)); ok {
		t.Error("player eliminated after completion")
	}
}

func TestFinalizePlacementsOrdersByMostRecentElimination(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	for fid := int64(1); fid <= 4; fid++ {
		join(t, s, sess.ID, fid, t0)
	}
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))
	s.EliminatePlayer(ctx, sess.ID, 3, t0.Add(1*time.Second))
	s.EliminatePlayer(ctx, sess.ID, 1, t0.Add(2*time.Second))
	s.EliminatePlayer(ctx, sess.ID, 4, t0.Add(3*time.Second))

	if ok, _ := s.SetPlacement(ctx, sess.ID, 2, 1); ok {
		t.Error("placement applied before completion")
	}
	winner := int64(2)
	s.CompleteSession(ctx, sess.ID, &winner, t0.Add(4*time.Second))
	s.SetPlacement(ctx, sess.ID, 2, 1)
	n, err := s.FinalizePlacements(ctx, sess.ID, 2)
	if err != nil || n != 3 {
		t.Fatalf("FinalizePlacements = %d, %v", n, err)
	}
	if again, _ := s.FinalizePlacements(ctx, sess.ID, 2); again != 0 {
		t.Errorf("second finalize placed %d players", again)
	}

	players, _ := s.ListPlayers(ctx, sess.ID)
	got := map[int64]int{}
	order := []int64{}
	for _, p := range players {
		got[p.FID] = *p.Placement
		order = append(order, p.FID)
	}
	if diff := cmp.Diff(map[int64]int{2: 1, 4: 2, 1: 3, 3: 4}, got); diff != "" {
		t.Errorf("placements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{2, 4, 1, 3}, order); diff != "" {
		t.Errorf("display order mismatch (-want +got):\n%s", diff)
	}
}

func TestEliminateStalePlayers(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := newSession(t, s, models.GameStatusWaiting, 4)
	for fid := int64(1); fid <= 3; fid++ {
		join(t, s, sess.ID, fid, t0)
	}
	s.TransitionToStarting(ctx, sess.ID, t0, t0.Add(5*time.Second))
	s.StartPressing(ctx, sess.ID, 1, t0)
	s.StartPressing(ctx, sess.ID, 2, t0)
	s.TouchHeartbeat(ctx, sess.ID, 2, t0.Add(9*time.Second))

	fids, err := s.EliminateStalePlayers(ctx, sess.ID, t0.Add(2*time.Second), t0.Add(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	// fid 3 never pressed; it is not stale, just not holding.
	if diff := cmp.Diff([]int64{1}, fids); diff != "" {
		t.Errorf("stale mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduledActivationAndDaily(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := "2025-05-01"
	start := t0.Add(time.Hour)
	params := models.CreateSessionParams{
		ID: uuid.New(), Status: models.GameStatusScheduled, GameType: models.GameTypeDaily,
		MaxPlayers: 10, ScheduledStartTime: &start, DailyDate: &day, CreatedAt: t0,
	}

	first, created, err := s.GetOrCreateDailySession(ctx, params)
	if err != nil || !created {
		t.Fatalf("first daily = %v, %v", created, err)
	}
	params.ID = uuid.New()
	second, created, err := s.GetOrCreateDailySession(ctx, params)
	if err != nil || created || second.ID != first.ID {
		t.Fatalf("second daily created a new session: %v %v", created, err)
	}

	ids, _ := s.ActivateScheduledSessions(ctx, t0)
	if len(ids) != 0 {
		t.Errorf("activated before start time: %v", ids)
	}
	ids, _ = s.ActivateScheduledSessions(ctx, start)
	if diff := cmp.Diff([]uuid.UUID{first.ID}, ids); diff != "" {
		t.Errorf("activation mismatch (-want +got):\n%s", diff)
	}
}

func TestShareCodeUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	code := "ABC123"
	p := models.CreateSessionParams{ID: uuid.New(), Status: models.GameStatusWaiting, GameType: models.GameTypePrivate, ShareCode: &code, MaxPlayers: 5}
	if _, err := s.CreateSession(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.ID = uuid.New()
	if _, err := s.CreateSession(ctx, p); !errors.Is(err, models.ErrShareCodeTaken) {
		t.Errorf("duplicate share code err = %v", err)
	}
	if _, err := s.GetSessionByShareCode(ctx, code); err != nil {
		t.Errorf("GetSessionByShareCode: %v", err)
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	events []changefeed.ChangeEvent
}

func (c *captureNotifier) Dispatch(_ context.Context, ev changefeed.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func TestMutationsNotify(t *testing.T) {
	ctx := context.Background()
	s := New()
	n := &captureNotifier{}
	s.SetNotifier(n)

	sess := newSession(t, s, models.GameStatusWaiting, 4)
	join(t, s, sess.ID, 1, t0)
	s.StartPressing(ctx, sess.ID, 1, t0) // rejected while waiting, no event

	var tables []changefeed.Table
	for _, ev := range n.events {
		if ev.SessionID != sess.ID {
			t.Errorf("event for wrong session %s", ev.SessionID)
		}
		tables = append(tables, ev.Table)
	}
	want := []changefeed.Table{changefeed.TableSessions, changefeed.TablePlayers, changefeed.TableSessions}
	if diff := cmp.Diff(want, tables); diff != "" {
		t.Errorf("event tables mismatch (-want +got):\n%s", diff)
	}
}
