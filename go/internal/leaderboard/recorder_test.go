package leaderboard

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/game/memstore"
	"github.com/mcdev12/fingerbutton/go/internal/models"
)

type result struct {
	SessionID    uuid.UUID
	Winner       *int64
	Participants []int64
}

type fakeBoard struct {
	results chan result
}

func (b *fakeBoard) RecordResult(_ context.Context, sessionID uuid.UUID, winnerFID *int64, participants []int64) (bool, error) {
	b.results <- result{sessionID, winnerFID, participants}
	return true, nil
}

func TestRecorderRecordsCompletedSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memstore.New()
	feed := changefeed.NewFeed()
	store.SetNotifier(feed)

	board := &fakeBoard{results: make(chan result, 4)}
	rec := NewRecorder(board, store)
	feed.SubscribeAll(rec.Handle, changefeed.TableSessions)
	go rec.Run(ctx)

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	id := uuid.New()
	store.CreateSession(ctx, models.CreateSessionParams{
		ID: id, Status: models.GameStatusWaiting, GameType: models.GameTypePublic, MaxPlayers: 5, CreatedAt: now,
	})
	for _, fid := range []int64{10, 20, 30} {
		store.JoinSession(ctx, models.JoinParams{SessionID: id, FID: fid, Now: now})
	}
	store.TransitionToStarting(ctx, id, now, now.Add(5*time.Second))
	store.EliminatePlayer(ctx, id, 10, now)
	store.EliminatePlayer(ctx, id, 30, now)

	select {
	case r := <-board.results:
		t.Fatalf("recorded a game that is not over: %+v", r)
	default:
	}

	winner := int64(20)
	if ok, _ := store.CompleteSession(ctx, id, &winner, now.Add(time.Second)); !ok {
		t.Fatal("CompleteSession rejected")
	}

	select {
	case r := <-board.results:
		sort.Slice(r.Participants, func(i, j int) bool { return r.Participants[i] < r.Participants[j] })
		want := result{SessionID: id, Winner: &winner, Participants: []int64{10, 20, 30}}
		if diff := cmp.Diff(want, r); diff != "" {
			t.Errorf("result mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completed session never recorded")
	}
}

func TestRecorderIgnoresOtherEvents(t *testing.T) {
	rec := NewRecorder(&fakeBoard{}, memstore.New())
	id := uuid.New()
	completed, _ := json.Marshal(map[string]string{"status": "completed"})
	active, _ := json.Marshal(map[string]string{"status": "active"})

	events := []changefeed.ChangeEvent{
		{SessionID: id, Table: changefeed.TablePlayers, Type: changefeed.ChangeUpdate, Record: completed},
		{SessionID: id, Table: changefeed.TableSessions, Type: changefeed.ChangeUpdate, Record: active},
		{SessionID: id, Table: changefeed.TableSessions, Type: changefeed.ChangeInsert, Record: completed},
		changefeed.NewRefresh(id, time.Now()),
		{SessionID: id, Table: changefeed.TableSessions, Type: changefeed.ChangeUpdate, Record: []byte("{")},
	}
	for _, ev := range events {
		rec.Handle(context.Background(), ev)
	}
	if n := len(rec.pending); n != 0 {
		t.Errorf("queued %d sessions, want 0", n)
	}

	rec.Handle(context.Background(), changefeed.ChangeEvent{
		SessionID: id, Table: changefeed.TableSessions, Type: changefeed.ChangeUpdate, Record: completed,
	})
	if n := len(rec.pending); n != 1 {
		t.Errorf("queued %d sessions, want 1", n)
	}
}

func TestParseMember(t *testing.T) {
	if fid, err := parseMember(member(12345)); err != nil || fid != 12345 {
		t.Errorf("parseMember round trip = %d, %v", fid, err)
	}
	if _, err := parseMember(42); err == nil {
		t.Error("expected error for non-string member")
	}
	if _, err := parseMember("abc"); err == nil {
		t.Error("expected error for non-numeric member")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_POOL_SIZE", "oops")
	t.Setenv("REDIS_PASSWORD", "")
	t.Setenv("REDIS_DIAL_TIMEOUT", "")

	cfg := LoadConfigFromEnv()
	if cfg.Addr() != "cache:6380" || cfg.DB != 2 || cfg.PoolSize != 10 || cfg.DialTimeout != 5*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
}
