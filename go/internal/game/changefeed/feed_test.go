package changefeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) handle(_ context.Context, ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFeedRoutesBySessionAndTable(t *testing.T) {
	ctx := context.Background()
	feed := NewFeed()
	s1, s2 := uuid.New(), uuid.New()

	var all, playersOnly, other, global recorder
	feed.Subscribe(s1, all.handle)
	feed.Subscribe(s1, playersOnly.handle, TablePlayers)
	feed.Subscribe(s2, other.handle)
	feed.SubscribeAll(global.handle, TableSessions)

	feed.Dispatch(ctx, ChangeEvent{SessionID: s1, Table: TablePlayers, Type: ChangeUpdate})
	feed.Dispatch(ctx, ChangeEvent{SessionID: s1, Table: TableSessions, Type: ChangeUpdate})

	if got := all.count(); got != 2 {
		t.Errorf("all-table subscriber got %d events, want 2", got)
	}
	if got := playersOnly.count(); got != 1 {
		t.Errorf("players subscriber got %d events, want 1", got)
	}
	if got := other.count(); got != 0 {
		t.Errorf("other session subscriber got %d events, want 0", got)
	}
	if got := global.count(); got != 1 {
		t.Errorf("global sessions subscriber got %d events, want 1", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	feed := NewFeed()
	id := uuid.New()

	var rec recorder
	sub := feed.Subscribe(id, rec.handle)
	sub.Unsubscribe()
	sub.Unsubscribe()

	feed.Dispatch(ctx, ChangeEvent{SessionID: id, Table: TablePlayers})
	if rec.count() != 0 {
		t.Error("unsubscribed handler still called")
	}
	if len(feed.Sessions()) != 0 {
		t.Errorf("session registry not cleaned up: %v", feed.Sessions())
	}
}

func TestRefreshReachesTableFilteredSubscribers(t *testing.T) {
	feed := NewFeed()
	id := uuid.New()

	var rec recorder
	feed.Subscribe(id, rec.handle, TableSessions)
	feed.Refresh(context.Background())

	if rec.count() != 1 {
		t.Fatalf("got %d events, want 1", rec.count())
	}
	if rec.events[0].Type != ChangeRefresh || rec.events[0].SessionID != id {
		t.Errorf("unexpected refresh event %+v", rec.events[0])
	}
}

func TestRunFallbackPollsOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	feed := NewFeedWithClock(clock)
	id := uuid.New()

	got := make(chan ChangeEvent, 4)
	feed.Subscribe(id, func(_ context.Context, ev ChangeEvent) { got <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		feed.RunFallback(ctx, 10*time.Second)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Second)

	select {
	case ev := <-got:
		if ev.Type != ChangeRefresh {
			t.Errorf("type = %s, want REFRESH", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fallback never refreshed")
	}

	cancel()
	<-done
}

func TestParseNotification(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	ev, err := ParseNotification(`{"table":"game_players","type":"UPDATE","session_id":"`+id.String()+`","record":{"fid":7}}`, now)
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if ev.SessionID != id || ev.Table != TablePlayers || ev.Type != ChangeUpdate {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.ID == uuid.Nil {
		t.Error("event id not assigned")
	}

	bad := []string{
		`not json`,
		`{"table":"game_players","type":"UPDATE"}`,
		`{"table":"users","type":"UPDATE","session_id":"` + id.String() + `"}`,
	}
	for _, payload := range bad {
		if _, err := ParseNotification(payload, now); err == nil {
			t.Errorf("expected error for %s", payload)
		}
	}
}

func TestDecodeEnvelope(t *testing.T) {
	id, eventID := uuid.New(), uuid.New()
	data := []byte(`{"eventId":"` + eventID.String() + `","eventType":"DELETE","sessionId":"` + id.String() + `","table":"game_players","timestamp":"2025-01-01T00:00:00Z"}`)

	ev, err := decodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != eventID || ev.SessionID != id || ev.Type != ChangeDelete || ev.Table != TablePlayers {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := decodeEnvelope([]byte(`{"eventId":"x","sessionId":"y"}`)); err == nil {
		t.Error("expected error for malformed ids")
	}
}

func TestSubjectFor(t *testing.T) {
	id := uuid.New()
	if got := subjectFor("game.changes", ChangeEvent{Table: TablePlayers, SessionID: id}); got != "game.changes.game_players."+id.String() {
		t.Errorf("subject = %s", got)
	}
	if got := subjectFor("game.changes", NewRefresh(id, time.Now())); got != "game.changes.refresh."+id.String() {
		t.Errorf("refresh subject = %s", got)
	}
}
