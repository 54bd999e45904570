// Package memstore is an in-process game store with the same guarded-write
// semantics as the Postgres repository. It backs tests and STORE_DRIVER=memory.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/fingerbutton/go/internal/game/changefeed"
	"github.com/mcdev12/fingerbutton/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Notifier receives a change event after every successful mutation.
type Notifier interface {
	Dispatch(ctx context.Context, event changefeed.ChangeEvent)
}

type Store struct {
	mu         sync.Mutex
	sessions   map[uuid.UUID]*models.GameSession
	players    map[uuid.UUID]map[int64]*models.Player
	shareCodes map[string]uuid.UUID
	dailies    map[string]uuid.UUID

	notifier Notifier
}

func New() *Store {
	return &Store{
		sessions:   make(map[uuid.UUID]*models.GameSession),
		players:    make(map[uuid.UUID]map[int64]*models.Player),
		shareCodes: make(map[string]uuid.UUID),
		dailies:    make(map[string]uuid.UUID),
	}
}

// SetNotifier wires the store into a change feed.
func (s *Store) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// changes collects events under the lock and flushes them after unlock so
// handlers can read the store.
type changes struct {
	events []changefeed.ChangeEvent
}

func (c *changes) add(table changefeed.Table, typ changefeed.ChangeType, sessionID uuid.UUID, row any) {
	record, err := json.Marshal(row)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal change record")
	}
	c.events = append(c.events, changefeed.ChangeEvent{
		ID:         uuid.New(),
		Table:      table,
		Type:       typ,
		SessionID:  sessionID,
		Record:     record,
		OccurredAt: time.Now().UTC(),
	})
}

func (s *Store) flush(ctx context.Context, c *changes) {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n == nil {
		return
	}
	for _, ev := range c.events {
		n.Dispatch(ctx, ev)
	}
}

func copySession(in *models.GameSession) *models.GameSession {
	out := *in
	return &out
}

func copyPlayer(in *models.Player) *models.Player {
	out := *in
	return &out
}

// CreateSession inserts a new session.
func (s *Store) CreateSession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, error) {
	var c changes
	s.mu.Lock()
	if _, exists := s.sessions[p.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", p.ID)
	}
	if p.ShareCode != nil {
		if _, taken := s.shareCodes[*p.ShareCode]; taken {
			s.mu.Unlock()
			return nil, models.ErrShareCodeTaken
		}
	}
	if p.DailyDate != nil {
		if _, taken := s.dailies[*p.DailyDate]; taken {
			s.mu.Unlock()
			return nil, fmt.Errorf("daily game for %s already exists", *p.DailyDate)
		}
	}
	sess := s.insertSessionLocked(p)
	c.add(changefeed.TableSessions, changefeed.ChangeInsert, sess.ID, sess)
	out := copySession(sess)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return out, nil
}

func (s *Store) insertSessionLocked(p models.CreateSessionParams) *models.GameSession {
	sess := &models.GameSession{
		ID:                 p.ID,
		Status:             p.Status,
		GameType:           p.GameType,
		ShareCode:          p.ShareCode,
		MaxPlayers:         p.MaxPlayers,
		ScheduledStartTime: p.ScheduledStartTime,
		CreatedByFID:       p.CreatedByFID,
		IsFeatured:         p.IsFeatured,
		DailyDate:          p.DailyDate,
		CreatedAt:          p.CreatedAt,
	}
	s.sessions[sess.ID] = sess
	s.players[sess.ID] = make(map[int64]*models.Player)
	if p.ShareCode != nil {
		s.shareCodes[*p.ShareCode] = sess.ID
	}
	if p.DailyDate != nil {
		s.dailies[*p.DailyDate] = sess.ID
	}
	return sess
}

// GetOrCreateDailySession returns the session for p.DailyDate, inserting it if absent.
func (s *Store) GetOrCreateDailySession(ctx context.Context, p models.CreateSessionParams) (*models.GameSession, bool, error) {
	if p.DailyDate == nil {
		return nil, false, fmt.Errorf("daily date is required")
	}

	var c changes
	s.mu.Lock()
	if id, ok := s.dailies[*p.DailyDate]; ok {
		out := copySession(s.sessions[id])
		s.mu.Unlock()
		return out, false, nil
	}
	sess := s.insertSessionLocked(p)
	c.add(changefeed.TableSessions, changefeed.ChangeInsert, sess.ID, sess)
	out := copySession(sess)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return out, true, nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return copySession(sess), nil
}

func (s *Store) GetSessionByShareCode(_ context.Context, code string) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.shareCodes[code]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return copySession(s.sessions[id]), nil
}

// ListSessions returns sessions matching filter, newest first.
func (s *Store) ListSessions(_ context.Context, filter models.SessionFilter) ([]*models.GameSession, error) {
	s.mu.Lock()
	out := make([]*models.GameSession, 0)
	for _, sess := range s.sessions {
		if filter.Matches(sess) {
			out = append(out, copySession(sess))
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListUnplacedSessions returns completed sessions that still have players
// without a placement.
func (s *Store) ListUnplacedSessions(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0)
	for id, sess := range s.sessions {
		if sess.Status != models.GameStatusCompleted {
			continue
		}
		for _, p := range s.players[id] {
			if p.Placement == nil {
				out = append(out, id)
				break
			}
		}
	}
	return out, nil
}

// TransitionToStarting moves a waiting session into its countdown.
func (s *Store) TransitionToStarting(ctx context.Context, id uuid.UUID, startedAt, countdownEndsAt time.Time) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.GameStatusWaiting {
		s.mu.Unlock()
		return false, nil
	}
	sess.Status = models.GameStatusStarting
	sess.StartedAt = &startedAt
	sess.CountdownEndsAt = &countdownEndsAt
	c.add(changefeed.TableSessions, changefeed.ChangeUpdate, id, sess)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// CompleteCountdown eliminates every non-pressing player and activates the
// session, all under one guard on status=starting.
func (s *Store) CompleteCountdown(ctx context.Context, id uuid.UUID, now time.Time) (bool, []int64, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != models.GameStatusStarting {
		s.mu.Unlock()
		return false, nil, nil
	}

	var eliminated []int64
	for _, p := range sortedByJoin(s.players[id]) {
		if p.IsPressing || p.IsEliminated {
			continue
		}
		at := now
		p.IsEliminated = true
		p.EliminatedAt = &at
		eliminated = append(eliminated, p.FID)
		c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, id, p)
	}

	sess.Status = models.GameStatusActive
	sess.CountdownEndsAt = nil
	c.add(changefeed.TableSessions, changefeed.ChangeUpdate, id, sess)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, eliminated, nil
}

// CompleteSession marks a live session completed. It applies only while the
// set of surviving players is exactly {winner}, or empty when winner is nil.
func (s *Store) CompleteSession(ctx context.Context, id uuid.UUID, winnerFID *int64, endedAt time.Time) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || !sess.Status.IsLive() {
		s.mu.Unlock()
		return false, nil
	}

	var survivors []int64
	for fid, p := range s.players[id] {
		if !p.IsEliminated {
			survivors = append(survivors, fid)
		}
	}
	switch {
	case winnerFID == nil && len(survivors) != 0,
		winnerFID != nil && (len(survivors) != 1 || survivors[0] != *winnerFID):
		s.mu.Unlock()
		return false, nil
	}

	sess.Status = models.GameStatusCompleted
	sess.EndedAt = &endedAt
	sess.CountdownEndsAt = nil
	if winnerFID != nil {
		w := *winnerFID
		sess.WinnerFID = &w
	}
	c.add(changefeed.TableSessions, changefeed.ChangeUpdate, id, sess)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// ActivateScheduledSessions opens every scheduled session whose start time has passed.
func (s *Store) ActivateScheduledSessions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	var c changes
	var ids []uuid.UUID
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Status != models.GameStatusScheduled || sess.ScheduledStartTime == nil || sess.ScheduledStartTime.After(now) {
			continue
		}
		sess.Status = models.GameStatusWaiting
		ids = append(ids, id)
		c.add(changefeed.TableSessions, changefeed.ChangeUpdate, id, sess)
	}
	s.mu.Unlock()

	s.flush(ctx, &c)
	return ids, nil
}

// JoinSession inserts the participant or refreshes their existing row.
// created reports whether a new row was inserted.
func (s *Store) JoinSession(ctx context.Context, p models.JoinParams) (*models.Player, bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[p.SessionID]
	if !ok {
		s.mu.Unlock()
		return nil, false, models.ErrSessionNotFound
	}

	if existing, ok := s.players[p.SessionID][p.FID]; ok {
		if sess.Status != models.GameStatusCompleted {
			existing.LastHeartbeat = p.Now
			existing.Username = p.Username
			existing.DisplayName = p.DisplayName
			existing.PfpURL = p.PfpURL
			c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, p.SessionID, existing)
		}
		out := copyPlayer(existing)
		s.mu.Unlock()
		s.flush(ctx, &c)
		return out, false, nil
	}

	if sess.Status != models.GameStatusWaiting {
		s.mu.Unlock()
		return nil, false, models.ErrGameNotJoinable
	}
	if sess.TotalPlayers >= sess.MaxPlayers {
		s.mu.Unlock()
		return nil, false, models.ErrGameFull
	}

	player := &models.Player{
		ID:            uuid.New(),
		SessionID:     p.SessionID,
		FID:           p.FID,
		Username:      p.Username,
		DisplayName:   p.DisplayName,
		PfpURL:        p.PfpURL,
		JoinedAt:      p.Now,
		LastHeartbeat: p.Now,
	}
	s.players[p.SessionID][p.FID] = player
	sess.TotalPlayers = len(s.players[p.SessionID])
	c.add(changefeed.TablePlayers, changefeed.ChangeInsert, p.SessionID, player)
	c.add(changefeed.TableSessions, changefeed.ChangeUpdate, p.SessionID, sess)
	out := copyPlayer(player)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return out, true, nil
}

func (s *Store) GetPlayer(_ context.Context, sessionID uuid.UUID, fid int64) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[sessionID][fid]
	if !ok {
		return nil, models.ErrPlayerNotFound
	}
	return copyPlayer(p), nil
}

// ListPlayers returns every player ordered for a results table: placement
// ascending with unplaced last, then most recently eliminated first.
func (s *Store) ListPlayers(_ context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	s.mu.Lock()
	out := make([]*models.Player, 0, len(s.players[sessionID]))
	for _, p := range s.players[sessionID] {
		out = append(out, copyPlayer(p))
	}
	s.mu.Unlock()

	SortForDisplay(out)
	return out, nil
}

// ListActivePlayers returns the non-eliminated players in join order.
func (s *Store) ListActivePlayers(_ context.Context, sessionID uuid.UUID) ([]*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Player, 0)
	for _, p := range sortedByJoin(s.players[sessionID]) {
		if !p.IsEliminated {
			out = append(out, copyPlayer(p))
		}
	}
	return out, nil
}

// StartPressing marks a live, non-eliminated player as holding.
func (s *Store) StartPressing(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	p, found := s.players[sessionID][fid]
	if !ok || !found || !sess.Status.IsLive() || p.IsEliminated {
		s.mu.Unlock()
		return false, nil
	}
	p.IsPressing = true
	p.LastHeartbeat = now
	c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// TouchHeartbeat refreshes last_heartbeat for a player still holding.
func (s *Store) TouchHeartbeat(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	p, found := s.players[sessionID][fid]
	if !ok || !found || !sess.Status.IsLive() || !p.IsPressing || p.IsEliminated {
		s.mu.Unlock()
		return false, nil
	}
	p.LastHeartbeat = now
	c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// EliminatePlayer releases and eliminates a player exactly once.
func (s *Store) EliminatePlayer(ctx context.Context, sessionID uuid.UUID, fid int64, now time.Time) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	p, found := s.players[sessionID][fid]
	if !ok || !found || !sess.Status.IsLive() || p.IsEliminated {
		s.mu.Unlock()
		return false, nil
	}
	eliminate(p, now)
	c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// EliminateStalePlayers eliminates holders whose last heartbeat is before cutoff.
func (s *Store) EliminateStalePlayers(ctx context.Context, sessionID uuid.UUID, cutoff, now time.Time) ([]int64, error) {
	var c changes
	var fids []int64
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Status.IsLive() {
		s.mu.Unlock()
		return nil, nil
	}
	for _, p := range sortedByJoin(s.players[sessionID]) {
		if !p.IsPressing || p.IsEliminated || !p.LastHeartbeat.Before(cutoff) {
			continue
		}
		eliminate(p, now)
		fids = append(fids, p.FID)
		c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	}
	s.mu.Unlock()

	s.flush(ctx, &c)
	return fids, nil
}

func eliminate(p *models.Player, now time.Time) {
	at := now
	p.IsPressing = false
	p.IsEliminated = true
	p.EliminatedAt = &at
}

// SetPlacement records a final rank. Only applies once the session is completed.
func (s *Store) SetPlacement(ctx context.Context, sessionID uuid.UUID, fid int64, placement int) (bool, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	p, found := s.players[sessionID][fid]
	if !ok || !found || sess.Status != models.GameStatusCompleted {
		s.mu.Unlock()
		return false, nil
	}
	rank := placement
	p.Placement = &rank
	c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	s.mu.Unlock()

	s.flush(ctx, &c)
	return true, nil
}

// FinalizePlacements numbers every unplaced eliminated player from start,
// most recently eliminated first.
func (s *Store) FinalizePlacements(ctx context.Context, sessionID uuid.UUID, start int) (int, error) {
	var c changes
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Status != models.GameStatusCompleted {
		s.mu.Unlock()
		return 0, nil
	}

	pending := make([]*models.Player, 0)
	for _, p := range s.players[sessionID] {
		if p.IsEliminated && p.Placement == nil {
			pending = append(pending, p)
		}
	}
	SortByEliminationDesc(pending)
	for i, p := range pending {
		rank := start + i
		p.Placement = &rank
		c.add(changefeed.TablePlayers, changefeed.ChangeUpdate, sessionID, p)
	}
	s.mu.Unlock()

	s.flush(ctx, &c)
	return len(pending), nil
}

// ListPlayerHistory returns a participant's most recent games.
func (s *Store) ListPlayerHistory(_ context.Context, fid int64, limit int) ([]models.PlayerHistoryEntry, error) {
	s.mu.Lock()
	out := make([]models.PlayerHistoryEntry, 0)
	for sessionID, players := range s.players {
		p, ok := players[fid]
		if !ok {
			continue
		}
		sess := s.sessions[sessionID]
		out = append(out, models.PlayerHistoryEntry{
			SessionID:    sessionID,
			GameType:     sess.GameType,
			Status:       sess.Status,
			JoinedAt:     p.JoinedAt,
			EndedAt:      sess.EndedAt,
			Placement:    p.Placement,
			TotalPlayers: sess.TotalPlayers,
			Won:          sess.WinnerFID != nil && *sess.WinnerFID == fid,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.After(out[j].JoinedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortedByJoin(players map[int64]*models.Player) []*models.Player {
	out := make([]*models.Player, 0, len(players))
	for _, p := range players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].FID < out[j].FID
	})
	return out
}
