package presence

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StartHeartbeat keeps the player's holder status fresh on a server-held
// ticker. When a heartbeat is rejected the ticker stops and onFailure runs on
// the ticker goroutine. Starting again for the same player replaces the
// previous ticker.
func (t *Tracker) StartHeartbeat(sessionID uuid.UUID, fid int64, onFailure func()) {
	key := heartbeatKey{sessionID: sessionID, fid: fid}
	ctx, cancel := context.WithCancel(t.ctx)
	hb := &heartbeat{
		ticker: t.clock.NewTicker(t.cfg.HeartbeatInterval),
		cancel: cancel,
	}
	t.replaceHeartbeat(key, hb)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer hb.ticker.Stop()
		for {
			select {
			case <-hb.ticker.Chan():
				ok, err := t.store.TouchHeartbeat(ctx, sessionID, fid, t.clock.Now())
				if ok {
					continue
				}
				if ctx.Err() != nil {
					// Stopped locally while the write was in flight.
					return
				}
				if err != nil {
					log.Warn().Err(err).Str("session_id", sessionID.String()).Int64("fid", fid).Msg("heartbeat failed")
				} else {
					log.Debug().Str("session_id", sessionID.String()).Int64("fid", fid).Msg("heartbeat rejected")
				}
				t.removeHeartbeat(key, hb)
				if onFailure != nil {
					onFailure()
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Debug().
		Str("session_id", sessionID.String()).
		Int64("fid", fid).
		Dur("interval", t.cfg.HeartbeatInterval).
		Msg("started heartbeat")
}

// StopHeartbeat cancels the player's ticker. It never touches the store.
func (t *Tracker) StopHeartbeat(sessionID uuid.UUID, fid int64) {
	key := heartbeatKey{sessionID: sessionID, fid: fid}
	t.mu.Lock()
	defer t.mu.Unlock()
	if hb, ok := t.heartbeats[key]; ok {
		hb.cancel()
		delete(t.heartbeats, key)
	}
}

// StopSession cancels every ticker belonging to the session.
func (t *Tracker) StopSession(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, hb := range t.heartbeats {
		if key.sessionID == sessionID {
			hb.cancel()
			delete(t.heartbeats, key)
		}
	}
}

// Close stops all tickers and waits for their goroutines.
func (t *Tracker) Close() {
	t.cancel()
	t.mu.Lock()
	clear(t.heartbeats)
	t.mu.Unlock()
	t.wg.Wait()
}

// ActiveHeartbeats reports how many tickers are running.
func (t *Tracker) ActiveHeartbeats() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heartbeats)
}

func (t *Tracker) replaceHeartbeat(key heartbeatKey, hb *heartbeat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.heartbeats[key]; ok {
		existing.cancel()
		log.Debug().Str("session_id", key.sessionID.String()).Int64("fid", key.fid).Msg("replaced existing heartbeat")
	}
	t.heartbeats[key] = hb
}

// removeHeartbeat deletes the entry only if it still belongs to hb.
func (t *Tracker) removeHeartbeat(key heartbeatKey, hb *heartbeat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.heartbeats[key] == hb {
		delete(t.heartbeats, key)
	}
}
