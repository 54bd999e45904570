package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// countdownTimer is an armed countdown. done is closed when the timer is
// replaced or cancelled so its waiting goroutine exits.
type countdownTimer struct {
	timer clockwork.Timer
	done  chan struct{}
}

func (ct *countdownTimer) stop() {
	stopAndDrainTimer(ct.timer)
	close(ct.done)
}

// ScheduleCountdown arms a one-shot timer that completes the session's
// countdown at endsAt. Scheduling again for the same session replaces the
// previous timer; an endsAt already passed is queued immediately.
func (o *Orchestrator) ScheduleCountdown(sessionID uuid.UUID, endsAt time.Time) {
	duration := endsAt.Sub(o.clock.Now())
	if duration <= 0 {
		o.cancelTimer(sessionID)
		go o.enqueue(sessionID)
		return
	}

	ct := &countdownTimer{timer: o.clock.NewTimer(duration), done: make(chan struct{})}
	o.replaceTimer(sessionID, ct)

	o.waiters.Add(1)
	go func(id uuid.UUID, ct *countdownTimer) {
		defer o.waiters.Add(-1)
		select {
		case <-ct.timer.Chan():
			o.removeTimer(id, ct)
			o.enqueue(id)
		case <-ct.done:
		case <-o.ctx.Done():
			stopAndDrainTimer(ct.timer)
			o.removeTimer(id, ct)
		}
	}(sessionID, ct)

	log.Debug().
		Str("session_id", sessionID.String()).
		Time("countdown_ends_at", endsAt).
		Dur("duration", duration).
		Msg("scheduled countdown timer")
}

// replaceTimer atomically replaces a timer for a session, cancelling any existing timer.
func (o *Orchestrator) replaceTimer(sessionID uuid.UUID, ct *countdownTimer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()

	if existing, ok := o.activeTimers[sessionID]; ok {
		existing.stop()
		log.Debug().Str("session_id", sessionID.String()).Msg("replaced existing countdown timer")
	}
	o.activeTimers[sessionID] = ct
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (o *Orchestrator) cancelTimer(sessionID uuid.UUID) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	if ct, ok := o.activeTimers[sessionID]; ok {
		ct.stop()
		delete(o.activeTimers, sessionID)
	}
}

// removeTimer drops the entry only if it is still ct; a replaced timer must
// not remove its successor.
func (o *Orchestrator) removeTimer(sessionID uuid.UUID, ct *countdownTimer) {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	if o.activeTimers[sessionID] == ct {
		delete(o.activeTimers, sessionID)
	}
}

func (o *Orchestrator) cancelAllTimers() {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	for id, ct := range o.activeTimers {
		ct.stop()
		log.Debug().Str("session_id", id.String()).Msg("cancelled timer on shutdown")
	}
	clear(o.activeTimers)
}

func (o *Orchestrator) hasTimer(sessionID uuid.UUID) bool {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	_, ok := o.activeTimers[sessionID]
	return ok
}

// ActiveTimers reports how many countdowns are armed.
func (o *Orchestrator) ActiveTimers() int {
	o.activeTimersMu.Lock()
	defer o.activeTimersMu.Unlock()
	return len(o.activeTimers)
}
