package streaming

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StartSweepLoop runs the background sweep that force-completes sessions
// exceeding the maximum stream duration. Starting twice is a no-op; the loop
// stops with ctx.
func (r *Registry) StartSweepLoop(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		panic("streaming: StartSweepLoop requires non-nil ctx")
	}
	r.mu.Lock()
	if r.sweepRunning {
		r.mu.Unlock()
		return
	}
	r.sweepRunning = true
	interval := r.cfg.SweepInterval
	r.mu.Unlock()

	go r.runSweepLoop(ctx, interval)
}

func (r *Registry) runSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.sweepRunning = false
			r.mu.Unlock()
			return
		case now := <-ticker.C:
			r.sweepOnce(now)
		}
	}
}

func (r *Registry) sweepOnce(now time.Time) int {
	if r == nil {
		return 0
	}
	if now.IsZero() {
		now = time.Now()
	}

	r.mu.Lock()
	maxAge := r.cfg.MaxStreamDuration
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	expired := 0
	for _, session := range sessions {
		if !session.Active() {
			continue
		}
		if now.Sub(session.StartTime()) < maxAge {
			continue
		}
		log.Warn().
			Str("component", "streaming").
			Str("conv_id", session.ConversationID()).
			Dur("age", now.Sub(session.StartTime())).
			Msg("force-completing expired stream")
		session.Cancel()
		r.completeSession(session, "timeout")
		expired++
	}
	return expired
}
