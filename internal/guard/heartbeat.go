package guard

import (
	"context"
	"log"
	"sync"
	"time"

	"trading-session-guard/internal/session"
)

// writeTimeout bounds a single store write issued from a timer so a hung
// network call cannot stall the schedule.
const writeTimeout = 5 * time.Second

// HeartbeatEmitter periodically refreshes the session's liveness timestamp so
// any observer can tell the owning client is still alive.
type HeartbeatEmitter struct {
	sessions *session.Store
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatEmitter returns an emitter writing every interval.
func NewHeartbeatEmitter(sessions *session.Store, interval time.Duration) *HeartbeatEmitter {
	return &HeartbeatEmitter{sessions: sessions, interval: interval}
}

// Start begins the repeating heartbeat for userID. A transient write failure is
// logged and the next scheduled tick is the retry; only Stop ends the timer.
// Calling Start while running restarts the emitter.
func (h *HeartbeatEmitter) Start(userID string) {
	h.mu.Lock()
	h.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	done := make(chan struct{})
	h.done = done
	h.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
				if err := h.sessions.Heartbeat(writeCtx, userID); err != nil && ctx.Err() == nil {
					log.Printf("guard: heartbeat write failed (retrying next tick): %v", err)
				}
				cancelWrite()
			}
		}
	}()
}

// Stop cancels the heartbeat. Idempotent; safe to call when never started.
func (h *HeartbeatEmitter) Stop() {
	h.mu.Lock()
	h.stopLocked()
	h.mu.Unlock()
}

func (h *HeartbeatEmitter) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	h.done = nil
}
