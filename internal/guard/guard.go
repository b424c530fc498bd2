// Package guard enforces single-active-session semantics for one client:
// heartbeat liveness, takeover detection with a grace window, forced logout,
// and an independent idle watchdog.
//
// The protocol is deliberately a last-write-wins race over the shared session
// document: the most recent login always wins, and previously connected
// clients are evicted asynchronously once their monitor observes the change.
// There is no lock, transaction, or rejection of second logins, and none may
// be introduced without changing the product's takeover semantics.
package guard

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-session-guard/internal/authprovider"
	"trading-session-guard/internal/session"
	"trading-session-guard/internal/telemetry"
	"trading-session-guard/internal/token"
)

// Reason explains a forced logout to the host and its user.
type Reason string

const (
	// ReasonConflict means the account was signed in elsewhere.
	ReasonConflict Reason = "conflict"
	// ReasonInactive means no user activity arrived within the idle window.
	ReasonInactive Reason = "inactive"
)

// Message returns the human-readable text shown to the user before the reset.
func (r Reason) Message() string {
	switch r {
	case ReasonConflict:
		return "Your account was signed in elsewhere. Logging out."
	case ReasonInactive:
		return "You were inactive for too long. Logging out."
	}
	return "Logging out."
}

// Options carries the protocol's fixed durations. The three windows are
// independent constants, but Grace must comfortably exceed Heartbeat so a
// single missed liveness write can never look like a takeover.
type Options struct {
	HeartbeatInterval time.Duration
	GraceDelay        time.Duration
	IdleTimeout       time.Duration
}

// DefaultOptions are the reference durations: 10s heartbeat, 30s grace, 15m idle.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: 10 * time.Second,
		GraceDelay:        30 * time.Second,
		IdleTimeout:       15 * time.Minute,
	}
}

// Guard owns one client's session protection. Hosts construct exactly one per
// client at their composition root and inject the collaborators; nothing here
// is a package-level singleton, so tests can run several simulated clients
// against one store in a single process.
type Guard struct {
	sessions *session.Store
	auth     authprovider.Provider
	events   telemetry.EventEmitter // may be nil
	opts     Options
	resetFn  func() // host hook: discard client state, show the login screen

	heartbeat *HeartbeatEmitter
	monitor   *SessionMonitor
	idle      *InactivityMonitor

	mu             sync.Mutex
	started        bool
	userID         string
	userEmail      string
	localToken     string
	onForcedLogout func(Reason)
}

// New constructs a guard. events may be nil (no telemetry). resetFn is invoked
// unconditionally at the end of every forced logout; it must never be nil for
// hosts that render anything, since the contract is that no authenticated-looking
// state survives a forced logout.
func New(sessions *session.Store, auth authprovider.Provider, events telemetry.EventEmitter, opts Options, resetFn func()) *Guard {
	g := &Guard{
		sessions: sessions,
		auth:     auth,
		events:   events,
		opts:     opts,
		resetFn:  resetFn,
	}
	g.heartbeat = NewHeartbeatEmitter(sessions, opts.HeartbeatInterval)
	g.monitor = NewSessionMonitor(sessions, opts.GraceDelay, func() { g.forceLogout(ReasonConflict) })
	g.idle = NewInactivityMonitor()
	return g
}

// OnForcedLogout registers a host callback invoked with the reason right
// before the reset hook runs, so the host can show a message first.
func (g *Guard) OnForcedLogout(fn func(Reason)) {
	g.mu.Lock()
	g.onForcedLogout = fn
	g.mu.Unlock()
}

// Start arms the guard for the authenticated identity: it generates a fresh
// session token, writes the session record (overwriting any previous login in
// place), and starts the heartbeat, takeover monitor, and idle watchdog.
//
// A failed session write is returned to the caller: login must fail visibly
// rather than proceed without the guard. Calling Start while already started
// re-arms with the new token, so a same-client re-login never evicts itself.
func (g *Guard) Start(ctx context.Context, identity authprovider.Identity) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		g.stopComponentsLocked()
		g.started = false
	}

	tok := token.New()
	if err := g.sessions.Create(ctx, identity.ID, identity.Email, tok); err != nil {
		return fmt.Errorf("guard: session create: %w", err)
	}

	g.userID = identity.ID
	g.userEmail = identity.Email
	g.localToken = tok

	if err := g.monitor.Start(identity.ID, tok); err != nil {
		return fmt.Errorf("guard: monitor start: %w", err)
	}
	g.heartbeat.Start(identity.ID)
	g.idle.Start(g.opts.IdleTimeout, func() { g.forceLogout(ReasonInactive) })
	g.started = true
	return nil
}

// Activity forwards one user-input signal to the idle watchdog. Hosts call it
// on any pointer, keyboard, touch, or scroll event.
func (g *Guard) Activity() {
	g.idle.Activity()
}

// Stop disarms the guard on explicit logout: all timers cancelled, the
// subscription dropped, and the session record marked ended if still owned.
// Idempotent in any state; never returns an error for redundant calls.
func (g *Guard) Stop(ctx context.Context) {
	g.mu.Lock()
	wasStarted := g.started
	userID, tok := g.userID, g.localToken
	g.stopComponentsLocked()
	g.started = false
	g.localToken = ""
	g.mu.Unlock()

	if wasStarted && tok != "" {
		if _, err := g.sessions.End(ctx, userID, tok); err != nil {
			log.Printf("guard: ending session on logout failed: %v", err)
		}
	}
}

// Token returns the locally held session token; empty when stopped. Tests use
// it to assert ownership.
func (g *Guard) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.localToken
}

func (g *Guard) stopComponentsLocked() {
	g.heartbeat.Stop()
	g.monitor.Stop()
	g.idle.Stop()
}

// forceLogout runs the eviction contract: count the kick, tell the host, end
// the session only if still owned, sign out, and reset. Every step after the
// first failure still runs; the client must never be left looking
// authenticated once this is invoked.
func (g *Guard) forceLogout(reason Reason) {
	g.mu.Lock()
	if !g.started {
		// A conflict eviction and an idle timeout can race; first one wins.
		g.mu.Unlock()
		return
	}
	g.started = false
	userID, tok := g.userID, g.localToken
	g.localToken = ""
	notify := g.onForcedLogout
	g.stopComponentsLocked()
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Printf("guard: forced logout for user %s: %s", userID, reason)

	var kickCount int64
	if err := g.sessions.RecordKick(ctx, userID); err != nil {
		log.Printf("guard: recording kick failed: %v", err)
	} else if lockout, err := g.sessions.GetLockout(ctx, userID); err == nil && lockout != nil {
		kickCount = lockout.KickCount
	}
	telemetry.EmitAsync(g.events, telemetry.NewEvictionEvent(userID, tok, string(reason), kickCount))

	if notify != nil {
		notify(reason)
	}

	if reason != ReasonConflict {
		// On the conflict path the document already belongs to the new login;
		// End's ownership guard would refuse anyway, skip the read.
		if _, err := g.sessions.End(ctx, userID, tok); err != nil {
			log.Printf("guard: ending session failed: %v", err)
		}
	}

	if err := g.auth.SignOut(ctx); err != nil {
		log.Printf("guard: sign-out failed, clearing local state regardless: %v", err)
	}

	if g.resetFn != nil {
		g.resetFn()
	}
}
