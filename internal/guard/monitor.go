package guard

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"trading-session-guard/internal/docstore"
	"trading-session-guard/internal/session"
	"trading-session-guard/internal/session/domain"
)

// MonitorState is the session monitor's lifecycle state.
type MonitorState int

const (
	StateIdle MonitorState = iota
	StateWatching
	StateConflictDetected
	StateEvicting
	StateTerminated
)

func (s MonitorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWatching:
		return "watching"
	case StateConflictDetected:
		return "conflict_detected"
	case StateEvicting:
		return "evicting"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// ErrAlreadyWatching is returned when Start is called on a monitor that was not
// stopped first.
var ErrAlreadyWatching = errors.New("guard: monitor already watching")

// SessionMonitor watches the user's session document and detects foreign
// takeover: a token in the store that is not the locally held one. On conflict
// it arms a one-shot grace timer; when the timer fires and the store token
// still differs, the monitor terminates and invokes onEvict exactly once.
//
// An absent document or the local token means no conflict. At most one grace
// timer is ever outstanding; the enforcement check re-reads the document at
// fire time rather than trusting the token captured at detection, so a
// transient, already-superseded conflict does not evict.
type SessionMonitor struct {
	sessions *session.Store
	grace    time.Duration
	onEvict  func()

	mu          sync.Mutex
	state       MonitorState
	userID      string
	localToken  string
	unsubscribe docstore.UnsubscribeFunc
	graceTimer  *time.Timer
}

// NewSessionMonitor returns a monitor in the idle state. onEvict runs on a
// timer goroutine after the grace window confirms the takeover.
func NewSessionMonitor(sessions *session.Store, grace time.Duration, onEvict func()) *SessionMonitor {
	return &SessionMonitor{sessions: sessions, grace: grace, onEvict: onEvict}
}

// Start subscribes to userID's session document and begins watching for a
// token that differs from localToken.
func (m *SessionMonitor) Start(userID, localToken string) error {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateTerminated {
		m.mu.Unlock()
		return ErrAlreadyWatching
	}
	m.state = StateWatching
	m.userID = userID
	m.localToken = localToken
	m.mu.Unlock()

	unsub, err := m.sessions.Watch(userID, m.handleChange)
	if err != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.unsubscribe = unsub
	m.mu.Unlock()
	return nil
}

// Stop unsubscribes and cancels any pending grace timer, returning to idle.
// Idempotent; safe in any state, including before Start. Must be called on
// explicit logout so a stale monitor cannot fire after the user left.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	if m.graceTimer != nil {
		m.graceTimer.Stop()
		m.graceTimer = nil
	}
	m.state = StateIdle
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// State reports the current lifecycle state.
func (m *SessionMonitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// handleChange runs on the subscription goroutine with the latest record.
func (m *SessionMonitor) handleChange(rec *domain.SessionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateWatching {
		// Either already evicting (one timer is enough; fire-time re-read
		// decides) or stopped.
		return
	}
	if rec == nil || rec.SessionToken == "" || rec.SessionToken == m.localToken {
		return
	}
	m.state = StateConflictDetected
	log.Printf("guard: session takeover detected for user %s, evicting in %s", m.userID, m.grace)
	m.graceTimer = time.AfterFunc(m.grace, m.fire)
	m.state = StateEvicting
}

// fire enforces the eviction after the grace window. The current document is
// re-read: when the token meanwhile matches the local one again, the conflict
// was superseded and the monitor returns to watching.
func (m *SessionMonitor) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	rec, err := m.sessions.Get(ctx, m.userID)
	cancel()

	m.mu.Lock()
	if m.state != StateEvicting {
		m.mu.Unlock()
		return
	}
	m.graceTimer = nil
	if err != nil {
		// The conflict was observed and the grace window has elapsed; a read
		// failure now must not leave two live sessions.
		log.Printf("guard: re-read before eviction failed, enforcing anyway: %v", err)
	} else if rec != nil && rec.SessionToken == m.localToken {
		log.Printf("guard: conflicting session for user %s was superseded, resuming watch", m.userID)
		m.state = StateWatching
		m.mu.Unlock()
		return
	}
	m.state = StateTerminated
	unsub := m.unsubscribe
	m.unsubscribe = nil
	onEvict := m.onEvict
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if onEvict != nil {
		onEvict()
	}
}
