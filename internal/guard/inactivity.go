package guard

import (
	"sync"
	"time"
)

// InactivityMonitor enforces a fixed idle timeout independent of the session
// conflict mechanism: any activity signal resets a single countdown, and when
// the countdown expires onTimeout runs exactly once.
//
// The host forwards every user-input signal (pointer, keyboard, touch, scroll)
// to Activity, regardless of which part of the UI received it.
type InactivityMonitor struct {
	mu        sync.Mutex
	duration  time.Duration
	onTimeout func()
	timer     *time.Timer
	active    bool
}

// NewInactivityMonitor returns a stopped monitor.
func NewInactivityMonitor() *InactivityMonitor {
	return &InactivityMonitor{}
}

// Start arms the countdown with idle and registers onTimeout. Calling Start
// while active rearms with the new values.
func (m *InactivityMonitor) Start(idle time.Duration, onTimeout func()) {
	m.mu.Lock()
	m.stopLocked()
	m.duration = idle
	m.onTimeout = onTimeout
	m.active = true
	m.timer = time.AfterFunc(idle, m.fire)
	m.mu.Unlock()
}

// Activity resets the countdown to the full window. No-op when stopped.
func (m *InactivityMonitor) Activity() {
	m.mu.Lock()
	if m.active && m.timer != nil {
		m.timer.Reset(m.duration)
	}
	m.mu.Unlock()
}

// SetDuration reconfigures the idle window; when active the countdown restarts
// immediately with the new duration. Intended for configuration and tests.
func (m *InactivityMonitor) SetDuration(d time.Duration) {
	m.mu.Lock()
	m.duration = d
	if m.active && m.timer != nil {
		m.timer.Reset(d)
	}
	m.mu.Unlock()
}

// Stop cancels the countdown. Idempotent; safe before Start.
func (m *InactivityMonitor) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

func (m *InactivityMonitor) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.active = false
}

func (m *InactivityMonitor) fire() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	f := m.onTimeout
	m.stopLocked()
	m.mu.Unlock()
	if f != nil {
		f()
	}
}
