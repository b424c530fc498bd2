package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trading-session-guard/internal/docstore"
	"trading-session-guard/internal/session"
)

// flakyStore wraps a MemoryStore and fails SetDocument while failing is set.
type flakyStore struct {
	*docstore.MemoryStore

	mu      sync.Mutex
	failing bool
	writes  int
}

func (f *flakyStore) SetDocument(ctx context.Context, collection, id string, fields docstore.Fields, merge bool) error {
	f.mu.Lock()
	f.writes++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("store unavailable")
	}
	return f.MemoryStore.SetDocument(ctx, collection, id, fields, merge)
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestHeartbeatEmitter_RefreshesLiveness(t *testing.T) {
	mem := docstore.NewMemoryStore()
	defer mem.Close()
	sessions := session.NewStore(mem)
	ctx := context.Background()

	if err := sessions.Create(ctx, "u1", "u1@example.com", "tok"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, _ := sessions.Get(ctx, "u1")

	h := NewHeartbeatEmitter(sessions, 20*time.Millisecond)
	h.Start("u1")
	defer h.Stop()

	ok := waitUntil(t, 2*time.Second, func() bool {
		rec, err := sessions.Get(ctx, "u1")
		return err == nil && rec != nil && rec.LastHeartbeat.After(before.LastHeartbeat)
	})
	if !ok {
		t.Fatal("lastHeartbeat never advanced")
	}

	rec, _ := sessions.Get(ctx, "u1")
	if rec.SessionToken != "tok" {
		t.Error("heartbeat changed the session token")
	}
}

func TestHeartbeatEmitter_StopHaltsWrites(t *testing.T) {
	mem := docstore.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{MemoryStore: mem}
	sessions := session.NewStore(store)

	h := NewHeartbeatEmitter(sessions, 10*time.Millisecond)
	h.Start("u1")
	waitUntil(t, 2*time.Second, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.writes > 0
	})
	h.Stop()
	h.Stop() // idempotent

	store.mu.Lock()
	after := store.writes
	store.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	store.mu.Lock()
	final := store.writes
	store.mu.Unlock()
	if final != after {
		t.Errorf("writes continued after Stop: %d -> %d", after, final)
	}
}

func TestHeartbeatEmitter_KeepsTickingThroughWriteFailures(t *testing.T) {
	mem := docstore.NewMemoryStore()
	defer mem.Close()
	store := &flakyStore{MemoryStore: mem}
	sessions := session.NewStore(store)
	ctx := context.Background()

	if err := sessions.Create(ctx, "u1", "u1@example.com", "tok"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	store.setFailing(true)

	h := NewHeartbeatEmitter(sessions, 10*time.Millisecond)
	h.Start("u1")
	defer h.Stop()

	// Let several ticks fail, then recover; the next tick must go through
	// without any intervention.
	time.Sleep(60 * time.Millisecond)
	before, _ := sessions.Get(ctx, "u1")
	store.setFailing(false)

	ok := waitUntil(t, 2*time.Second, func() bool {
		rec, err := sessions.Get(ctx, "u1")
		return err == nil && rec != nil && rec.LastHeartbeat.After(before.LastHeartbeat)
	})
	if !ok {
		t.Fatal("heartbeat did not resume after transient failures")
	}
}
