package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"trading-session-guard/internal/docstore"
	"trading-session-guard/internal/session/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mem := docstore.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	return NewStore(mem)
}

func TestStore_Create_ThenGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-aaaa"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil {
		t.Fatal("Get returned nil for existing session")
	}
	if rec.SessionToken != "tok-aaaa" || rec.UserID != "u1" || rec.UserEmail != "u1@example.com" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.IsActive {
		t.Error("new session should be active")
	}
	if rec.CreatedAt.IsZero() || rec.LastHeartbeat.IsZero() {
		t.Error("server timestamps not resolved on create")
	}
	if rec.EndedAt != nil {
		t.Errorf("EndedAt = %v, want nil", rec.EndedAt)
	}
}

func TestStore_Get_ReturnsNilWhenAbsent(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}

func TestStore_Create_ReplacesExistingSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-old"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.End(ctx, "u1", "tok-old"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := store.Create(ctx, "u1", "u1@example.com", "tok-new"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, _ := store.Get(ctx, "u1")
	if rec.SessionToken != "tok-new" {
		t.Errorf("token = %q, want tok-new", rec.SessionToken)
	}
	if !rec.IsActive || rec.EndedAt != nil {
		t.Error("replacement create must not inherit ended state")
	}
}

func TestStore_Heartbeat_RefreshesOnlyLiveness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-aaaa"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	before, _ := store.Get(ctx, "u1")

	time.Sleep(5 * time.Millisecond)
	if err := store.Heartbeat(ctx, "u1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	after, _ := store.Get(ctx, "u1")
	if !after.LastHeartbeat.After(before.LastHeartbeat) {
		t.Errorf("LastHeartbeat %v not after %v", after.LastHeartbeat, before.LastHeartbeat)
	}
	if after.SessionToken != before.SessionToken || !after.CreatedAt.Equal(before.CreatedAt) {
		t.Error("heartbeat must not touch token or createdAt")
	}
}

func TestStore_End_RefusesWhenTokenSuperseded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-new"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The evicted client tries to end with its stale token.
	ended, err := store.End(ctx, "u1", "tok-old")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended {
		t.Error("End with stale token reported success")
	}
	rec, _ := store.Get(ctx, "u1")
	if !rec.IsActive {
		t.Error("stale End clobbered the new session")
	}
}

func TestStore_End_MarksOwnSessionInactive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-aaaa"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ended, err := store.End(ctx, "u1", "tok-aaaa")
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if !ended {
		t.Fatal("End with owning token reported failure")
	}

	rec, _ := store.Get(ctx, "u1")
	if rec.IsActive {
		t.Error("session still active after End")
	}
	if rec.EndedAt == nil {
		t.Error("EndedAt not set")
	}
	if rec.SessionToken != "tok-aaaa" {
		t.Error("End must keep the token for post-mortem reads")
	}
}

func TestStore_Watch_ObservesTakeover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-a"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var mu sync.Mutex
	var last *domain.SessionRecord
	unsub, err := store.Watch("u1", func(rec *domain.SessionRecord) {
		mu.Lock()
		last = rec
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer unsub()

	if err := store.Create(ctx, "u1", "u1@example.com", "tok-b"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		tok := ""
		if last != nil {
			tok = last.SessionToken
		}
		mu.Unlock()
		if tok == "tok-b" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("watcher never observed the takeover write")
}

func TestStore_RecordKick_CountsAndNeverLocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.RecordKick(ctx, "u1"); err != nil {
			t.Fatalf("RecordKick: %v", err)
		}
	}

	rec, err := store.GetLockout(ctx, "u1")
	if err != nil {
		t.Fatalf("GetLockout: %v", err)
	}
	if rec == nil {
		t.Fatal("no lockout record after kicks")
	}
	if rec.KickCount != 3 {
		t.Errorf("KickCount = %d, want 3", rec.KickCount)
	}
	if rec.IsLocked {
		t.Error("kicks must never lock the account")
	}
	if rec.FirstKickAt == nil || rec.LastKickAt == nil {
		t.Fatal("kick timestamps not set")
	}
	if rec.LastKickAt.Before(*rec.FirstKickAt) {
		t.Errorf("LastKickAt %v before FirstKickAt %v", rec.LastKickAt, rec.FirstKickAt)
	}
}

func TestStore_RecordKick_PreservesFirstKickAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordKick(ctx, "u1"); err != nil {
		t.Fatalf("RecordKick: %v", err)
	}
	first, _ := store.GetLockout(ctx, "u1")

	time.Sleep(5 * time.Millisecond)
	if err := store.RecordKick(ctx, "u1"); err != nil {
		t.Fatalf("RecordKick: %v", err)
	}
	second, _ := store.GetLockout(ctx, "u1")

	if !second.FirstKickAt.Equal(*first.FirstKickAt) {
		t.Errorf("FirstKickAt moved from %v to %v", first.FirstKickAt, second.FirstKickAt)
	}
}

func TestStore_GetLockout_ReturnsNilWhenNeverKicked(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.GetLockout(context.Background(), "clean")
	if err != nil {
		t.Fatalf("GetLockout: %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %+v, want nil", rec)
	}
}
