package docstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_SetDocument_ReplaceDropsUnnamedFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"a": "1", "b": "2"}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"a": "3"}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}

	doc, err := store.GetDocument(ctx, "sessions", "u1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.String("a") != "3" {
		t.Errorf("a = %q, want %q", doc.String("a"), "3")
	}
	if _, ok := doc.Fields["b"]; ok {
		t.Error("replace write should drop field b")
	}
}

func TestMemoryStore_SetDocument_MergeKeepsUnnamedFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"a": "1", "b": "2"}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"a": "3"}, true); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}

	doc, err := store.GetDocument(ctx, "sessions", "u1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.String("a") != "3" {
		t.Errorf("a = %q, want %q", doc.String("a"), "3")
	}
	if doc.String("b") != "2" {
		t.Errorf("b = %q, want %q", doc.String("b"), "2")
	}
}

func TestMemoryStore_GetDocument_ReturnsNilWhenAbsent(t *testing.T) {
	store := NewMemoryStore()

	doc, err := store.GetDocument(context.Background(), "sessions", "nope")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc != nil {
		t.Errorf("doc = %v, want nil", doc)
	}
}

func TestMemoryStore_ServerTimestamp_ResolvesToStoreClock(t *testing.T) {
	store := NewMemoryStore()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return fixed }

	if err := store.SetDocument(context.Background(), "sessions", "u1", Fields{"at": ServerTimestamp()}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	doc, _ := store.GetDocument(context.Background(), "sessions", "u1")
	if !doc.Time("at").Equal(fixed) {
		t.Errorf("at = %v, want %v", doc.Time("at"), fixed)
	}
}

func TestMemoryStore_Increment_AddsToPriorValue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.SetDocument(ctx, "lockouts", "u1", Fields{"kickCount": Increment(1)}, true); err != nil {
			t.Fatalf("SetDocument: %v", err)
		}
	}
	doc, _ := store.GetDocument(ctx, "lockouts", "u1")
	if doc.Int("kickCount") != 3 {
		t.Errorf("kickCount = %d, want 3", doc.Int("kickCount"))
	}
}

func TestMemoryStore_OnDocumentChange_DeliversInitialSnapshot(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"tok": "abc"}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}

	got := make(chan *Document, 1)
	unsub, err := store.OnDocumentChange("sessions", "u1", func(doc *Document) {
		select {
		case got <- doc:
		default:
		}
	})
	if err != nil {
		t.Fatalf("OnDocumentChange: %v", err)
	}
	defer unsub()

	select {
	case doc := <-got:
		if doc == nil || doc.String("tok") != "abc" {
			t.Errorf("initial snapshot = %v, want tok=abc", doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial snapshot delivered")
	}
}

func TestMemoryStore_OnDocumentChange_ObservesLatestValue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	var last string
	unsub, err := store.OnDocumentChange("sessions", "u1", func(doc *Document) {
		mu.Lock()
		if doc != nil {
			last = doc.String("tok")
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("OnDocumentChange: %v", err)
	}
	defer unsub()

	// Several rapid writes may coalesce; the subscriber must end on the latest.
	for _, tok := range []string{"a", "b", "c"} {
		if err := store.SetDocument(ctx, "sessions", "u1", Fields{"tok": tok}, false); err != nil {
			t.Fatalf("SetDocument: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		v := last
		mu.Unlock()
		if v == "c" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber never observed latest value, last = %q", last)
}

func TestMemoryStore_Unsubscribe_StopsDelivery(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	calls := make(chan struct{}, 16)
	unsub, err := store.OnDocumentChange("sessions", "u1", func(*Document) {
		calls <- struct{}{}
	})
	if err != nil {
		t.Fatalf("OnDocumentChange: %v", err)
	}

	<-calls // initial snapshot
	unsub()
	unsub() // idempotent

	if err := store.SetDocument(ctx, "sessions", "u1", Fields{"tok": "x"}, false); err != nil {
		t.Fatalf("SetDocument: %v", err)
	}
	select {
	case <-calls:
		t.Error("subscriber called after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDocument_Time_ParsesStringTimestamps(t *testing.T) {
	want := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	doc := &Document{Fields: Fields{"at": want.Format(time.RFC3339Nano)}}
	if !doc.Time("at").Equal(want) {
		t.Errorf("Time = %v, want %v", doc.Time("at"), want)
	}
}

func TestDocument_Accessors_ZeroValuesWhenAbsent(t *testing.T) {
	var doc *Document
	if doc.String("x") != "" || !doc.Time("x").IsZero() || doc.Bool("x") || doc.Int("x") != 0 {
		t.Error("nil document accessors should return zero values")
	}
}
