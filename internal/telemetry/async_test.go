package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []*EvictionEvent
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, event *EvictionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return r.err
}

func (r *recordingEmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestNewEvictionEvent_PopulatesIdentityAndTime(t *testing.T) {
	ev := NewEvictionEvent("u1", "tok", "conflict", 4)
	if ev.UserID != "u1" || ev.SessionToken != "tok" || ev.Reason != "conflict" || ev.KickCount != 4 {
		t.Errorf("event = %+v", ev)
	}
	if ev.ID == "" {
		t.Error("missing event ID")
	}
	if ev.CreatedAt.IsZero() {
		t.Error("missing timestamp")
	}
	if NewEvictionEvent("u1", "tok", "conflict", 0).ID == ev.ID {
		t.Error("event IDs are not unique")
	}
}

func TestEmitAsync_DeliversWithoutBlockingCaller(t *testing.T) {
	rec := &recordingEmitter{}
	ev := NewEvictionEvent("u1", "tok", "inactive", 1)

	EmitAsync(rec, ev)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event never delivered")
}

func TestEmitAsync_NilEmitterOrEventIsNoop(t *testing.T) {
	EmitAsync(nil, NewEvictionEvent("u1", "tok", "conflict", 1))
	rec := &recordingEmitter{}
	EmitAsync(rec, nil)
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("emitted %d events for nil input", rec.count())
	}
}

func TestEmitAsync_EmitterErrorIsSwallowed(t *testing.T) {
	rec := &recordingEmitter{err: errors.New("collector down")}
	EmitAsync(rec, NewEvictionEvent("u1", "tok", "conflict", 1))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("failing emitter was never invoked")
}
