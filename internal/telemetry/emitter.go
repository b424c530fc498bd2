// Package telemetry emits eviction events for observability. Emission is
// best-effort everywhere: an unreachable collector never blocks or delays a
// forced logout.
package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EvictionEvent records one forced logout: who was kicked, which token lost,
// why, and the running kick count for the account.
type EvictionEvent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	SessionToken string    `json:"sessionToken"`
	Reason       string    `json:"reason"` // "conflict" or "inactive"
	KickCount    int64     `json:"kickCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewEvictionEvent builds an event with a fresh ID and the current time.
func NewEvictionEvent(userID, sessionToken, reason string, kickCount int64) *EvictionEvent {
	return &EvictionEvent{
		ID:           uuid.New().String(),
		UserID:       userID,
		SessionToken: sessionToken,
		Reason:       reason,
		KickCount:    kickCount,
		CreatedAt:    time.Now().UTC(),
	}
}

// EventEmitter emits eviction events (e.g. to OTel logs or Kafka).
// Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *EvictionEvent) error
}
