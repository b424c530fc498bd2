package otel

import (
	"context"
	"strconv"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"trading-session-guard/internal/telemetry"
)

// NewEventEmitter returns an EventEmitter that sends eviction events as OTel
// log records via the given LoggerProvider. If provider is nil, returns a
// no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("session-guard.evictions")}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.EvictionEvent) error { return nil }

type otelEmitter struct {
	logger otellog.Logger
}

// Emit converts the eviction event to an OTel log record and emits it. Best-effort.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.EvictionEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue("session evicted: " + event.Reason))
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.SessionToken != "" {
		rec.AddAttributes(otellog.String("session_token", event.SessionToken))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	rec.AddAttributes(otellog.String("kick_count", strconv.FormatInt(event.KickCount, 10)))
	e.logger.Emit(ctx, rec)
	return nil
}
