package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"playback-control-plane/backend/internal/telemetry"
	"playback-control-plane/backend/internal/telemetry/domain"
)

// recordEmitter is the subset of otellog.Logger used by the emitter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("playback.arbiter")}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.PlaybackEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the playback event to an OTel log record and emits it.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.PlaybackEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.OccurredAt.IsZero() {
		rec.SetTimestamp(event.OccurredAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(string(event.Type)))
	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	if event.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", event.UserID))
	}
	if event.LeaseID != "" {
		rec.AddAttributes(otellog.String("lease_id", event.LeaseID))
	}
	if event.DeviceClass != "" {
		rec.AddAttributes(otellog.String("device_class", event.DeviceClass))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if event.Type == domain.EventLeaseClosed || event.Type == domain.EventLeasePreempted || event.Type == domain.EventLeaseExpired {
		rec.AddAttributes(otellog.Int64("duration_seconds", event.DurationSeconds))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
