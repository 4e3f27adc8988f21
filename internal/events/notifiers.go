package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pos/internal/obs"
)

// LogNotifier writes each event as a structured log line.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, event Event) error {
	n.Logger.Info().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("session_id", event.SessionID).
		RawJSON("payload", event.Payload).
		Time("occurred_at", event.OccurredAt).
		Msg("pos_event")
	return nil
}

// MetricsNotifier counts emitted events by topic.
type MetricsNotifier struct{}

// Notify implements Notifier.
func (MetricsNotifier) Notify(_ context.Context, event Event) error {
	if obs.PosEventsTotal != nil {
		obs.PosEventsTotal.WithLabelValues(event.Topic).Inc()
	}
	return nil
}
