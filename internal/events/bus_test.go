package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pos/internal/events"
)

type captureNotifier struct {
	events []events.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestEmitFansOut(t *testing.T) {
	first := &captureNotifier{}
	second := &captureNotifier{}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	bus := &events.Bus{
		Notifiers: []events.Notifier{first, second},
		Now:       func() time.Time { return now },
	}

	ev, err := bus.Emit(context.Background(), events.TopicSaleCompleted, "sess-1", map[string]any{
		"sale_number": "SALE-000042",
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Equal(t, events.TopicSaleCompleted, ev.Topic)
	require.Equal(t, "sess-1", ev.SessionID)
	require.Equal(t, now, ev.OccurredAt)

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(first.events[0].Payload, &payload))
	require.Equal(t, "SALE-000042", payload["sale_number"])
}

func TestEmitRequiresTopic(t *testing.T) {
	bus := &events.Bus{}
	_, err := bus.Emit(context.Background(), "  ", "s", nil)
	require.Error(t, err)
}

func TestEmitJoinsNotifierErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &captureNotifier{err: boom}
	ok := &captureNotifier{}
	bus := &events.Bus{Notifiers: []events.Notifier{failing, ok}}

	_, err := bus.Emit(context.Background(), events.TopicSaleRejected, "s", nil)
	require.ErrorIs(t, err, boom)
	require.Len(t, ok.events, 1, "later notifiers still run")
}

func TestEmitNilPayload(t *testing.T) {
	capture := &captureNotifier{}
	bus := &events.Bus{Notifiers: []events.Notifier{capture}}

	ev, err := bus.Emit(context.Background(), events.TopicSessionOpened, "s", nil)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(ev.Payload))
}
