package broker

import (
	"context"
	"encoding/json"
	"testing"

	"escrow-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bookingMessage(t *testing.T, event models.BookingEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesByType(t *testing.T) {
	var got []string
	record := func(name string) func(context.Context, *models.BookingEvent) error {
		return func(ctx context.Context, e *models.BookingEvent) error {
			got = append(got, name+":"+e.EventID)
			return nil
		}
	}

	h := NewBookingEventHandler()
	h.OnCreated(record("created"))
	h.OnProviderCompleted(record("completed"))
	h.OnClientConfirmed(record("confirmed"))
	h.OnCancelled(record("cancelled"))

	for _, tc := range []struct {
		eventType string
		eventID   string
	}{
		{models.EventTypeBookingCreated, "e1"},
		{models.EventTypeBookingProviderCompleted, "e2"},
		{models.EventTypeBookingClientConfirmed, "e3"},
		{models.EventTypeBookingCancelled, "e4"},
	} {
		msg := bookingMessage(t, models.BookingEvent{
			BaseEvent: models.BaseEvent{EventID: tc.eventID, EventType: tc.eventType},
			BookingID: 1,
		})
		require.NoError(t, h.HandleMessage(context.Background(), msg))
	}

	assert.Equal(t, []string{"created:e1", "completed:e2", "confirmed:e3", "cancelled:e4"}, got)
}

func TestHandleMessageIgnoresUnknownType(t *testing.T) {
	h := NewBookingEventHandler()
	msg := bookingMessage(t, models.BookingEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: "BOOKING_RESCHEDULED"},
	})
	assert.NoError(t, h.HandleMessage(context.Background(), msg))
}

func TestHandleMessageRejectsMalformedPayload(t *testing.T) {
	h := NewBookingEventHandler()
	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
