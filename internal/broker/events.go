package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"escrow-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// NotificationPublisher fans escrow lifecycle events out to the notification
// topic. Delivery is best-effort: callers log failures and never let a
// publish error block a ledger mutation.
type NotificationPublisher struct {
	producer *Producer
}

// NewNotificationPublisher creates a new notification publisher
func NewNotificationPublisher(producer *Producer) *NotificationPublisher {
	return &NotificationPublisher{producer: producer}
}

// PublishEscrowFunded publishes EscrowFunded
func (np *NotificationPublisher) PublishEscrowFunded(ctx context.Context, event *models.EscrowFundedEvent) error {
	return np.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPayoutInitiated publishes PayoutInitiated
func (np *NotificationPublisher) PublishPayoutInitiated(ctx context.Context, event *models.PayoutInitiatedEvent) error {
	return np.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPayoutReleased publishes PayoutReleased
func (np *NotificationPublisher) PublishPayoutReleased(ctx context.Context, event *models.PayoutReleasedEvent) error {
	return np.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishPayoutFailed publishes PayoutFailed
func (np *NotificationPublisher) PublishPayoutFailed(ctx context.Context, event *models.PayoutFailedEvent) error {
	return np.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

// PublishEscrowRefunded publishes EscrowRefunded
func (np *NotificationPublisher) PublishEscrowRefunded(ctx context.Context, event *models.EscrowRefundedEvent) error {
	return np.producer.PublishEvent(ctx, bookingKey(event.BookingID), event)
}

func bookingKey(bookingID int64) string {
	return fmt.Sprintf("booking-%d", bookingID)
}

// BookingEventHandler routes booking-subsystem events to registered handlers
type BookingEventHandler struct {
	onCreated           func(context.Context, *models.BookingEvent) error
	onProviderCompleted func(context.Context, *models.BookingEvent) error
	onClientConfirmed   func(context.Context, *models.BookingEvent) error
	onCancelled         func(context.Context, *models.BookingEvent) error
}

// NewBookingEventHandler creates a new booking event handler
func NewBookingEventHandler() *BookingEventHandler {
	return &BookingEventHandler{}
}

// OnCreated registers a handler for booking creation
func (bh *BookingEventHandler) OnCreated(handler func(context.Context, *models.BookingEvent) error) {
	bh.onCreated = handler
}

// OnProviderCompleted registers a handler for provider-marked completion
func (bh *BookingEventHandler) OnProviderCompleted(handler func(context.Context, *models.BookingEvent) error) {
	bh.onProviderCompleted = handler
}

// OnClientConfirmed registers a handler for client completion confirmation
func (bh *BookingEventHandler) OnClientConfirmed(handler func(context.Context, *models.BookingEvent) error) {
	bh.onClientConfirmed = handler
}

// OnCancelled registers a handler for booking cancellation
func (bh *BookingEventHandler) OnCancelled(handler func(context.Context, *models.BookingEvent) error) {
	bh.onCancelled = handler
}

// HandleMessage routes messages to the appropriate handler
func (bh *BookingEventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal booking event: %w", err)
	}

	log.Printf("Handling booking event: type=%s, id=%s", event.EventType, event.EventID)

	switch event.EventType {
	case models.EventTypeBookingCreated:
		if bh.onCreated != nil {
			return bh.onCreated(ctx, &event)
		}

	case models.EventTypeBookingProviderCompleted:
		if bh.onProviderCompleted != nil {
			return bh.onProviderCompleted(ctx, &event)
		}

	case models.EventTypeBookingClientConfirmed:
		if bh.onClientConfirmed != nil {
			return bh.onClientConfirmed(ctx, &event)
		}

	case models.EventTypeBookingCancelled:
		if bh.onCancelled != nil {
			return bh.onCancelled(ctx, &event)
		}

	default:
		log.Printf("Unhandled booking event type: %s", event.EventType)
	}

	return nil
}
