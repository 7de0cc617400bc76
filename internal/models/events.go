package models

import "time"

// Notification event types published to the fan-out topic
const (
	EventTypeEscrowFunded    = "ESCROW_FUNDED"
	EventTypePayoutInitiated = "PAYOUT_INITIATED"
	EventTypePayoutReleased  = "PAYOUT_RELEASED"
	EventTypePayoutFailed    = "PAYOUT_FAILED"
	EventTypeEscrowRefunded  = "ESCROW_REFUNDED"
)

// Booking subsystem event types consumed from the booking topic
const (
	EventTypeBookingCreated           = "BOOKING_CREATED"
	EventTypeBookingProviderCompleted = "BOOKING_PROVIDER_COMPLETED"
	EventTypeBookingClientConfirmed   = "BOOKING_CLIENT_CONFIRMED"
	EventTypeBookingCancelled         = "BOOKING_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// EscrowFundedEvent published when a charge is confirmed held
type EscrowFundedEvent struct {
	BaseEvent
	BookingID       int64  `json:"booking_id"`
	ClientID        int64  `json:"client_id"`
	ProviderID      int64  `json:"provider_id"`
	AmountHeld      int64  `json:"amount_held"`
	Currency        string `json:"currency"`
	ChargeReference string `json:"charge_reference"`
}

// PayoutInitiatedEvent published when a transfer episode begins
type PayoutInitiatedEvent struct {
	BaseEvent
	BookingID      int64  `json:"booking_id"`
	ProviderID     int64  `json:"provider_id"`
	ProviderPayout int64  `json:"provider_payout"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PayoutReleasedEvent published when a transfer is confirmed
type PayoutReleasedEvent struct {
	BaseEvent
	BookingID         int64  `json:"booking_id"`
	ProviderID        int64  `json:"provider_id"`
	ProviderPayout    int64  `json:"provider_payout"`
	TransferReference string `json:"transfer_reference"`
}

// PayoutFailedEvent published when a transfer episode terminates without success
type PayoutFailedEvent struct {
	BaseEvent
	BookingID  int64  `json:"booking_id"`
	ProviderID int64  `json:"provider_id"`
	Reason     string `json:"reason"`
}

// EscrowRefundedEvent published when held funds are returned to the client
type EscrowRefundedEvent struct {
	BaseEvent
	BookingID int64  `json:"booking_id"`
	ClientID  int64  `json:"client_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// BookingEvent is the envelope consumed from the booking subsystem topic.
// Booking is populated on BOOKING_CREATED only.
type BookingEvent struct {
	BaseEvent
	BookingID int64    `json:"booking_id"`
	Booking   *Booking `json:"booking,omitempty"`
}
