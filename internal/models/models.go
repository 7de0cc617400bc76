package models

import "time"

// Booking represents a scheduled service engagement between a client and a provider.
type Booking struct {
	ID                    int64      `db:"id" json:"id"`
	ClientID              int64      `db:"client_id" json:"client_id"`
	ProviderID            int64      `db:"provider_id" json:"provider_id"`
	ServiceName           string     `db:"service_name" json:"service_name"`
	ScheduledAt           time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Address               string     `db:"address" json:"address"`
	Status                string     `db:"status" json:"status"`
	TotalAmount           int64      `db:"total_amount" json:"total_amount"`
	PlatformFee           int64      `db:"platform_fee" json:"platform_fee"`
	CompletedByProviderAt *time.Time `db:"completed_by_provider_at" json:"completed_by_provider_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// EscrowEntry is the authoritative record of funds held for a booking.
// AmountHeld is always PlatformFee + ProviderPayout.
type EscrowEntry struct {
	ID                int64     `db:"id" json:"id"`
	BookingID         int64     `db:"booking_id" json:"booking_id"`
	AmountHeld        int64     `db:"amount_held" json:"amount_held"`
	PlatformFee       int64     `db:"platform_fee" json:"platform_fee"`
	ProviderPayout    int64     `db:"provider_payout" json:"provider_payout"`
	Currency          string    `db:"currency" json:"currency"`
	Status            string    `db:"status" json:"status"`
	ChargeReference   string    `db:"charge_reference" json:"charge_reference"`
	TransferReference string    `db:"transfer_reference" json:"transfer_reference,omitempty"`
	IdempotencyKey    string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Attempts          int       `db:"attempts" json:"attempts"`
	LastError         string    `db:"last_error" json:"last_error,omitempty"`
	Version           int64     `db:"version" json:"version"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// WebhookEvent is the durable log of every inbound gateway notification.
// (event_type, external_reference) is the natural dedup key.
type WebhookEvent struct {
	ID                int64      `db:"id" json:"id"`
	EventType         string     `db:"event_type" json:"event_type"`
	ExternalReference string     `db:"external_reference" json:"external_reference"`
	Payload           string     `db:"payload" json:"payload"`
	Processed         bool       `db:"processed" json:"processed"`
	ErrorNote         string     `db:"error_note" json:"error_note,omitempty"`
	RetryCount        int        `db:"retry_count" json:"retry_count"`
	ReceivedAt        time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt       *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// PayoutRecipient maps a provider to their gateway transfer recipient.
type PayoutRecipient struct {
	ProviderID    int64     `db:"provider_id" json:"provider_id"`
	BankCode      string    `db:"bank_code" json:"bank_code"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	RecipientCode string    `db:"recipient_code" json:"recipient_code"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Booking statuses
const (
	BookingStatusRequested  = "REQUESTED"
	BookingStatusConfirmed  = "CONFIRMED"
	BookingStatusInProgress = "IN_PROGRESS"
	BookingStatusCompleted  = "COMPLETED"
	BookingStatusCancelled  = "CANCELLED"
)

// Escrow entry statuses
const (
	EscrowStatusPending           = "PENDING"
	EscrowStatusEscrow            = "ESCROW"
	EscrowStatusProcessingRelease = "PROCESSING_RELEASE"
	EscrowStatusReleased          = "RELEASED"
	EscrowStatusFailed            = "FAILED"
	EscrowStatusRefunded          = "REFUNDED"
)

// Gateway webhook event types
const (
	WebhookChargeSuccess    = "charge.success"
	WebhookTransferSuccess  = "transfer.success"
	WebhookTransferFailed   = "transfer.failed"
	WebhookTransferReversed = "transfer.reversed"
)

// ProcessedEvent provides durable idempotency for broker event handlers.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
