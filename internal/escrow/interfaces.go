package escrow

import (
	"context"

	"escrow-service/internal/models"
)

// Store is the persistence surface the escrow service depends on.
type Store interface {
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error

	CreateEscrowEntry(ctx context.Context, entry *models.EscrowEntry) error
	GetEscrowEntryByID(ctx context.Context, id int64) (*models.EscrowEntry, error)
	GetEscrowEntryByBookingID(ctx context.Context, bookingID int64) (*models.EscrowEntry, error)
	GetEscrowEntryByChargeReference(ctx context.Context, reference string) (*models.EscrowEntry, error)
	GetEscrowEntryByIdempotencyKey(ctx context.Context, key string) (*models.EscrowEntry, error)
	ApplyEntryMutation(ctx context.Context, entryID int64, mutate func(entry *models.EscrowEntry) error) (*models.EscrowEntry, error)
}

// Notifier is the fan-out surface for lifecycle notifications. Failures are
// logged by callers and never block a ledger mutation.
type Notifier interface {
	PublishEscrowFunded(ctx context.Context, event *models.EscrowFundedEvent) error
	PublishPayoutInitiated(ctx context.Context, event *models.PayoutInitiatedEvent) error
	PublishPayoutReleased(ctx context.Context, event *models.PayoutReleasedEvent) error
	PublishPayoutFailed(ctx context.Context, event *models.PayoutFailedEvent) error
	PublishEscrowRefunded(ctx context.Context, event *models.EscrowRefundedEvent) error
}

// PayoutInitiator starts a disbursement episode for an entry already moved to
// PROCESSING_RELEASE.
type PayoutInitiator interface {
	Disburse(ctx context.Context, entryID int64)
}
