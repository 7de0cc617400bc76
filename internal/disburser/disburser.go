package disburser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"escrow-service/config"
	"escrow-service/internal/gateway"
	"escrow-service/internal/ledger"
	"escrow-service/internal/models"
	"escrow-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const lockTTL = 2 * time.Minute

// Store is the persistence surface the disburser depends on.
type Store interface {
	GetEscrowEntryByID(ctx context.Context, id int64) (*models.EscrowEntry, error)
	GetBookingByID(ctx context.Context, id int64) (*models.Booking, error)
	GetRecipientByProviderID(ctx context.Context, providerID int64) (*models.PayoutRecipient, error)
	UpsertRecipient(ctx context.Context, recipient *models.PayoutRecipient) error
	ApplyEntryMutation(ctx context.Context, entryID int64, mutate func(entry *models.EscrowEntry) error) (*models.EscrowEntry, error)
}

// Locker serializes payout episodes per entry across processes.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Notifier publishes payout failure notifications.
type Notifier interface {
	PublishPayoutFailed(ctx context.Context, event *models.PayoutFailedEvent) error
}

// Disburser initiates transfers for entries in PROCESSING_RELEASE. It only
// starts transfers; confirmation arrives asynchronously via webhooks or the
// reconciliation sweep.
type Disburser struct {
	store    Store
	gateway  gateway.Gateway
	locker   Locker
	notifier Notifier
	cfg      config.EscrowConfig
	logger   *zap.Logger

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(time.Duration)
}

// New creates a disburser
func New(store Store, gw gateway.Gateway, locker Locker, notifier Notifier, cfg config.EscrowConfig) *Disburser {
	return &Disburser{
		store:    store,
		gateway:  gw,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   util.GetLogger(),
		sleep:    time.Sleep,
	}
}

// Disburse starts a payout episode for entryID without blocking the caller.
func (d *Disburser) Disburse(ctx context.Context, entryID int64) {
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := d.Run(runCtx, entryID); err != nil {
			d.logger.Error("Disbursement episode failed",
				zap.Int64("entry_id", entryID),
				zap.Error(err))
		}
	}()
}

// Run executes one disbursement episode synchronously: resolve the payout
// destination, then attempt the transfer under the bounded retry policy.
// Every attempt in the episode reuses the entry's idempotency key, so a
// retried call after a dropped response cannot create a second transfer.
func (d *Disburser) Run(ctx context.Context, entryID int64) error {
	lockKey := fmt.Sprintf("payout:%d", entryID)
	acquired, err := d.locker.AcquireLock(ctx, lockKey, lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire payout lock: %w", err)
	}
	if !acquired {
		d.logger.Info("Payout episode already in flight, skipping",
			zap.Int64("entry_id", entryID))
		return nil
	}
	defer func() {
		if err := d.locker.ReleaseLock(ctx, lockKey); err != nil {
			d.logger.Warn("Failed to release payout lock", zap.Error(err))
		}
	}()

	entry, err := d.store.GetEscrowEntryByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != models.EscrowStatusProcessingRelease {
		d.logger.Info("Entry no longer awaiting release, skipping",
			zap.Int64("entry_id", entryID),
			zap.String("status", entry.Status))
		return nil
	}
	if entry.IdempotencyKey == "" {
		return fmt.Errorf("entry %d has no idempotency key", entryID)
	}

	booking, err := d.store.GetBookingByID(ctx, entry.BookingID)
	if err != nil {
		return err
	}

	recipientCode, err := d.resolveRecipient(ctx, booking.ProviderID)
	if err != nil {
		return d.fail(ctx, entry, booking, fmt.Sprintf("no payout destination: %v", err))
	}

	reason := fmt.Sprintf("Payout for booking %d (%s)", booking.ID, booking.ServiceName)

	for entry.Attempts < d.cfg.PayoutMaxAttempts {
		attempt := entry.Attempts + 1

		entry, err = d.store.ApplyEntryMutation(ctx, entry.ID, func(e *models.EscrowEntry) error {
			e.Attempts = attempt
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to record attempt: %w", err)
		}

		util.PayoutAttemptsTotal.Inc()
		d.logger.Info("Executing transfer",
			zap.Int64("entry_id", entry.ID),
			zap.Int("attempt", attempt),
			zap.String("idempotency_key", entry.IdempotencyKey))

		transferCode, terr := d.gateway.ExecuteTransfer(ctx, recipientCode, entry.ProviderPayout, entry.IdempotencyKey, reason)
		if terr == nil {
			util.PayoutsInitiatedTotal.Inc()

			if _, err := d.store.ApplyEntryMutation(ctx, entry.ID, func(e *models.EscrowEntry) error {
				e.TransferReference = transferCode
				e.LastError = ""
				return nil
			}); err != nil {
				d.logger.Error("Failed to record transfer code", zap.Error(err))
			}

			d.logger.Info("Transfer accepted for processing",
				zap.Int64("entry_id", entry.ID),
				zap.String("transfer_code", transferCode))
			return nil
		}

		if !gateway.IsTransient(terr) {
			util.PayoutsFailedTotal.WithLabelValues("permanent").Inc()
			return d.fail(ctx, entry, booking, terr.Error())
		}

		d.logger.Warn("Transient transfer failure",
			zap.Int64("entry_id", entry.ID),
			zap.Int("attempt", attempt),
			zap.Error(terr))

		updated, uerr := d.store.ApplyEntryMutation(ctx, entry.ID, func(e *models.EscrowEntry) error {
			e.LastError = terr.Error()
			return nil
		})
		if uerr != nil {
			d.logger.Error("Failed to record attempt error", zap.Error(uerr))
		} else {
			entry = updated
		}

		if attempt < d.cfg.PayoutMaxAttempts {
			d.sleep(d.backoff(attempt))
		}
	}

	util.PayoutsFailedTotal.WithLabelValues("retries_exhausted").Inc()
	return d.fail(ctx, entry, booking, fmt.Sprintf("retries exhausted after %d attempts: %s", entry.Attempts, entry.LastError))
}

// backoff doubles the base delay per attempt, capped, with up to 50% jitter.
func (d *Disburser) backoff(attempt int) time.Duration {
	delay := d.cfg.PayoutBackoffBase << uint(attempt-1)
	if delay > d.cfg.PayoutBackoffCap {
		delay = d.cfg.PayoutBackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

// resolveRecipient returns the provider's gateway recipient code, registering
// the destination with the gateway on first use.
func (d *Disburser) resolveRecipient(ctx context.Context, providerID int64) (string, error) {
	recipient, err := d.store.GetRecipientByProviderID(ctx, providerID)
	if err != nil {
		return "", err
	}
	if recipient == nil {
		return "", fmt.Errorf("provider %d has no registered payout destination", providerID)
	}
	if recipient.RecipientCode != "" {
		return recipient.RecipientCode, nil
	}

	code, err := d.gateway.CreateTransferRecipient(ctx,
		fmt.Sprintf("provider-%d", providerID), recipient.BankCode, recipient.AccountNumber)
	if err != nil {
		return "", fmt.Errorf("failed to create transfer recipient: %w", err)
	}

	recipient.RecipientCode = code
	if err := d.store.UpsertRecipient(ctx, recipient); err != nil {
		d.logger.Error("Failed to persist recipient code", zap.Error(err))
	}
	return code, nil
}

// fail terminates the episode: PROCESSING_RELEASE -> FAILED with the reason
// recorded, and notifies. Operators can requeue with a fresh key.
func (d *Disburser) fail(ctx context.Context, entry *models.EscrowEntry, booking *models.Booking, reason string) error {
	_, err := d.store.ApplyEntryMutation(ctx, entry.ID, func(e *models.EscrowEntry) error {
		to, _, terr := ledger.Transition(e.Status, ledger.EventTransferFailed)
		if terr != nil {
			return terr
		}
		e.Status = to
		e.LastError = reason
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}

	util.LedgerTransitionsTotal.WithLabelValues(models.EscrowStatusFailed).Inc()
	d.logger.Error("Payout failed",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("booking_id", booking.ID),
		zap.String("reason", reason))

	event := &models.PayoutFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePayoutFailed,
			Timestamp: time.Now().UTC(),
		},
		BookingID:  booking.ID,
		ProviderID: booking.ProviderID,
		Reason:     reason,
	}
	if nerr := d.notifier.PublishPayoutFailed(ctx, event); nerr != nil {
		d.logger.Error("Failed to publish payout failure notification", zap.Error(nerr))
	}
	return nil
}
