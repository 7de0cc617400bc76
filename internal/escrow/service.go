package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-service/config"
	"escrow-service/internal/gateway"
	"escrow-service/internal/ledger"
	"escrow-service/internal/models"
	"escrow-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome classifies the result of applying an external event to the ledger.
type Outcome string

const (
	// OutcomeApplied means the ledger transitioned.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the event was a valid redelivery; no mutation.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeOrphan means no ledger entry matches the event's reference.
	OutcomeOrphan Outcome = "orphan"
	// OutcomeDiscarded means the event was authentic but rejected by the
	// state machine (stale idempotency key or illegal transition).
	OutcomeDiscarded Outcome = "discarded"
)

// ApplyResult reports what an event application did, with a note retained on
// the webhook record for events not applied.
type ApplyResult struct {
	Outcome Outcome
	Note    string
}

// Service orchestrates the escrow lifecycle: charge initialization, webhook
// and reconciliation apply, release, refund and operator requeue.
type Service struct {
	store       Store
	gateway     gateway.Gateway
	notifier    Notifier
	payouts     PayoutInitiator
	cfg         config.EscrowConfig
	callbackURL string
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a new escrow service
func NewService(store Store, gw gateway.Gateway, notifier Notifier, payouts PayoutInitiator, cfg config.EscrowConfig, callbackURL string) *Service {
	return &Service{
		store:       store,
		gateway:     gw,
		notifier:    notifier,
		payouts:     payouts,
		cfg:         cfg,
		callbackURL: callbackURL,
		logger:      util.GetLogger(),
		now:         time.Now,
	}
}

// InitializePaymentRequest starts the escrow lifecycle for a booking
type InitializePaymentRequest struct {
	BookingID int64  `json:"booking_id" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
}

// InitializePaymentResponse carries the checkout redirect and fee breakdown
type InitializePaymentResponse struct {
	AuthorizationURL string           `json:"authorization_url"`
	Reference        string           `json:"reference"`
	Breakdown        ledger.Breakdown `json:"breakdown"`
}

// InitializePayment computes the fee breakdown for a booking, initializes a
// charge with the gateway and creates the PENDING ledger entry. Calling it
// again for a booking with an active entry returns the existing charge
// instead of creating a second one.
func (s *Service) InitializePayment(ctx context.Context, req *InitializePaymentRequest) (*InitializePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "EscrowService.InitializePayment")
	defer span.End()

	booking, err := s.store.GetBookingByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status == models.BookingStatusCancelled {
		return nil, fmt.Errorf("booking %d is cancelled", booking.ID)
	}

	existing, err := s.store.GetEscrowEntryByBookingID(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing entry: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate payment initialization",
			zap.Int64("booking_id", booking.ID),
			zap.String("reference", existing.ChargeReference))
		return &InitializePaymentResponse{
			Reference: existing.ChargeReference,
			Breakdown: ledger.Breakdown{
				TotalAmount:    existing.AmountHeld,
				PlatformFee:    existing.PlatformFee,
				ProviderPayout: existing.ProviderPayout,
			},
		}, nil
	}

	breakdown, err := ledger.ComputeBreakdown(booking.TotalAmount, s.cfg.FeePercentage)
	if err != nil {
		return nil, err
	}

	reference := ledger.NewChargeReference(s.cfg.ReferencePrefix, s.now().UnixMilli())

	charge, err := s.gateway.InitializeCharge(ctx, gateway.InitializeChargeRequest{
		Amount:      breakdown.TotalAmount,
		Currency:    s.cfg.Currency,
		Reference:   reference,
		Email:       req.Email,
		CallbackURL: s.callbackURL,
		Metadata: map[string]string{
			"booking_id":   fmt.Sprintf("%d", booking.ID),
			"client_id":    fmt.Sprintf("%d", booking.ClientID),
			"service_name": booking.ServiceName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize charge: %w", err)
	}

	entry := &models.EscrowEntry{
		BookingID:       booking.ID,
		AmountHeld:      breakdown.TotalAmount,
		PlatformFee:     breakdown.PlatformFee,
		ProviderPayout:  breakdown.ProviderPayout,
		Currency:        s.cfg.Currency,
		Status:          models.EscrowStatusPending,
		ChargeReference: reference,
	}
	if err := s.store.CreateEscrowEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to create escrow entry: %w", err)
	}

	util.LedgerTransitionsTotal.WithLabelValues(models.EscrowStatusPending).Inc()
	s.logger.Info("Escrow entry created",
		zap.Int64("booking_id", booking.ID),
		zap.String("reference", reference),
		zap.Int64("amount", breakdown.TotalAmount))

	return &InitializePaymentResponse{
		AuthorizationURL: charge.AuthorizationURL,
		Reference:        reference,
		Breakdown:        breakdown,
	}, nil
}

// ApplyChargeSuccess moves the entry for reference from PENDING to ESCROW.
// Shared by webhook ingestion and the reconciliation sweep; redeliveries and
// out-of-order arrivals are absorbed by the state machine's no-op rules.
func (s *Service) ApplyChargeSuccess(ctx context.Context, reference string, amount int64) (ApplyResult, error) {
	ctx, span := util.StartSpan(ctx, "EscrowService.ApplyChargeSuccess")
	defer span.End()

	entry, err := s.store.GetEscrowEntryByChargeReference(ctx, reference)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to look up entry: %w", err)
	}
	if entry == nil {
		util.OrphanEventsTotal.Inc()
		s.logger.Warn("Orphan charge event", zap.String("reference", reference))
		return ApplyResult{Outcome: OutcomeOrphan, Note: "no ledger entry for charge reference"}, nil
	}

	if amount != entry.AmountHeld {
		s.logger.Error("Charge amount mismatch",
			zap.String("reference", reference),
			zap.Int64("expected", entry.AmountHeld),
			zap.Int64("got", amount))
		return ApplyResult{Outcome: OutcomeDiscarded, Note: "charge amount does not match ledger entry"}, nil
	}

	result, updated, err := s.applyEvent(ctx, entry.ID, ledger.EventChargeConfirmed, nil)
	if err != nil || result.Outcome != OutcomeApplied {
		return result, err
	}

	booking, err := s.store.GetBookingByID(ctx, updated.BookingID)
	if err != nil {
		s.logger.Error("Failed to load booking for notification", zap.Error(err))
		return result, nil
	}
	if err := s.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusConfirmed); err != nil {
		s.logger.Error("Failed to confirm booking", zap.Error(err))
	}

	s.notify(ctx, func() error {
		return s.notifier.PublishEscrowFunded(ctx, &models.EscrowFundedEvent{
			BaseEvent:       s.baseEvent(models.EventTypeEscrowFunded),
			BookingID:       booking.ID,
			ClientID:        booking.ClientID,
			ProviderID:      booking.ProviderID,
			AmountHeld:      updated.AmountHeld,
			Currency:        updated.Currency,
			ChargeReference: updated.ChargeReference,
		})
	})

	return result, nil
}

// ApplyTransferResult applies a transfer outcome identified by the episode's
// idempotency key. A key that matches no entry belongs to a superseded
// episode (or a foreign transfer) and is discarded without touching the
// ledger.
func (s *Service) ApplyTransferResult(ctx context.Context, idempotencyKey string, succeeded bool, transferCode, reason string) (ApplyResult, error) {
	ctx, span := util.StartSpan(ctx, "EscrowService.ApplyTransferResult")
	defer span.End()

	entry, err := s.store.GetEscrowEntryByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to look up entry: %w", err)
	}
	if entry == nil {
		s.logger.Warn("Transfer event for unknown idempotency key, discarding",
			zap.String("idempotency_key", idempotencyKey))
		return ApplyResult{Outcome: OutcomeDiscarded, Note: "idempotency key matches no in-flight payout"}, nil
	}

	event := ledger.EventTransferSucceeded
	if !succeeded {
		event = ledger.EventTransferFailed
	}

	result, updated, err := s.applyEvent(ctx, entry.ID, event, func(e *models.EscrowEntry) {
		if succeeded {
			e.TransferReference = transferCode
		} else if reason != "" {
			e.LastError = reason
		}
	})
	if err != nil || result.Outcome != OutcomeApplied {
		return result, err
	}

	booking, err := s.store.GetBookingByID(ctx, updated.BookingID)
	if err != nil {
		s.logger.Error("Failed to load booking for notification", zap.Error(err))
		return result, nil
	}

	if succeeded {
		s.notify(ctx, func() error {
			return s.notifier.PublishPayoutReleased(ctx, &models.PayoutReleasedEvent{
				BaseEvent:         s.baseEvent(models.EventTypePayoutReleased),
				BookingID:         booking.ID,
				ProviderID:        booking.ProviderID,
				ProviderPayout:    updated.ProviderPayout,
				TransferReference: transferCode,
			})
		})
	} else {
		util.PayoutsFailedTotal.WithLabelValues("gateway_reported").Inc()
		s.notify(ctx, func() error {
			return s.notifier.PublishPayoutFailed(ctx, &models.PayoutFailedEvent{
				BaseEvent:  s.baseEvent(models.EventTypePayoutFailed),
				BookingID:  booking.ID,
				ProviderID: booking.ProviderID,
				Reason:     reason,
			})
		})
	}

	return result, nil
}

// RequestRelease moves an ESCROW entry to PROCESSING_RELEASE with a fresh
// idempotency key and hands it to the disburser. Triggered by client
// confirmation or the auto-confirmation sweep.
func (s *Service) RequestRelease(ctx context.Context, bookingID int64) (*models.EscrowEntry, error) {
	ctx, span := util.StartSpan(ctx, "EscrowService.RequestRelease")
	defer span.End()

	entry, err := s.store.GetEscrowEntryByBookingID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("no escrow entry for booking %d", bookingID)
	}

	key := ledger.NewIdempotencyKey(bookingID, s.now().UnixMilli())

	result, updated, err := s.applyEvent(ctx, entry.ID, ledger.EventReleaseRequested, func(e *models.EscrowEntry) {
		e.IdempotencyKey = key
		e.Attempts = 0
		e.LastError = ""
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome != OutcomeApplied {
		return nil, &ledger.StateConflictError{From: entry.Status, Event: ledger.EventReleaseRequested}
	}

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err == nil {
		s.notify(ctx, func() error {
			return s.notifier.PublishPayoutInitiated(ctx, &models.PayoutInitiatedEvent{
				BaseEvent:      s.baseEvent(models.EventTypePayoutInitiated),
				BookingID:      bookingID,
				ProviderID:     booking.ProviderID,
				ProviderPayout: updated.ProviderPayout,
				IdempotencyKey: key,
			})
		})
	}

	s.logger.Info("Release requested",
		zap.Int64("booking_id", bookingID),
		zap.String("idempotency_key", key))

	s.payouts.Disburse(ctx, updated.ID)
	return updated, nil
}

// RequestRefund reverses held funds back to the client. The ledger only
// transitions after the gateway confirms the refund call.
func (s *Service) RequestRefund(ctx context.Context, bookingID int64) error {
	ctx, span := util.StartSpan(ctx, "EscrowService.RequestRefund")
	defer span.End()

	entry, err := s.store.GetEscrowEntryByBookingID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to look up entry: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("no escrow entry for booking %d", bookingID)
	}

	// Reject illegal refunds before spending a gateway call.
	if _, _, err := ledger.Transition(entry.Status, ledger.EventRefundConfirmed); err != nil {
		util.StateConflictsTotal.Inc()
		return err
	}

	if err := s.gateway.Refund(ctx, entry.ChargeReference, entry.AmountHeld); err != nil {
		return fmt.Errorf("gateway refund failed: %w", err)
	}

	result, _, err := s.applyEvent(ctx, entry.ID, ledger.EventRefundConfirmed, nil)
	if err != nil {
		return err
	}
	if result.Outcome == OutcomeApplied {
		util.RefundsTotal.Inc()

		if err := s.store.UpdateBookingStatus(ctx, bookingID, models.BookingStatusCancelled); err != nil {
			s.logger.Error("Failed to cancel booking after refund", zap.Error(err))
		}

		booking, err := s.store.GetBookingByID(ctx, bookingID)
		if err == nil {
			s.notify(ctx, func() error {
				return s.notifier.PublishEscrowRefunded(ctx, &models.EscrowRefundedEvent{
					BaseEvent: s.baseEvent(models.EventTypeEscrowRefunded),
					BookingID: bookingID,
					ClientID:  booking.ClientID,
					Amount:    entry.AmountHeld,
					Currency:  entry.Currency,
				})
			})
		}
	}
	return nil
}

// RequeueFailed re-enters PROCESSING_RELEASE from FAILED with a new
// idempotency key. Operator action; the old key is never reused.
func (s *Service) RequeueFailed(ctx context.Context, entryID int64) (*models.EscrowEntry, error) {
	ctx, span := util.StartSpan(ctx, "EscrowService.RequeueFailed")
	defer span.End()

	entry, err := s.store.GetEscrowEntryByID(ctx, entryID)
	if err != nil {
		return nil, err
	}

	key := ledger.NewIdempotencyKey(entry.BookingID, s.now().UnixMilli())

	result, updated, err := s.applyEvent(ctx, entry.ID, ledger.EventRequeued, func(e *models.EscrowEntry) {
		e.IdempotencyKey = key
		e.Attempts = 0
		e.LastError = ""
	})
	if err != nil {
		return nil, err
	}
	if result.Outcome != OutcomeApplied {
		return nil, &ledger.StateConflictError{From: entry.Status, Event: ledger.EventRequeued}
	}

	s.logger.Info("Failed payout requeued",
		zap.Int64("entry_id", entryID),
		zap.String("idempotency_key", key))

	s.payouts.Disburse(ctx, updated.ID)
	return updated, nil
}

// GetEntryForBooking returns the ledger entry for a booking, if any
func (s *Service) GetEntryForBooking(ctx context.Context, bookingID int64) (*models.EscrowEntry, error) {
	return s.store.GetEscrowEntryByBookingID(ctx, bookingID)
}

// applyEvent runs one guarded transition under the entry's row lock. extra
// mutates entry fields alongside the status change and is skipped on no-ops.
func (s *Service) applyEvent(ctx context.Context, entryID int64, event ledger.Event, extra func(e *models.EscrowEntry)) (ApplyResult, *models.EscrowEntry, error) {
	var noop bool

	updated, err := s.store.ApplyEntryMutation(ctx, entryID, func(e *models.EscrowEntry) error {
		to, isNoop, terr := ledger.Transition(e.Status, event)
		if terr != nil {
			return terr
		}
		noop = isNoop
		if isNoop {
			return errNoop
		}
		e.Status = to
		if extra != nil {
			extra(e)
		}
		return nil
	})

	if err != nil {
		if noop {
			util.WebhooksDuplicateTotal.Inc()
			return ApplyResult{Outcome: OutcomeDuplicate, Note: "already applied"}, nil, nil
		}

		var conflict *ledger.StateConflictError
		if errors.As(err, &conflict) {
			util.StateConflictsTotal.Inc()
			s.logger.Warn("Rejected illegal ledger transition",
				zap.Int64("entry_id", entryID),
				zap.String("from", conflict.From),
				zap.String("event", string(conflict.Event)))
			return ApplyResult{Outcome: OutcomeDiscarded, Note: conflict.Error()}, nil, nil
		}
		return ApplyResult{}, nil, err
	}

	util.LedgerTransitionsTotal.WithLabelValues(updated.Status).Inc()
	return ApplyResult{Outcome: OutcomeApplied}, updated, nil
}

// errNoop aborts the mutation transaction without treating the event as a
// failure.
var errNoop = errors.New("no-op transition")

func (s *Service) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.now().UTC(),
	}
}

func (s *Service) notify(ctx context.Context, publish func() error) {
	if err := publish(); err != nil {
		s.logger.Error("Failed to publish notification", zap.Error(err))
	}
}
