package worker

import (
	"context"
	"time"

	"escrow-service/config"
	"escrow-service/internal/models"
	"escrow-service/internal/util"

	"go.uber.org/zap"
)

// AutoConfirmStore lists entries whose auto-confirmation window has lapsed.
type AutoConfirmStore interface {
	ListAutoConfirmCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error)
}

// Releaser triggers a payout episode for a booking.
type Releaser interface {
	RequestRelease(ctx context.Context, bookingID int64) (*models.EscrowEntry, error)
}

// AutoConfirmer releases escrow for bookings the provider marked complete and
// the client never confirmed within the configured window.
type AutoConfirmer struct {
	store    AutoConfirmStore
	releaser Releaser
	cfg      config.EscrowConfig
	logger   *zap.Logger
}

// NewAutoConfirmer creates an auto-confirmation worker
func NewAutoConfirmer(store AutoConfirmStore, releaser Releaser, cfg config.EscrowConfig) *AutoConfirmer {
	return &AutoConfirmer{
		store:    store,
		releaser: releaser,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep on a ticker until ctx is done.
func (a *AutoConfirmer) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AutoConfirmInterval)
	defer ticker.Stop()

	a.logger.Info("Auto-confirmation worker started",
		zap.Int("window_days", a.cfg.AutoConfirmDays))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Auto-confirmation worker stopping")
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep releases every entry whose confirmation window has lapsed.
func (a *AutoConfirmer) Sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -a.cfg.AutoConfirmDays)

	entries, err := a.store.ListAutoConfirmCandidates(ctx, cutoff, a.cfg.SweepBatchSize)
	if err != nil {
		a.logger.Error("Failed to list auto-confirm candidates", zap.Error(err))
		return
	}

	for _, entry := range entries {
		a.logger.Info("Auto-confirming booking",
			zap.Int64("booking_id", entry.BookingID),
			zap.Int64("entry_id", entry.ID))

		if _, err := a.releaser.RequestRelease(ctx, entry.BookingID); err != nil {
			a.logger.Error("Auto-confirmation release failed",
				zap.Int64("booking_id", entry.BookingID),
				zap.Error(err))
		}
	}
}
