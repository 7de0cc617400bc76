package worker

import (
	"context"
	"strings"
	"time"

	"escrow-service/config"
	"escrow-service/internal/escrow"
	"escrow-service/internal/gateway"
	"escrow-service/internal/models"
	"escrow-service/internal/util"

	"go.uber.org/zap"
)

// ReconcileStore lists entries the sweep may need to resolve.
type ReconcileStore interface {
	ListStaleProcessingEntries(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error)
	ListStalePendingEntries(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error)
}

// Applier is the ledger apply surface shared with webhook ingestion, so a
// sweep and a late webhook can race safely against the same guards.
type Applier interface {
	ApplyChargeSuccess(ctx context.Context, reference string, amount int64) (escrow.ApplyResult, error)
	ApplyTransferResult(ctx context.Context, idempotencyKey string, succeeded bool, transferCode, reason string) (escrow.ApplyResult, error)
}

// Reconciler periodically queries the gateway for entries whose confirmation
// webhook never arrived and applies the outcome through the same transition
// guards as webhook ingestion.
type Reconciler struct {
	store   ReconcileStore
	gateway gateway.Gateway
	applier Applier
	cfg     config.EscrowConfig
	logger  *zap.Logger
}

// NewReconciler creates a reconciliation worker
func NewReconciler(store ReconcileStore, gw gateway.Gateway, applier Applier, cfg config.EscrowConfig) *Reconciler {
	return &Reconciler{
		store:   store,
		gateway: gw,
		applier: applier,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// Start runs the sweep on a ticker until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	r.logger.Info("Reconciliation worker started",
		zap.Duration("interval", r.cfg.ReconcileInterval),
		zap.Duration("threshold", r.cfg.ReconcileAfter))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciliation worker stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	util.ReconcileSweepsTotal.Inc()
	cutoff := time.Now().Add(-r.cfg.ReconcileAfter)

	r.sweepTransfers(ctx, cutoff)
	r.sweepCharges(ctx, cutoff)
}

func (r *Reconciler) sweepTransfers(ctx context.Context, cutoff time.Time) {
	entries, err := r.store.ListStaleProcessingEntries(ctx, cutoff, r.cfg.SweepBatchSize)
	if err != nil {
		r.logger.Error("Failed to list stale processing entries", zap.Error(err))
		return
	}

	for _, entry := range entries {
		status, err := r.gateway.VerifyTransfer(ctx, entry.IdempotencyKey)
		if err != nil {
			r.logger.Warn("Failed to verify transfer",
				zap.Int64("entry_id", entry.ID),
				zap.String("idempotency_key", entry.IdempotencyKey),
				zap.Error(err))
			continue
		}

		switch strings.ToLower(status.Status) {
		case "success":
			if _, err := r.applier.ApplyTransferResult(ctx, entry.IdempotencyKey, true, status.TransferCode, ""); err != nil {
				r.logger.Error("Failed to apply reconciled transfer success", zap.Error(err))
				continue
			}
			util.ReconciledEntriesTotal.WithLabelValues("released").Inc()

		case "failed", "reversed":
			if _, err := r.applier.ApplyTransferResult(ctx, entry.IdempotencyKey, false, status.TransferCode, "reconciled: transfer "+status.Status); err != nil {
				r.logger.Error("Failed to apply reconciled transfer failure", zap.Error(err))
				continue
			}
			util.ReconciledEntriesTotal.WithLabelValues("failed").Inc()

		default:
			// Still in flight at the gateway; check again next sweep.
			r.logger.Info("Transfer still pending at gateway",
				zap.Int64("entry_id", entry.ID),
				zap.String("status", status.Status))
		}
	}
}

func (r *Reconciler) sweepCharges(ctx context.Context, cutoff time.Time) {
	entries, err := r.store.ListStalePendingEntries(ctx, cutoff, r.cfg.SweepBatchSize)
	if err != nil {
		r.logger.Error("Failed to list stale pending entries", zap.Error(err))
		return
	}

	for _, entry := range entries {
		status, err := r.gateway.VerifyCharge(ctx, entry.ChargeReference)
		if err != nil {
			r.logger.Warn("Failed to verify charge",
				zap.Int64("entry_id", entry.ID),
				zap.String("reference", entry.ChargeReference),
				zap.Error(err))
			continue
		}

		if strings.EqualFold(status.Status, "success") {
			if _, err := r.applier.ApplyChargeSuccess(ctx, entry.ChargeReference, status.Amount); err != nil {
				r.logger.Error("Failed to apply reconciled charge success", zap.Error(err))
				continue
			}
			util.ReconciledEntriesTotal.WithLabelValues("funded").Inc()
		}
	}
}
