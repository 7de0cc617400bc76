package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"escrow-service/internal/models"
)

// ErrVersionConflict is returned when a concurrent writer advanced an entry
// between read and write.
var ErrVersionConflict = errors.New("escrow entry version conflict")

// CreateEscrowEntry creates a new ledger entry in PENDING state. The unique
// constraint on booking_id makes at most one active entry per booking.
func (s *Store) CreateEscrowEntry(ctx context.Context, entry *models.EscrowEntry) error {
	query := `
		INSERT INTO escrow_entries
			(booking_id, amount_held, platform_fee, provider_payout, currency, status, charge_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at, updated_at`

	return s.db.GetContext(ctx, entry, query,
		entry.BookingID, entry.AmountHeld, entry.PlatformFee, entry.ProviderPayout,
		entry.Currency, entry.Status, entry.ChargeReference)
}

// GetEscrowEntryByID retrieves a ledger entry by ID
func (s *Store) GetEscrowEntryByID(ctx context.Context, id int64) (*models.EscrowEntry, error) {
	var entry models.EscrowEntry
	err := s.db.GetContext(ctx, &entry, "SELECT * FROM escrow_entries WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow entry not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEscrowEntryByBookingID retrieves the ledger entry for a booking.
// Returns (nil, nil) when the booking has no entry.
func (s *Store) GetEscrowEntryByBookingID(ctx context.Context, bookingID int64) (*models.EscrowEntry, error) {
	var entry models.EscrowEntry
	err := s.db.GetContext(ctx, &entry, "SELECT * FROM escrow_entries WHERE booking_id = $1", bookingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEscrowEntryByChargeReference looks up a ledger entry by the gateway's
// charge reference. Returns (nil, nil) when no entry matches, so webhook
// ingestion can classify orphan events.
func (s *Store) GetEscrowEntryByChargeReference(ctx context.Context, reference string) (*models.EscrowEntry, error) {
	var entry models.EscrowEntry
	err := s.db.GetContext(ctx, &entry, "SELECT * FROM escrow_entries WHERE charge_reference = $1", reference)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetEscrowEntryByIdempotencyKey looks up the entry whose current payout
// episode uses key. Returns (nil, nil) when no entry matches: the key is
// either stale (a superseded episode) or foreign, and the caller discards the
// event.
func (s *Store) GetEscrowEntryByIdempotencyKey(ctx context.Context, key string) (*models.EscrowEntry, error) {
	if key == "" {
		return nil, nil
	}
	var entry models.EscrowEntry
	err := s.db.GetContext(ctx, &entry, "SELECT * FROM escrow_entries WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ApplyEntryMutation runs mutate against the current row inside a transaction
// holding a row lock, then writes the result back guarded by the version
// column. The ledger entry is the unit of mutual exclusion: a concurrent
// webhook delivery and a reconciliation sweep cannot both commit conflicting
// transitions against the same entry.
func (s *Store) ApplyEntryMutation(ctx context.Context, entryID int64, mutate func(entry *models.EscrowEntry) error) (*models.EscrowEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var entry models.EscrowEntry
	err = tx.GetContext(ctx, &entry,
		"SELECT * FROM escrow_entries WHERE id = $1 FOR UPDATE", entryID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow entry not found: %d", entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock escrow entry: %w", err)
	}

	expectedVersion := entry.Version

	if err := mutate(&entry); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE escrow_entries
		SET status = $1, transfer_reference = $2, idempotency_key = $3,
		    attempts = $4, last_error = $5, version = version + 1, updated_at = NOW()
		WHERE id = $6 AND version = $7`,
		entry.Status, entry.TransferReference, entry.IdempotencyKey,
		entry.Attempts, entry.LastError, entry.ID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update escrow entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entry.Version = expectedVersion + 1
	return &entry, nil
}

// ListStaleProcessingEntries returns entries stuck in PROCESSING_RELEASE whose
// last update is older than cutoff. Feeds the reconciliation sweep.
func (s *Store) ListStaleProcessingEntries(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error) {
	var entries []models.EscrowEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM escrow_entries
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		models.EscrowStatusProcessingRelease, cutoff, limit)
	return entries, err
}

// ListStalePendingEntries returns PENDING entries older than cutoff whose
// charge confirmation webhook may have been lost.
func (s *Store) ListStalePendingEntries(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error) {
	var entries []models.EscrowEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM escrow_entries
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`,
		models.EscrowStatusPending, cutoff, limit)
	return entries, err
}

// ListAutoConfirmCandidates returns ESCROW entries whose booking was marked
// complete by the provider before cutoff and never confirmed by the client.
func (s *Store) ListAutoConfirmCandidates(ctx context.Context, cutoff time.Time, limit int) ([]models.EscrowEntry, error) {
	var entries []models.EscrowEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT e.* FROM escrow_entries e
		JOIN bookings b ON b.id = e.booking_id
		WHERE e.status = $1
		  AND b.completed_by_provider_at IS NOT NULL
		  AND b.completed_by_provider_at < $2
		ORDER BY b.completed_by_provider_at ASC
		LIMIT $3`,
		models.EscrowStatusEscrow, cutoff, limit)
	return entries, err
}

// EscrowStats aggregates ledger counts and held volume for the admin surface.
type EscrowStats struct {
	TotalEntries   int64            `json:"total_entries"`
	AmountInEscrow int64            `json:"amount_in_escrow"`
	AmountReleased int64            `json:"amount_released"`
	ByStatus       map[string]int64 `json:"by_status"`
}

// GetEscrowStats computes aggregate ledger figures
func (s *Store) GetEscrowStats(ctx context.Context) (*EscrowStats, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount_held), 0)
		FROM escrow_entries
		GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &EscrowStats{ByStatus: make(map[string]int64)}
	for rows.Next() {
		var status string
		var count, sum int64
		if err := rows.Scan(&status, &count, &sum); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalEntries += count

		switch status {
		case models.EscrowStatusEscrow, models.EscrowStatusProcessingRelease:
			stats.AmountInEscrow += sum
		case models.EscrowStatusReleased:
			stats.AmountReleased += sum
		}
	}
	return stats, rows.Err()
}
