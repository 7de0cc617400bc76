package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"escrow-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// RunMigrations applies pending schema migrations
func (s *Store) RunMigrations(migrationsDir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(s.db.DB, migrationsDir)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// ReplicateBooking inserts a booking row received from the booking
// subsystem, keeping its upstream ID. Redeliveries are ignored.
func (s *Store) ReplicateBooking(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (id, client_id, provider_id, service_name, scheduled_at, address, status, total_amount, platform_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		booking.ID, booking.ClientID, booking.ProviderID, booking.ServiceName, booking.ScheduledAt,
		booking.Address, booking.Status, booking.TotalAmount, booking.PlatformFee)
	return err
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := s.db.GetContext(ctx, &booking, "SELECT * FROM bookings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateBookingStatus updates booking status
func (s *Store) UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2",
		status, bookingID)
	return err
}

// MarkBookingProviderCompleted records the provider-side completion timestamp,
// which starts the auto-confirmation clock.
func (s *Store) MarkBookingProviderCompleted(ctx context.Context, bookingID int64, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET completed_by_provider_at = $1, status = $2, updated_at = NOW()
		 WHERE id = $3 AND completed_by_provider_at IS NULL`,
		completedAt, models.BookingStatusCompleted, bookingID)
	return err
}

// IsEventProcessed checks if a broker event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a broker event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// GetRecipientByProviderID retrieves the registered payout destination for a provider
func (s *Store) GetRecipientByProviderID(ctx context.Context, providerID int64) (*models.PayoutRecipient, error) {
	var recipient models.PayoutRecipient
	err := s.db.GetContext(ctx, &recipient,
		"SELECT * FROM payout_recipients WHERE provider_id = $1", providerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &recipient, nil
}

// UpsertRecipient stores or refreshes a provider's payout destination
func (s *Store) UpsertRecipient(ctx context.Context, recipient *models.PayoutRecipient) error {
	query := `
		INSERT INTO payout_recipients (provider_id, bank_code, account_number, recipient_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id) DO UPDATE
		SET bank_code = EXCLUDED.bank_code,
		    account_number = EXCLUDED.account_number,
		    recipient_code = EXCLUDED.recipient_code,
		    updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		recipient.ProviderID, recipient.BankCode, recipient.AccountNumber, recipient.RecipientCode)
	return err
}
