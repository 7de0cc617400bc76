package disburser

import (
	"context"
	"fmt"
	"testing"
	"time"

	"escrow-service/config"
	"escrow-service/internal/gateway"
	"escrow-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	entries    map[int64]*models.EscrowEntry
	bookings   map[int64]*models.Booking
	recipients map[int64]*models.PayoutRecipient
}

func newMemStore() *memStore {
	return &memStore{
		entries:    make(map[int64]*models.EscrowEntry),
		bookings:   make(map[int64]*models.Booking),
		recipients: make(map[int64]*models.PayoutRecipient),
	}
}

func (m *memStore) GetEscrowEntryByID(ctx context.Context, id int64) (*models.EscrowEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry not found: %d", id)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetBookingByID(ctx context.Context, id int64) (*models.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking not found: %d", id)
	}
	return b, nil
}

func (m *memStore) GetRecipientByProviderID(ctx context.Context, providerID int64) (*models.PayoutRecipient, error) {
	r, ok := m.recipients[providerID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpsertRecipient(ctx context.Context, recipient *models.PayoutRecipient) error {
	cp := *recipient
	m.recipients[recipient.ProviderID] = &cp
	return nil
}

func (m *memStore) ApplyEntryMutation(ctx context.Context, entryID int64, mutate func(entry *models.EscrowEntry) error) (*models.EscrowEntry, error) {
	e, ok := m.entries[entryID]
	if !ok {
		return nil, fmt.Errorf("entry not found: %d", entryID)
	}
	cp := *e
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.Version = e.Version + 1
	m.entries[entryID] = &cp
	out := cp
	return &out, nil
}

type memLocker struct {
	held map[string]bool
}

func (m *memLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	if m.held[lockKey] {
		return false, nil
	}
	m.held[lockKey] = true
	return true, nil
}

func (m *memLocker) ReleaseLock(ctx context.Context, lockKey string) error {
	delete(m.held, lockKey)
	return nil
}

type memNotifier struct {
	failures []string
}

func (m *memNotifier) PublishPayoutFailed(ctx context.Context, event *models.PayoutFailedEvent) error {
	m.failures = append(m.failures, event.Reason)
	return nil
}

// scriptedGateway returns the queued errors in order, then succeeds. It
// records the idempotency key of every ExecuteTransfer call.
type scriptedGateway struct {
	transferErrs []error
	keys         []string
}

func (g *scriptedGateway) InitializeCharge(ctx context.Context, req gateway.InitializeChargeRequest) (*gateway.InitializeChargeResponse, error) {
	return nil, fmt.Errorf("not used")
}

func (g *scriptedGateway) VerifyCharge(ctx context.Context, reference string) (*gateway.ChargeStatus, error) {
	return nil, fmt.Errorf("not used")
}

func (g *scriptedGateway) CreateTransferRecipient(ctx context.Context, name, bankCode, accountNumber string) (string, error) {
	return "RCP_new", nil
}

func (g *scriptedGateway) ExecuteTransfer(ctx context.Context, recipientCode string, amount int64, idempotencyKey, reason string) (string, error) {
	g.keys = append(g.keys, idempotencyKey)
	if len(g.transferErrs) > 0 {
		err := g.transferErrs[0]
		g.transferErrs = g.transferErrs[1:]
		return "", err
	}
	return "TRF_ok", nil
}

func (g *scriptedGateway) VerifyTransfer(ctx context.Context, idempotencyKey string) (*gateway.TransferStatus, error) {
	return nil, fmt.Errorf("not used")
}

func (g *scriptedGateway) Refund(ctx context.Context, chargeReference string, amount int64) error {
	return fmt.Errorf("not used")
}

func transient(msg string) error {
	return &gateway.TransientError{Err: fmt.Errorf("%s", msg)}
}

type fixture struct {
	store     *memStore
	locker    *memLocker
	notifier  *memNotifier
	gateway   *scriptedGateway
	disburser *Disburser
	slept     []time.Duration
}

func newFixture(transferErrs ...error) *fixture {
	f := &fixture{
		store:    newMemStore(),
		locker:   &memLocker{held: make(map[string]bool)},
		notifier: &memNotifier{},
		gateway:  &scriptedGateway{transferErrs: transferErrs},
	}
	cfg := config.EscrowConfig{
		PayoutMaxAttempts: 5,
		PayoutBackoffBase: time.Second,
		PayoutBackoffCap:  30 * time.Second,
	}
	f.disburser = New(f.store, f.gateway, f.locker, f.notifier, cfg)
	f.disburser.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }

	f.store.bookings[1] = &models.Booking{
		ID: 1, ClientID: 10, ProviderID: 20, ServiceName: "Deep cleaning",
	}
	f.store.recipients[20] = &models.PayoutRecipient{
		ProviderID: 20, BankCode: "058", AccountNumber: "0123456789",
		RecipientCode: "RCP_existing",
	}
	f.store.entries[100] = &models.EscrowEntry{
		ID: 100, BookingID: 1, AmountHeld: 1000, PlatformFee: 100,
		ProviderPayout: 900, Currency: "NGN",
		Status:         models.EscrowStatusProcessingRelease,
		IdempotencyKey: "payout_1_1700_abc",
		Version:        3,
	}
	return f
}

func TestRunTransfersOnFirstAttempt(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	entry := f.store.entries[100]
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, "TRF_ok", entry.TransferReference)
	assert.Equal(t, models.EscrowStatusProcessingRelease, entry.Status,
		"status only moves when the gateway confirms asynchronously")
	assert.Equal(t, []string{"payout_1_1700_abc"}, f.gateway.keys)
	assert.Empty(t, f.slept)
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture(transient("timeout"), transient("503"))

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	entry := f.store.entries[100]
	assert.Equal(t, 3, entry.Attempts)
	assert.Equal(t, "TRF_ok", entry.TransferReference)
	assert.Empty(t, entry.LastError, "success clears the last transient error")
	assert.Len(t, f.slept, 2)

	// Every attempt reused the episode's key.
	for _, key := range f.gateway.keys {
		assert.Equal(t, "payout_1_1700_abc", key)
	}
}

func TestRunExhaustsRetriesAndFails(t *testing.T) {
	f := newFixture(
		transient("timeout 1"), transient("timeout 2"), transient("timeout 3"),
		transient("timeout 4"), transient("timeout 5"),
	)

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	entry := f.store.entries[100]
	assert.Equal(t, models.EscrowStatusFailed, entry.Status)
	assert.Equal(t, 5, entry.Attempts)
	assert.Contains(t, entry.LastError, "retries exhausted after 5 attempts")
	assert.Contains(t, entry.LastError, "timeout 5")
	assert.Len(t, f.gateway.keys, 5)
	assert.Len(t, f.slept, 4, "no sleep after the final attempt")
	require.Len(t, f.notifier.failures, 1)
}

func TestRunPermanentErrorFailsImmediately(t *testing.T) {
	f := newFixture(&gateway.PermanentError{Code: "invalid_recipient", Err: fmt.Errorf("invalid recipient")})

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	entry := f.store.entries[100]
	assert.Equal(t, models.EscrowStatusFailed, entry.Status)
	assert.Equal(t, 1, entry.Attempts)
	assert.Len(t, f.gateway.keys, 1, "permanent rejections are not retried")
	assert.Len(t, f.notifier.failures, 1)
}

func TestRunSkipsWhenLockHeld(t *testing.T) {
	f := newFixture()
	f.locker.held["payout:100"] = true

	require.NoError(t, f.disburser.Run(context.Background(), 100))
	assert.Empty(t, f.gateway.keys, "concurrent episode must not double-transfer")
}

func TestRunSkipsEntryNotAwaitingRelease(t *testing.T) {
	f := newFixture()
	f.store.entries[100].Status = models.EscrowStatusReleased

	require.NoError(t, f.disburser.Run(context.Background(), 100))
	assert.Empty(t, f.gateway.keys)
}

func TestRunFailsWithoutPayoutDestination(t *testing.T) {
	f := newFixture()
	delete(f.store.recipients, 20)

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	entry := f.store.entries[100]
	assert.Equal(t, models.EscrowStatusFailed, entry.Status)
	assert.Contains(t, entry.LastError, "no payout destination")
	assert.Empty(t, f.gateway.keys)
}

func TestRunRegistersRecipientOnFirstUse(t *testing.T) {
	f := newFixture()
	f.store.recipients[20].RecipientCode = ""

	require.NoError(t, f.disburser.Run(context.Background(), 100))

	assert.Equal(t, "RCP_new", f.store.recipients[20].RecipientCode)
	assert.Equal(t, "TRF_ok", f.store.entries[100].TransferReference)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	d := New(newMemStore(), &scriptedGateway{}, &memLocker{held: map[string]bool{}}, &memNotifier{}, config.EscrowConfig{
		PayoutBackoffBase: time.Second,
		PayoutBackoffCap:  8 * time.Second,
	})

	for attempt, base := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 8 * time.Second,
		5: 8 * time.Second, // capped
	} {
		got := d.backoff(attempt)
		assert.GreaterOrEqual(t, got, base, "attempt %d", attempt)
		assert.LessOrEqual(t, got, base+base/2, "attempt %d jitter bound", attempt)
	}
}
