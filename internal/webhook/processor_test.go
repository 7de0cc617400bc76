package webhook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"escrow-service/internal/escrow"
	"escrow-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	chargeCalls   []string
	transferCalls []string
	result        escrow.ApplyResult
	err           error
}

func (f *fakeApplier) ApplyChargeSuccess(ctx context.Context, reference string, amount int64) (escrow.ApplyResult, error) {
	f.chargeCalls = append(f.chargeCalls, reference)
	return f.result, f.err
}

func (f *fakeApplier) ApplyTransferResult(ctx context.Context, idempotencyKey string, succeeded bool, transferCode, reason string) (escrow.ApplyResult, error) {
	f.transferCalls = append(f.transferCalls, fmt.Sprintf("%s:%t:%s", idempotencyKey, succeeded, reason))
	return f.result, f.err
}

type fakeEventStore struct {
	events    map[string]*models.WebhookEvent
	nextID    int64
	processed map[int64]string
	retries   map[int64]int
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events:    make(map[string]*models.WebhookEvent),
		processed: make(map[int64]string),
		retries:   make(map[int64]int),
	}
}

func (f *fakeEventStore) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	key := event.EventType + "|" + event.ExternalReference
	if existing, ok := f.events[key]; ok {
		return existing, false, nil
	}
	f.nextID++
	event.ID = f.nextID
	f.events[key] = event
	return event, true, nil
}

func (f *fakeEventStore) MarkWebhookProcessed(ctx context.Context, eventID int64, errorNote string) error {
	f.processed[eventID] = errorNote
	for _, e := range f.events {
		if e.ID == eventID {
			e.Processed = true
		}
	}
	return nil
}

func (f *fakeEventStore) IncrementWebhookRetry(ctx context.Context, eventID int64, errMsg string) error {
	f.retries[eventID]++
	return nil
}

type fakeSeenCache struct {
	seen map[string]bool
}

func (f *fakeSeenCache) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	f.seen[key] = true
	return nil
}

func (f *fakeSeenCache) WasSeen(ctx context.Context, key string) (bool, error) {
	return f.seen[key], nil
}

func signedBody(t *testing.T, v *Verifier, body string) ([]byte, string) {
	t.Helper()
	raw := []byte(body)
	return raw, v.Sign(raw)
}

func TestProcessRejectsBadSignature(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{}
	events := newFakeEventStore()
	p := NewProcessor(v, applier, events)

	body := []byte(`{"event":"charge.success","data":{"reference":"BKG_1_a","amount":1000}}`)
	d := p.Process(context.Background(), body, "deadbeef")

	assert.Equal(t, Rejected, d)
	assert.Empty(t, applier.chargeCalls, "unverified events must never reach the ledger")
	assert.Empty(t, events.events)
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	v := NewVerifier("secret")
	p := NewProcessor(v, &fakeApplier{}, newFakeEventStore())

	body, sig := signedBody(t, v, `{not json`)
	assert.Equal(t, Rejected, p.Process(context.Background(), body, sig))

	body, sig = signedBody(t, v, `{"event":"","data":{}}`)
	assert.Equal(t, Rejected, p.Process(context.Background(), body, sig))
}

func TestProcessAppliesChargeSuccess(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{result: escrow.ApplyResult{Outcome: escrow.OutcomeApplied}}
	events := newFakeEventStore()
	p := NewProcessor(v, applier, events)

	body, sig := signedBody(t, v, `{"event":"charge.success","data":{"reference":"BKG_1_a","amount":1000}}`)
	d := p.Process(context.Background(), body, sig)

	require.Equal(t, Accepted, d)
	assert.Equal(t, []string{"BKG_1_a"}, applier.chargeCalls)
	assert.Len(t, events.processed, 1)
}

func TestProcessDuplicateDeliveryIsNoOp(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{result: escrow.ApplyResult{Outcome: escrow.OutcomeApplied}}
	events := newFakeEventStore()
	p := NewProcessor(v, applier, events)

	body, sig := signedBody(t, v, `{"event":"charge.success","data":{"reference":"BKG_1_a","amount":1000}}`)
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))

	assert.Len(t, applier.chargeCalls, 1, "redelivery must not re-apply")
}

func TestProcessSeenCacheShortCircuits(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{result: escrow.ApplyResult{Outcome: escrow.OutcomeApplied}}
	events := newFakeEventStore()
	seen := &fakeSeenCache{seen: make(map[string]bool)}
	p := NewProcessor(v, applier, events).WithSeenCache(seen)

	body, sig := signedBody(t, v, `{"event":"transfer.success","data":{"reference":"payout_1_2_ab","amount":900}}`)
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	assert.True(t, seen.seen["webhook:transfer.success:payout_1_2_ab"])

	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	assert.Len(t, events.events, 1)
	assert.Len(t, applier.transferCalls, 1)
}

func TestProcessTransferFailedCarriesReason(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{result: escrow.ApplyResult{Outcome: escrow.OutcomeApplied}}
	p := NewProcessor(v, applier, newFakeEventStore())

	body, sig := signedBody(t, v, `{"event":"transfer.failed","data":{"reference":"payout_1_2_ab","reason":"insufficient balance"}}`)
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	assert.Equal(t, []string{"payout_1_2_ab:false:insufficient balance"}, applier.transferCalls)
}

func TestProcessTransferReversedTreatedAsFailure(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{result: escrow.ApplyResult{Outcome: escrow.OutcomeApplied}}
	p := NewProcessor(v, applier, newFakeEventStore())

	body, sig := signedBody(t, v, `{"event":"transfer.reversed","data":{"reference":"payout_1_2_ab"}}`)
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	assert.Equal(t, []string{"payout_1_2_ab:false:transfer.reversed"}, applier.transferCalls)
}

func TestProcessUnknownEventAcceptedWithoutApply(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{}
	events := newFakeEventStore()
	p := NewProcessor(v, applier, events)

	body, sig := signedBody(t, v, `{"event":"subscription.create","data":{"reference":"sub_123"}}`)
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
	assert.Empty(t, applier.chargeCalls)
	assert.Empty(t, applier.transferCalls)
	assert.Len(t, events.events, 1, "unknown events are retained for audit")
}

func TestProcessApplyErrorRequestsRedelivery(t *testing.T) {
	v := NewVerifier("secret")
	applier := &fakeApplier{err: fmt.Errorf("db down")}
	events := newFakeEventStore()
	p := NewProcessor(v, applier, events)

	body, sig := signedBody(t, v, `{"event":"charge.success","data":{"reference":"BKG_1_a","amount":1000}}`)
	require.Equal(t, RetryLater, p.Process(context.Background(), body, sig))
	assert.Equal(t, 1, events.retries[1])

	// Recovery: the same delivery succeeds once the applier does.
	applier.err = nil
	applier.result = escrow.ApplyResult{Outcome: escrow.OutcomeApplied}
	require.Equal(t, Accepted, p.Process(context.Background(), body, sig))
}
