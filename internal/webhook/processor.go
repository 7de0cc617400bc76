package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escrow-service/internal/escrow"
	"escrow-service/internal/models"
	"escrow-service/internal/util"

	"go.uber.org/zap"
)

// Disposition tells the HTTP layer how to answer the gateway.
type Disposition int

const (
	// Accepted: processed or idempotently ignored; do not redeliver.
	Accepted Disposition = iota
	// Rejected: malformed or unverifiable; do not redeliver.
	Rejected
	// RetryLater: transient failure on our side; the gateway should redeliver.
	RetryLater
)

// seenTTL bounds the fast duplicate cache; the unique constraint on the
// webhook log covers deliveries older than this.
const seenTTL = 24 * time.Hour

// envelope is the gateway's webhook shape: {event, data:{...}}
type envelope struct {
	Event string `json:"event"`
	Data  struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
		Amount       int64  `json:"amount"`
		Reason       string `json:"reason"`
	} `json:"data"`
}

// Applier is the ledger apply surface, shared with the reconciliation sweep.
type Applier interface {
	ApplyChargeSuccess(ctx context.Context, reference string, amount int64) (escrow.ApplyResult, error)
	ApplyTransferResult(ctx context.Context, idempotencyKey string, succeeded bool, transferCode, reason string) (escrow.ApplyResult, error)
}

// EventStore is the durable webhook log.
type EventStore interface {
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error)
	MarkWebhookProcessed(ctx context.Context, eventID int64, errorNote string) error
	IncrementWebhookRetry(ctx context.Context, eventID int64, errMsg string) error
}

// SeenCache short-circuits redelivered events before they hit the database.
// It is an optimization only; the durable log remains the source of truth.
type SeenCache interface {
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
	WasSeen(ctx context.Context, key string) (bool, error)
}

// Processor authenticates inbound gateway notifications and applies them to
// the escrow ledger exactly once.
type Processor struct {
	verifier *Verifier
	applier  Applier
	events   EventStore
	seen     SeenCache
	logger   *zap.Logger
}

// NewProcessor creates a webhook processor
func NewProcessor(verifier *Verifier, applier Applier, events EventStore) *Processor {
	return &Processor{
		verifier: verifier,
		applier:  applier,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// WithSeenCache enables the fast duplicate check
func (p *Processor) WithSeenCache(seen SeenCache) *Processor {
	p.seen = seen
	return p
}

// Process verifies, deduplicates and applies one raw webhook delivery.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) Disposition {
	if err := p.verifier.Verify(body, signature); err != nil {
		util.WebhookAuthFailuresTotal.Inc()
		p.logger.Warn("Webhook signature verification failed",
			zap.Int("body_bytes", len(body)))
		return Rejected
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("malformed").Inc()
		p.logger.Warn("Malformed webhook payload", zap.Error(err))
		return Rejected
	}
	if env.Event == "" || env.Data.Reference == "" {
		util.WebhooksRejectedTotal.WithLabelValues("missing_fields").Inc()
		return Rejected
	}

	util.WebhooksReceivedTotal.WithLabelValues(env.Event).Inc()

	seenKey := fmt.Sprintf("webhook:%s:%s", env.Event, env.Data.Reference)
	if p.seen != nil {
		if seen, err := p.seen.WasSeen(ctx, seenKey); err == nil && seen {
			util.WebhooksDuplicateTotal.Inc()
			p.logger.Info("Duplicate webhook delivery ignored (cache)",
				zap.String("event", env.Event),
				zap.String("reference", env.Data.Reference))
			return Accepted
		}
	}

	record, created, err := p.events.RecordWebhookEvent(ctx, &models.WebhookEvent{
		EventType:         env.Event,
		ExternalReference: env.Data.Reference,
		Payload:           string(body),
	})
	if err != nil {
		p.logger.Error("Failed to record webhook event", zap.Error(err))
		return RetryLater
	}
	if !created && record.Processed {
		util.WebhooksDuplicateTotal.Inc()
		p.logger.Info("Duplicate webhook delivery ignored",
			zap.String("event", env.Event),
			zap.String("reference", env.Data.Reference))
		return Accepted
	}

	result, err := p.apply(ctx, &env)
	if err != nil {
		p.logger.Error("Failed to apply webhook event",
			zap.String("event", env.Event),
			zap.String("reference", env.Data.Reference),
			zap.Error(err))
		if rerr := p.events.IncrementWebhookRetry(ctx, record.ID, err.Error()); rerr != nil {
			p.logger.Error("Failed to record webhook retry", zap.Error(rerr))
		}
		return RetryLater
	}

	if err := p.events.MarkWebhookProcessed(ctx, record.ID, result.Note); err != nil {
		p.logger.Error("Failed to mark webhook processed", zap.Error(err))
		return RetryLater
	}

	if p.seen != nil {
		if err := p.seen.MarkSeen(ctx, seenKey, seenTTL); err != nil {
			p.logger.Warn("Failed to cache webhook key", zap.Error(err))
		}
	}

	p.logger.Info("Webhook processed",
		zap.String("event", env.Event),
		zap.String("reference", env.Data.Reference),
		zap.String("outcome", string(result.Outcome)))
	return Accepted
}

func (p *Processor) apply(ctx context.Context, env *envelope) (escrow.ApplyResult, error) {
	switch env.Event {
	case models.WebhookChargeSuccess:
		return p.applier.ApplyChargeSuccess(ctx, env.Data.Reference, env.Data.Amount)

	case models.WebhookTransferSuccess:
		return p.applier.ApplyTransferResult(ctx, env.Data.Reference, true, env.Data.TransferCode, "")

	case models.WebhookTransferFailed, models.WebhookTransferReversed:
		reason := env.Data.Reason
		if reason == "" {
			reason = env.Event
		}
		return p.applier.ApplyTransferResult(ctx, env.Data.Reference, false, env.Data.TransferCode, reason)

	default:
		// Unknown event types are acknowledged and retained for audit.
		return escrow.ApplyResult{
			Outcome: escrow.OutcomeDiscarded,
			Note:    fmt.Sprintf("unhandled event type %s", env.Event),
		}, nil
	}
}
