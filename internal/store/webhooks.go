package store

import (
	"context"
	"database/sql"
	"time"

	"escrow-service/internal/models"
)

// RecordWebhookEvent inserts an inbound event, deduplicating on
// (event_type, external_reference). Returns the stored row and whether this
// call created it; a redelivered event comes back with created == false.
func (s *Store) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (*models.WebhookEvent, bool, error) {
	query := `
		INSERT INTO webhook_events (event_type, external_reference, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_type, external_reference) DO NOTHING
		RETURNING id, processed, retry_count, received_at`

	err := s.db.GetContext(ctx, event, query,
		event.EventType, event.ExternalReference, event.Payload)
	if err == nil {
		return event, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, err
	}

	var existing models.WebhookEvent
	err = s.db.GetContext(ctx, &existing,
		"SELECT * FROM webhook_events WHERE event_type = $1 AND external_reference = $2",
		event.EventType, event.ExternalReference)
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

// MarkWebhookProcessed marks an event applied. errorNote is set for events
// accepted but not applied to the ledger (orphans, stale keys).
func (s *Store) MarkWebhookProcessed(ctx context.Context, eventID int64, errorNote string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET processed = true, error_note = $1, processed_at = $2 WHERE id = $3",
		errorNote, time.Now().UTC(), eventID)
	return err
}

// IncrementWebhookRetry records a failed processing attempt so the event can
// be retried on gateway redelivery.
func (s *Store) IncrementWebhookRetry(ctx context.Context, eventID int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET retry_count = retry_count + 1, error_note = $1 WHERE id = $2",
		errMsg, eventID)
	return err
}
