package worker

import (
	"context"
	"fmt"
	"time"

	"escrow-service/internal/broker"
	"escrow-service/internal/escrow"
	"escrow-service/internal/models"
	"escrow-service/internal/store"
	"escrow-service/internal/util"

	"go.uber.org/zap"
)

// BookingEventWorker consumes booking-subsystem events and drives the
// corresponding escrow actions. Application is idempotent: each event id is
// recorded in processed_events before completion, so redelivered messages are
// skipped.
type BookingEventWorker struct {
	consumer *broker.Consumer
	handler  *broker.BookingEventHandler
	store    *store.Store
	service  *escrow.Service
	logger   *zap.Logger
}

// NewBookingEventWorker creates a booking event worker
func NewBookingEventWorker(consumer *broker.Consumer, st *store.Store, service *escrow.Service) *BookingEventWorker {
	w := &BookingEventWorker{
		consumer: consumer,
		store:    st,
		service:  service,
		logger:   util.GetLogger(),
	}

	handler := broker.NewBookingEventHandler()
	handler.OnCreated(w.dedup(w.handleCreated))
	handler.OnProviderCompleted(w.dedup(w.handleProviderCompleted))
	handler.OnClientConfirmed(w.dedup(w.handleClientConfirmed))
	handler.OnCancelled(w.dedup(w.handleCancelled))
	w.handler = handler

	return w
}

// Start starts the worker
func (w *BookingEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting booking event worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *BookingEventWorker) Stop() error {
	w.logger.Info("Stopping booking event worker")
	return w.consumer.Close()
}

func (w *BookingEventWorker) dedup(handle func(context.Context, *models.BookingEvent) error) func(context.Context, *models.BookingEvent) error {
	return func(ctx context.Context, event *models.BookingEvent) error {
		processed, err := w.store.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check event processed: %w", err)
		}
		if processed {
			w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
			return nil
		}

		if err := handle(ctx, event); err != nil {
			return err
		}

		if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.Error(err))
		}
		return nil
	}
}

func (w *BookingEventWorker) handleCreated(ctx context.Context, event *models.BookingEvent) error {
	if event.Booking == nil {
		return fmt.Errorf("booking created event %s has no booking payload", event.EventID)
	}

	w.logger.Info("Replicating new booking",
		zap.Int64("booking_id", event.Booking.ID))
	return w.store.ReplicateBooking(ctx, event.Booking)
}

func (w *BookingEventWorker) handleProviderCompleted(ctx context.Context, event *models.BookingEvent) error {
	completedAt := event.Timestamp
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	w.logger.Info("Provider marked booking complete",
		zap.Int64("booking_id", event.BookingID))
	return w.store.MarkBookingProviderCompleted(ctx, event.BookingID, completedAt)
}

func (w *BookingEventWorker) handleClientConfirmed(ctx context.Context, event *models.BookingEvent) error {
	w.logger.Info("Client confirmed completion",
		zap.Int64("booking_id", event.BookingID))

	_, err := w.service.RequestRelease(ctx, event.BookingID)
	return err
}

func (w *BookingEventWorker) handleCancelled(ctx context.Context, event *models.BookingEvent) error {
	w.logger.Info("Booking cancelled, refunding escrow",
		zap.Int64("booking_id", event.BookingID))

	entry, err := w.service.GetEntryForBooking(ctx, event.BookingID)
	if err != nil {
		return err
	}
	if entry == nil {
		// A cancellation for a booking that never funded escrow is a no-op.
		w.logger.Info("No escrow entry for cancelled booking",
			zap.Int64("booking_id", event.BookingID))
		return nil
	}

	return w.service.RequestRefund(ctx, event.BookingID)
}
