package ledger

import (
	"fmt"

	"escrow-service/internal/models"
)

// Event is a lifecycle trigger applied to an escrow entry.
type Event string

const (
	EventChargeConfirmed   Event = "CHARGE_CONFIRMED"
	EventReleaseRequested  Event = "RELEASE_REQUESTED"
	EventTransferSucceeded Event = "TRANSFER_SUCCEEDED"
	EventTransferFailed    Event = "TRANSFER_FAILED"
	EventRefundConfirmed   Event = "REFUND_CONFIRMED"
	EventRequeued          Event = "REQUEUED"
)

// StateConflictError reports an attempted illegal transition. The entry is
// never mutated when this is returned.
type StateConflictError struct {
	From  string
	Event Event
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("illegal transition: event %s in status %s", e.Event, e.From)
}

// Transition returns the status an entry moves to when event is applied in
// status from. noop reports that the event is a valid duplicate (e.g. a
// redelivered charge.success on an entry already past PENDING) and the entry
// must be left untouched. Any (status, event) pair not enumerated here is a
// StateConflictError.
func Transition(from string, event Event) (to string, noop bool, err error) {
	switch event {
	case EventChargeConfirmed:
		switch from {
		case models.EscrowStatusPending:
			return models.EscrowStatusEscrow, false, nil
		case models.EscrowStatusEscrow,
			models.EscrowStatusProcessingRelease,
			models.EscrowStatusReleased:
			// Gateway redelivery after funds were already confirmed.
			return from, true, nil
		}

	case EventReleaseRequested:
		if from == models.EscrowStatusEscrow {
			return models.EscrowStatusProcessingRelease, false, nil
		}

	case EventTransferSucceeded:
		switch from {
		case models.EscrowStatusProcessingRelease:
			return models.EscrowStatusReleased, false, nil
		case models.EscrowStatusReleased:
			return from, true, nil
		}

	case EventTransferFailed:
		if from == models.EscrowStatusProcessingRelease {
			return models.EscrowStatusFailed, false, nil
		}

	case EventRefundConfirmed:
		switch from {
		case models.EscrowStatusPending, models.EscrowStatusEscrow:
			return models.EscrowStatusRefunded, false, nil
		case models.EscrowStatusRefunded:
			return from, true, nil
		}

	case EventRequeued:
		if from == models.EscrowStatusFailed {
			return models.EscrowStatusProcessingRelease, false, nil
		}
	}

	return "", false, &StateConflictError{From: from, Event: event}
}
