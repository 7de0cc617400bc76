package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewChargeReference generates a gateway charge reference of the form
// PREFIX_<unixMillis>_<random>. The random tail makes two references generated
// in the same millisecond distinct.
func NewChargeReference(prefix string, nowMillis int64) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", strings.ToUpper(prefix), nowMillis, random)
}

// NewIdempotencyKey generates a fresh key for a payout episode. Keys are never
// reused across episodes for the same booking.
func NewIdempotencyKey(bookingID int64, nowMillis int64) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("payout_%d_%d_%s", bookingID, nowMillis, random)
}
