package gateway

import (
	"context"
	"errors"
	"fmt"
)

// InitializeChargeRequest starts a hosted-checkout charge.
type InitializeChargeRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	Email       string            `json:"email"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// InitializeChargeResponse carries the redirect URL the client completes
// payment on.
type InitializeChargeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// ChargeStatus is the gateway's view of a charge.
type ChargeStatus struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
}

// TransferStatus is the gateway's view of a transfer.
type TransferStatus struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

// Gateway is the payment provider interface the escrow core depends on. The
// HTTP client behind it is a thin adapter; all lifecycle decisions live in the
// ledger and its callers.
type Gateway interface {
	InitializeCharge(ctx context.Context, req InitializeChargeRequest) (*InitializeChargeResponse, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeStatus, error)
	CreateTransferRecipient(ctx context.Context, name, bankCode, accountNumber string) (string, error)
	ExecuteTransfer(ctx context.Context, recipientCode string, amount int64, idempotencyKey, reason string) (string, error)
	VerifyTransfer(ctx context.Context, idempotencyKey string) (*TransferStatus, error)
	Refund(ctx context.Context, chargeReference string, amount int64) error
}

// TransientError wraps gateway failures worth retrying: network errors,
// timeouts, 5xx and rate limiting.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient gateway error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps gateway rejections that retrying cannot fix: invalid
// recipient, insufficient balance, malformed request.
type PermanentError struct {
	Code string
	Err  error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent gateway error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried under the disburser's
// bounded policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
