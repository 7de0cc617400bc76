package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"escrow-service/internal/util"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// PaystackClient implements Gateway against the Paystack REST API.
type PaystackClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

// NewPaystackClient creates a gateway client
func NewPaystackClient(baseURL, secretKey string) *PaystackClient {
	return &PaystackClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    util.GetLogger(),
	}
}

// envelope is Paystack's standard response wrapper
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *PaystackClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &PermanentError{Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &PermanentError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &TransientError{Err: fmt.Errorf("gateway returned %s", resp.Status)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &TransientError{Err: fmt.Errorf("unparseable gateway response: %w", err)}
	}

	if resp.StatusCode >= 400 || !env.Status {
		return &PermanentError{
			Code: resp.Status,
			Err:  fmt.Errorf("gateway rejected request: %s", env.Message),
		}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &PermanentError{Err: fmt.Errorf("unexpected gateway data shape: %w", err)}
		}
	}
	return nil
}

// InitializeCharge starts a hosted checkout session
func (c *PaystackClient) InitializeCharge(ctx context.Context, req InitializeChargeRequest) (*InitializeChargeResponse, error) {
	payload := map[string]interface{}{
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
		"email":     req.Email,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var out InitializeChargeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Charge initialized",
		zap.String("reference", req.Reference),
		zap.Int64("amount", req.Amount))
	return &out, nil
}

// VerifyCharge queries the gateway for a charge's status
func (c *PaystackClient) VerifyCharge(ctx context.Context, reference string) (*ChargeStatus, error) {
	var out ChargeStatus
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransferRecipient registers a payout destination and returns the
// recipient code used for transfers.
func (c *PaystackClient) CreateTransferRecipient(ctx context.Context, name, bankCode, accountNumber string) (string, error) {
	payload := map[string]string{
		"type":           "nuban",
		"name":           name,
		"bank_code":      bankCode,
		"account_number": accountNumber,
	}

	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", payload, &out); err != nil {
		return "", err
	}
	return out.RecipientCode, nil
}

// ExecuteTransfer initiates a transfer to a recipient. The idempotency key is
// sent as the transfer reference so the gateway deduplicates retried calls.
func (c *PaystackClient) ExecuteTransfer(ctx context.Context, recipientCode string, amount int64, idempotencyKey, reason string) (string, error) {
	payload := map[string]interface{}{
		"source":    "balance",
		"recipient": recipientCode,
		"amount":    amount,
		"reference": idempotencyKey,
		"reason":    reason,
	}

	var out struct {
		TransferCode string `json:"transfer_code"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfer", payload, &out); err != nil {
		return "", err
	}

	c.logger.Info("Transfer initiated",
		zap.String("transfer_code", out.TransferCode),
		zap.String("reference", idempotencyKey))
	return out.TransferCode, nil
}

// VerifyTransfer queries a transfer by its reference (the idempotency key)
func (c *PaystackClient) VerifyTransfer(ctx context.Context, idempotencyKey string) (*TransferStatus, error) {
	var out TransferStatus
	if err := c.do(ctx, http.MethodGet, "/transfer/verify/"+idempotencyKey, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refund reverses a charge back to the client
func (c *PaystackClient) Refund(ctx context.Context, chargeReference string, amount int64) error {
	payload := map[string]interface{}{
		"transaction": chargeReference,
		"amount":      amount,
	}
	return c.do(ctx, http.MethodPost, "/refund", payload, nil)
}
