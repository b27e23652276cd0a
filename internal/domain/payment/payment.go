// Package payment defines the payment attempt lifecycle, the canonical
// gateway response form, and the result classification rules.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Gateway result codes the engine reacts to. CodeTimeout is the
// "destination unreachable" STK timeout; together with CodeRetryable these
// form the fixed retryable set.
const (
	CodeSuccess   = 0
	CodeRetryable = 1
	CodeTimeout   = 1037
)

// ErrAttemptNotFound is returned by Store lookups for unknown correlation ids.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// Retryable reports whether a gateway result code permits resubmitting the
// same request without structural changes.
func Retryable(code int) bool {
	return code == CodeRetryable || code == CodeTimeout
}

// Attempt tracks a single payment request through its lifecycle. Attempts
// are never deleted, only superseded by a new attempt on retry.
type Attempt struct {
	OrderID string
	UserID  string
	Amount  decimal.Decimal
	Phone   string

	// CheckoutRequestID is the correlation id joining the asynchronous
	// gateway callback back to this attempt.
	CheckoutRequestID string
	MerchantRequestID string

	Status       Status
	ErrorCode    int
	ErrorMessage string
	Retryable    bool

	// Transaction metadata, populated from a successful callback.
	ReceiptNumber string
	PayerPhone    string
	PaidAmount    decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Response is the canonical form every observed gateway response shape is
// normalized into before classification. Downstream logic operates on this
// form only.
type Response struct {
	// Accepted is true when the gateway acknowledged the request with a
	// success code, at the top level or nested in a data payload.
	Accepted bool
	// ErrorCode is the gateway error code when Accepted is false. Empty for
	// transport-level failures.
	ErrorCode string
	// Description is the human-readable gateway message.
	Description string
	// TransportFailed is true for network errors and malformed bodies.
	TransportFailed bool

	CheckoutRequestID string
	MerchantRequestID string
}

// retryableErrorCodes are the initiate-time gateway error codes that permit
// an immediate retry, mirroring the callback-time retryable set.
var retryableErrorCodes = map[string]bool{
	"1":    true,
	"1037": true,
}

// Classify maps a canonical gateway response to an attempt status and
// retryability, first match wins: accepted responses are pending awaiting
// asynchronous confirmation; explicit error codes are failed with
// retryability per the fixed set; transport failures are failed and always
// retryable.
func Classify(resp Response) (Status, bool) {
	switch {
	case resp.Accepted:
		return StatusPending, false
	case resp.TransportFailed:
		return StatusFailed, true
	default:
		return StatusFailed, retryableErrorCodes[resp.ErrorCode]
	}
}

// CallbackResult is the parsed asynchronous confirmation from the gateway.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string

	// Metadata extracted from the structured item list on success.
	ReceiptNumber string
	PayerPhone    string
	Amount        decimal.Decimal
}

// InitiateRequest is the input to a gateway payment submission.
type InitiateRequest struct {
	OrderID     string
	UserID      string
	Amount      decimal.Decimal
	Description string
	// Phone is optional; the gateway falls back to its configured default.
	Phone string
}

// Gateway submits payment requests to the external mobile-payment provider.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Attempt, error)
}

// Store persists payment attempts keyed by checkout correlation id.
type Store interface {
	Save(ctx context.Context, attempt *Attempt) error
	Get(ctx context.Context, checkoutRequestID string) (*Attempt, error)
}

// ApplyCallback mutates the attempt with the outcome carried by a gateway
// callback: code 0 completes the attempt and captures transaction metadata,
// any other code fails it, propagating retryability only for the same codes
// recognized during synchronous classification.
func (a *Attempt) ApplyCallback(res CallbackResult, now time.Time) {
	a.UpdatedAt = now
	if res.ResultCode == CodeSuccess {
		a.Status = StatusCompleted
		a.ErrorCode = 0
		a.ErrorMessage = ""
		a.Retryable = false
		a.ReceiptNumber = res.ReceiptNumber
		a.PayerPhone = res.PayerPhone
		a.PaidAmount = res.Amount
		return
	}

	a.ErrorCode = res.ResultCode
	a.ErrorMessage = res.ResultDesc
	a.Retryable = Retryable(res.ResultCode)
	if res.ResultCode == CodeTimeout {
		a.Status = StatusTimedOut
		a.ErrorMessage = "payment timed out: could not reach your phone, make sure it is on and has network coverage"
		return
	}
	a.Status = StatusFailed
}
