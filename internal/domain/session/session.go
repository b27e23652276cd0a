// Package session holds the per-user conversation aggregate and its stores.
package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kmuchiri/dukachat/internal/domain/catalog"
	"github.com/kmuchiri/dukachat/internal/domain/delivery"
)

// State is a stop in the conversational order lifecycle.
type State string

const (
	StateStart           State = "START"
	StateBrowsing        State = "BROWSING"
	StateDeliveryOption  State = "DELIVERY_OPTION"
	StateDeliveryAddress State = "DELIVERY_ADDRESS"
	StateConfirmation    State = "CONFIRMATION"
	StatePaymentPending  State = "PAYMENT_PENDING"
	StateCompleted       State = "COMPLETED"
)

// Session is the mutable per-user order aggregate. One instance exists per
// user identity; it is overwritten, never merged, on reset.
type Session struct {
	UserID string          `json:"user_id"`
	State  State           `json:"state"`
	Items  []catalog.AvailableItem `json:"items,omitempty"`

	Quote    *delivery.Quote `json:"quote,omitempty"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Total    decimal.Decimal `json:"total"`

	OrderID string `json:"order_id,omitempty"`
	Phone   string `json:"phone,omitempty"`
	// CheckoutRequestID correlates the in-flight payment attempt.
	CheckoutRequestID string `json:"checkout_request_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New returns a fresh session in the initial state.
func New(userID string) *Session {
	return &Session{
		UserID:   userID,
		State:    StateStart,
		Subtotal: decimal.Zero,
		Total:    decimal.Zero,
	}
}

// Reset overwrites the aggregate with a clean initial state, keeping only
// the user identity.
func (s *Session) Reset() {
	*s = *New(s.UserID)
}

// ComputeTotals fixes subtotal and total from the selected items and the
// delivery quote. Called on entry to CONFIRMATION.
func (s *Session) ComputeTotals() {
	subtotal := decimal.Zero
	for _, it := range s.Items {
		subtotal = subtotal.Add(it.LineTotal)
	}
	s.Subtotal = subtotal
	s.Total = subtotal
	if s.Quote != nil {
		s.Total = subtotal.Add(s.Quote.Fee)
	}
}
