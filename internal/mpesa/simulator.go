package mpesa

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

// Simulator is the payment gateway used without live credentials: it
// synthesizes an immediately-completed attempt with deterministic synthetic
// identifiers derived from the order id, preserving the exact attempt
// contract of the real path.
type Simulator struct {
	store        payment.Store
	defaultPhone string
	now          func() time.Time
}

var _ payment.Gateway = (*Simulator)(nil)

// NewSimulator creates a Simulator persisting attempts to the given store.
func NewSimulator(store payment.Store, defaultPhone string) *Simulator {
	return &Simulator{store: store, defaultPhone: defaultPhone, now: time.Now}
}

func (s *Simulator) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Attempt, error) {
	phone := req.Phone
	if phone == "" {
		phone = s.defaultPhone
	}
	phone = NormalizePhone(phone)

	now := s.now()
	attempt := &payment.Attempt{
		OrderID:           req.OrderID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Phone:             phone,
		CheckoutRequestID: "sim-" + req.OrderID + "-chk",
		MerchantRequestID: "sim-" + req.OrderID + "-req",
		Status:            payment.StatusCompleted,
		ReceiptNumber:     "sim-" + req.OrderID + "-rcpt",
		PayerPhone:        phone,
		PaidAmount:        req.Amount,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Save(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "save simulated attempt")
	}

	zctx.From(ctx).Info("Simulated payment completed",
		zap.String("order_id", req.OrderID),
		zap.String("checkout_request_id", attempt.CheckoutRequestID))
	return attempt, nil
}
