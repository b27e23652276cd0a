package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/domain/payment"
	"github.com/kmuchiri/dukachat/internal/mpesa"
)

const maxCallbackBody = 256 << 10

// PaymentCallback receives the asynchronous gateway confirmation. The
// gateway is always acknowledged with a 200 regardless of what happens here:
// a non-200 only makes it redeliver a payload we already know we cannot
// process.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())
	ack := func() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(mpesa.AckBody()) //nolint:errcheck
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		lg.Warn("Reading callback body failed", zap.Error(err))
		ack()
		return
	}

	res, err := mpesa.ParseCallback(body)
	if err != nil {
		lg.Warn("Malformed gateway callback", zap.Error(err))
		ack()
		return
	}

	userID, replies, err := h.engine.HandlePaymentResult(r.Context(), res)
	if err != nil {
		lg.Error("Applying payment result failed",
			zap.String("checkout_request_id", res.CheckoutRequestID),
			zap.Error(err))
		ack()
		return
	}

	if h.notifier != nil && userID != "" && len(replies) > 0 {
		if err := h.notifier.Notify(r.Context(), userID, replies); err != nil {
			lg.Error("Delivering payment replies failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	ack()
}

// PaymentStatus returns the current state of a payment attempt by its
// checkout correlation id. Chat clients poll this while an attempt is
// pending.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("checkoutRequestID")

	attempt, err := h.attempts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			writeError(w, http.StatusNotFound, "payment attempt not found")
			return
		}
		logRequestError(r.Context(), "Payment status lookup failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("checkout_request_id", func(e *jx.Encoder) { e.Str(attempt.CheckoutRequestID) })
		e.Field("order_id", func(e *jx.Encoder) { e.Str(attempt.OrderID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(attempt.Status)) })
		e.Field("amount", func(e *jx.Encoder) { e.Str(attempt.Amount.StringFixed(2)) })
		e.Field("retryable", func(e *jx.Encoder) { e.Bool(attempt.Retryable) })
		if attempt.ErrorMessage != "" {
			e.Field("error_message", func(e *jx.Encoder) { e.Str(attempt.ErrorMessage) })
		}
		if attempt.ReceiptNumber != "" {
			e.Field("receipt_number", func(e *jx.Encoder) { e.Str(attempt.ReceiptNumber) })
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
