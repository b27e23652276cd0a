// Package handler exposes the conversation engine and payment gateway
// integration over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/conversation"
	"github.com/kmuchiri/dukachat/internal/domain/payment"
)

// Notifier pushes replies to a user out of band, for results that arrive on
// the gateway callback rather than in response to a user event. A nil
// Notifier drops such replies; chat clients then learn the outcome from the
// payment status endpoint.
type Notifier interface {
	Notify(ctx context.Context, userID string, replies []conversation.Reply) error
}

// Handler routes chat events, gateway callbacks, and payment status lookups
// to the conversation engine.
type Handler struct {
	engine   *conversation.Engine
	attempts payment.Store
	notifier Notifier
}

// NewHandler constructs a Handler. notifier may be nil.
func NewHandler(engine *conversation.Engine, attempts payment.Store, notifier Notifier) *Handler {
	return &Handler{
		engine:   engine,
		attempts: attempts,
		notifier: notifier,
	}
}

// Register attaches all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Chat)
	mux.HandleFunc("POST /api/payments/callback", h.PaymentCallback)
	mux.HandleFunc("GET /api/payments/{checkoutRequestID}", h.PaymentStatus)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(e.Bytes()) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	writeJSON(w, status, &e)
}

func logRequestError(ctx context.Context, msg string, err error) {
	zctx.From(ctx).Warn(msg, zap.Error(err))
}
