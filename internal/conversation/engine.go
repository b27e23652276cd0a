// Package conversation drives the per-user order lifecycle: it parses
// utterances, matches them against the catalog, quotes delivery, sequences
// the confirmation dialog, and orchestrates payment.
package conversation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kmuchiri/dukachat/internal/domain/catalog"
	"github.com/kmuchiri/dukachat/internal/domain/delivery"
	"github.com/kmuchiri/dukachat/internal/domain/order"
	"github.com/kmuchiri/dukachat/internal/domain/payment"
	"github.com/kmuchiri/dukachat/internal/domain/session"
)

// Event is one inbound user action: a free-text utterance or a discrete
// button selection. Exactly one field is set.
type Event struct {
	Text   string `json:"text,omitempty"`
	Choice string `json:"choice,omitempty"`
}

// Reply is an outbound prompt, optionally with button choices.
type Reply struct {
	Text    string   `json:"text"`
	Choices []string `json:"choices,omitempty"`
}

// CompletedOrder is the record handed to the Publisher when an order
// reaches COMPLETED.
type CompletedOrder struct {
	OrderID       string                  `json:"order_id"`
	UserID        string                  `json:"user_id"`
	Items         []catalog.AvailableItem `json:"items"`
	Subtotal      decimal.Decimal         `json:"subtotal"`
	DeliveryFee   decimal.Decimal         `json:"delivery_fee"`
	Total         decimal.Decimal         `json:"total"`
	ReceiptNumber string                  `json:"receipt_number"`
	Mode          delivery.Mode           `json:"mode"`
	Address       string                  `json:"address,omitempty"`
	CompletedAt   time.Time               `json:"completed_at"`
}

// Publisher receives completed orders for downstream notification. A nil
// Publisher disables publishing.
type Publisher interface {
	PublishOrderCompleted(ctx context.Context, o CompletedOrder) error
}

// Engine is the per-user order state machine. Events for the same user are
// processed one at a time; sessions for different users are independent.
type Engine struct {
	catalog  catalog.Repository
	matcher  *catalog.Matcher
	quoter   *delivery.Quoter
	gateway  payment.Gateway
	attempts payment.Store
	sessions session.Store
	events   Publisher

	now        func() time.Time
	newOrderID func() string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine with its collaborators. events may be nil.
func NewEngine(
	catalogRepo catalog.Repository,
	quoter *delivery.Quoter,
	gateway payment.Gateway,
	attempts payment.Store,
	sessions session.Store,
	events Publisher,
) *Engine {
	return &Engine{
		catalog:    catalogRepo,
		matcher:    catalog.NewMatcher(catalogRepo),
		quoter:     quoter,
		gateway:    gateway,
		attempts:   attempts,
		sessions:   sessions,
		events:     events,
		now:        time.Now,
		newOrderID: func() string { return uuid.New().String() },
	}
}

// userLock returns the mutex serializing events for one user.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	mu, ok := e.locks[userID]
	if !ok {
		if e.locks == nil {
			e.locks = make(map[string]*sync.Mutex)
		}
		mu = &sync.Mutex{}
		e.locks[userID] = mu
	}
	return mu
}

var (
	greetings = map[string]bool{"hi": true, "hello": true, "hey": true}

	listingPhrases = []string{
		"what do you have", "what items do you have", "what's available",
		"show me your items", "show me your products", "what can i buy",
		"list products", "show inventory", "what's in stock",
	}

	phonePattern = regexp.MustCompile(`^(?:\+?254|0)?7\d{8}$`)
)

func isCancel(ev Event) bool {
	t := strings.ToLower(strings.TrimSpace(ev.Text))
	return ev.Choice == ChoiceCancel || t == "cancel" || t == "/cancel"
}

func isListingRequest(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range listingPhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

func looksLikePhone(text string) bool {
	return phonePattern.MatchString(strings.ReplaceAll(strings.TrimSpace(text), " ", ""))
}

// HandleEvent processes one inbound event to completion for the given user
// and returns the outbound replies. Events for the same user never
// interleave.
func (e *Engine) HandleEvent(ctx context.Context, userID string, ev Event) ([]Reply, error) {
	mu := e.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if sess == nil {
		sess = session.New(userID)
	}

	replies, err := e.dispatch(ctx, sess, ev)
	if err != nil {
		// Unexpected internal failure: trade state loss for availability.
		zctx.From(ctx).Error("Event handling failed, resetting session",
			zap.String("user_id", userID),
			zap.String("state", string(sess.State)),
			zap.Error(err))
		sess.Reset()
		if saveErr := e.sessions.Put(ctx, sess); saveErr != nil {
			return nil, saveErr
		}
		return []Reply{{Text: internalErrorMessage}}, nil
	}

	if err := e.sessions.Put(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "save session")
	}
	return replies, nil
}

// dispatch routes one event through the state machine.
func (e *Engine) dispatch(ctx context.Context, sess *session.Session, ev Event) ([]Reply, error) {
	text := strings.ToLower(strings.TrimSpace(ev.Text))

	// Cancel is valid from every non-terminal state and never touches
	// inventory: no commit has happened before COMPLETED.
	if isCancel(ev) {
		sess.Reset()
		return []Reply{{Text: cancelledMessage}}, nil
	}
	if text == "/start" {
		sess.Reset()
		return []Reply{{Text: welcomeMessage}}, nil
	}

	switch sess.State {
	case session.StateStart, session.StateBrowsing:
		if greetings[text] {
			return []Reply{{Text: welcomeMessage}}, nil
		}
		if isListingRequest(text) {
			items, err := e.catalog.List(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "list catalog")
			}
			return []Reply{{Text: formatCatalogList(items)}}, nil
		}
		if text == "" {
			return []Reply{{Text: welcomeMessage}}, nil
		}
		return e.handleOrderText(ctx, sess, ev.Text)

	case session.StateDeliveryOption:
		return e.handleDeliveryOption(sess, ev)

	case session.StateDeliveryAddress:
		return e.handleDeliveryAddress(sess, ev)

	case session.StateConfirmation:
		return e.handleConfirmation(ctx, sess, ev)

	case session.StatePaymentPending:
		// Declared handler: any event while the attempt is in flight gets a
		// status reminder rather than the safety-net reset.
		return []Reply{{Text: paymentStillPendingMessage, Choices: []string{ChoiceCancel}}}, nil

	default:
		return e.safetyNet(sess), nil
	}
}

// safetyNet handles an event no state declares a handler for: reset to
// START and surface a concrete retry instruction.
func (e *Engine) safetyNet(sess *session.Session) []Reply {
	sess.Reset()
	return []Reply{{Text: retryInstruction}}
}

// handleOrderText parses an utterance and matches it against the catalog.
func (e *Engine) handleOrderText(ctx context.Context, sess *session.Session, text string) ([]Reply, error) {
	requests := order.Parse(text)
	if len(requests) == 0 {
		return []Reply{{Text: retryInstruction}}, nil
	}

	res, err := e.matcher.Match(ctx, requests)
	if err != nil {
		return nil, errors.Wrap(err, "match order")
	}

	outcome := formatMatchOutcome(res)

	if len(res.Available) == 0 {
		// Nothing orderable yet: keep the user selecting items.
		sess.State = session.StateBrowsing
		sess.Items = nil
		return []Reply{
			{Text: outcome},
			{Text: "None of those are orderable right now. Try rephrasing or pick one of the suggestions."},
		}, nil
	}

	sess.Items = res.Available
	sess.State = session.StateDeliveryOption
	return []Reply{
		{Text: outcome},
		{Text: "How would you like to receive your order?", Choices: []string{ChoicePickup, ChoiceDelivery, ChoiceCancel}},
	}, nil
}

func (e *Engine) handleDeliveryOption(sess *session.Session, ev Event) ([]Reply, error) {
	choice := ev.Choice
	if choice == "" {
		choice = strings.ToLower(strings.TrimSpace(ev.Text))
	}

	switch choice {
	case ChoicePickup:
		quote, err := e.quoter.Quote(delivery.ModePickup, "")
		if err != nil {
			return nil, errors.Wrap(err, "quote pickup")
		}
		sess.Quote = quote
		return e.toConfirmation(sess), nil

	case ChoiceDelivery:
		sess.State = session.StateDeliveryAddress
		return []Reply{{Text: askAddressMessage}}, nil

	default:
		return e.safetyNet(sess), nil
	}
}

func (e *Engine) handleDeliveryAddress(sess *session.Session, ev Event) ([]Reply, error) {
	quote, err := e.quoter.Quote(delivery.ModeDelivery, ev.Text)
	if err != nil {
		var invalid *delivery.InvalidRequestError
		if errors.As(err, &invalid) {
			return []Reply{{Text: askAddressMessage}}, nil
		}
		return nil, errors.Wrap(err, "quote delivery")
	}
	sess.Quote = quote
	return e.toConfirmation(sess), nil
}

// toConfirmation fixes the totals and presents the order summary.
func (e *Engine) toConfirmation(sess *session.Session) []Reply {
	sess.ComputeTotals()
	sess.State = session.StateConfirmation
	return []Reply{{
		Text:    formatOrderSummary(sess),
		Choices: []string{ChoiceConfirm, ChoiceCancel},
	}}
}

func (e *Engine) handleConfirmation(ctx context.Context, sess *session.Session, ev Event) ([]Reply, error) {
	text := strings.ToLower(strings.TrimSpace(ev.Text))

	if looksLikePhone(ev.Text) {
		sess.Phone = ev.Text
		return []Reply{{
			Text:    "Got it, we'll send the payment request to " + ev.Text + ". Confirm to pay.",
			Choices: []string{ChoiceConfirm, ChoiceCancel},
		}}, nil
	}

	switch {
	case ev.Choice == ChoiceConfirm, ev.Choice == ChoiceRetry, text == "confirm", text == "yes", text == "pay", text == "retry":
		return e.initiatePayment(ctx, sess)
	default:
		return e.safetyNet(sess), nil
	}
}

// initiatePayment submits the payment and advances the session according to
// the classified outcome.
func (e *Engine) initiatePayment(ctx context.Context, sess *session.Session) ([]Reply, error) {
	if sess.OrderID == "" {
		sess.OrderID = e.newOrderID()
	}

	attempt, err := e.gateway.Initiate(ctx, payment.InitiateRequest{
		OrderID:     sess.OrderID,
		UserID:      sess.UserID,
		Amount:      sess.Total,
		Description: "DukaChat order",
		Phone:       sess.Phone,
	})
	if err != nil {
		// Authorization failed; the next confirm retries from scratch.
		zctx.From(ctx).Warn("Payment initiation failed", zap.Error(err))
		return []Reply{{
			Text:    formatPaymentFailure("we could not reach the payment service", true),
			Choices: []string{ChoiceRetry, ChoiceCancel},
		}}, nil
	}

	switch attempt.Status {
	case payment.StatusCompleted:
		// Simulation path: confirmed synchronously.
		return e.finalize(ctx, sess, attempt)

	case payment.StatusPending:
		sess.CheckoutRequestID = attempt.CheckoutRequestID
		sess.State = session.StatePaymentPending
		return []Reply{{Text: paymentPendingMessage}}, nil

	default:
		choices := []string{ChoiceConfirm, ChoiceCancel}
		if attempt.Retryable {
			choices = []string{ChoiceRetry, ChoiceCancel}
		}
		return []Reply{{
			Text:    formatPaymentFailure(attempt.ErrorMessage, attempt.Retryable),
			Choices: choices,
		}}, nil
	}
}

// HandlePaymentResult applies an asynchronous gateway callback. The
// matching attempt is found purely by correlation id; a miss is logged and
// ignored. It returns the user the replies should be delivered to.
func (e *Engine) HandlePaymentResult(ctx context.Context, res payment.CallbackResult) (string, []Reply, error) {
	lg := zctx.From(ctx)

	attempt, err := e.attempts.Get(ctx, res.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			lg.Warn("Callback correlation miss",
				zap.String("checkout_request_id", res.CheckoutRequestID))
			return "", nil, nil
		}
		return "", nil, errors.Wrap(err, "lookup attempt")
	}

	attempt.ApplyCallback(res, e.now())
	if err := e.attempts.Save(ctx, attempt); err != nil {
		return "", nil, errors.Wrap(err, "save attempt")
	}

	mu := e.userLock(attempt.UserID)
	mu.Lock()
	defer mu.Unlock()

	sess, err := e.sessions.Get(ctx, attempt.UserID)
	if err != nil {
		return attempt.UserID, nil, errors.Wrap(err, "load session")
	}
	if sess == nil || sess.State != session.StatePaymentPending ||
		sess.CheckoutRequestID != res.CheckoutRequestID {
		// Session cancelled or moved on; the result is recorded but ignored.
		lg.Info("Payment result for inactive session",
			zap.String("user_id", attempt.UserID),
			zap.String("checkout_request_id", res.CheckoutRequestID))
		return attempt.UserID, nil, nil
	}

	var replies []Reply
	if attempt.Status == payment.StatusCompleted {
		replies, err = e.finalize(ctx, sess, attempt)
		if err != nil {
			lg.Error("Finalize failed, resetting session",
				zap.String("order_id", sess.OrderID), zap.Error(err))
			sess.Reset()
			if saveErr := e.sessions.Put(ctx, sess); saveErr != nil {
				return attempt.UserID, nil, saveErr
			}
			return attempt.UserID, []Reply{{Text: internalErrorMessage}}, nil
		}
	} else {
		sess.State = session.StateConfirmation
		sess.CheckoutRequestID = ""
		choices := []string{ChoiceConfirm, ChoiceCancel}
		if attempt.Retryable {
			choices = []string{ChoiceRetry, ChoiceCancel}
		}
		replies = []Reply{{
			Text:    formatPaymentFailure(attempt.ErrorMessage, attempt.Retryable),
			Choices: choices,
		}}
	}

	if err := e.sessions.Put(ctx, sess); err != nil {
		return attempt.UserID, replies, errors.Wrap(err, "save session")
	}
	return attempt.UserID, replies, nil
}

// finalize commits stock exactly once for the order, publishes the
// completion event, and resets the session.
func (e *Engine) finalize(ctx context.Context, sess *session.Session, attempt *payment.Attempt) ([]Reply, error) {
	lg := zctx.From(ctx)

	if err := e.matcher.Commit(ctx, sess.OrderID, sess.Items); err != nil {
		if !errors.Is(err, catalog.ErrAlreadyCommitted) {
			return nil, errors.Wrap(err, "commit stock")
		}
		lg.Warn("Stock commit replay rejected", zap.String("order_id", sess.OrderID))
	}

	sess.State = session.StateCompleted

	if e.events != nil {
		completed := CompletedOrder{
			OrderID:       sess.OrderID,
			UserID:        sess.UserID,
			Items:         sess.Items,
			Subtotal:      sess.Subtotal,
			Total:         sess.Total,
			ReceiptNumber: attempt.ReceiptNumber,
			CompletedAt:   e.now(),
		}
		if sess.Quote != nil {
			completed.DeliveryFee = sess.Quote.Fee
			completed.Mode = sess.Quote.Mode
			completed.Address = sess.Quote.Address
		}
		if err := e.events.PublishOrderCompleted(ctx, completed); err != nil {
			// Notification is best-effort; the sale stands.
			lg.Error("Publish order completed failed",
				zap.String("order_id", sess.OrderID), zap.Error(err))
		}
	}

	receipt := formatReceipt(sess, attempt.ReceiptNumber)
	lg.Info("Order completed",
		zap.String("order_id", sess.OrderID),
		zap.String("user_id", sess.UserID),
		zap.String("receipt", attempt.ReceiptNumber))

	sess.Reset()
	return []Reply{{Text: receipt}}, nil
}
