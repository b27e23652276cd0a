package conversation

import (
	"fmt"
	"strings"

	"github.com/kmuchiri/dukachat/internal/domain/catalog"
	"github.com/kmuchiri/dukachat/internal/domain/delivery"
	"github.com/kmuchiri/dukachat/internal/domain/session"
)

// Button labels. Choice events carry these values back verbatim.
const (
	ChoicePickup   = "pickup"
	ChoiceDelivery = "delivery"
	ChoiceConfirm  = "confirm"
	ChoiceRetry    = "retry"
	ChoiceCancel   = "cancel"
)

const welcomeMessage = `Welcome to DukaChat! Order at your convenience and we deliver or have it ready for pickup.

To order, just list the items with quantities, for example:
  2 loaves of bread and 1kg sugar

To see what's in stock, ask "what items do you have?"`

const retryInstruction = "Sorry, I didn't understand that. Let's start over: " +
	"list the items you'd like to order, or type /start."

const internalErrorMessage = "Sorry, something went wrong on our side. " +
	"Your order was not charged. Please start over by listing your items again."

const cancelledMessage = "Order cancelled. Send a new list of items whenever you're ready."

const askAddressMessage = "Please send your delivery address (estate, road, or landmark)."

const paymentPendingMessage = "Payment request sent. Check your phone and enter your PIN to complete the order."

const paymentStillPendingMessage = "Your payment is still being confirmed. " +
	"We'll let you know the moment it goes through, or you can cancel."

func formatCatalogList(items []catalog.Item) string {
	var b strings.Builder
	b.WriteString("Here's what we have in stock:\n")
	for _, it := range items {
		if it.Quantity.IsPositive() {
			fmt.Fprintf(&b, "• %s — KES %s per %s (%s left)\n",
				it.Name, it.Price.StringFixed(2), it.Unit, it.Quantity.String())
		}
	}
	b.WriteString("\nList the items with quantities to order.")
	return b.String()
}

func formatMatchOutcome(res *catalog.MatchResult) string {
	var b strings.Builder

	if len(res.Available) > 0 {
		b.WriteString("Here's what I found:\n")
		for _, it := range res.Available {
			fmt.Fprintf(&b, "• %s %s x KES %s = KES %s\n",
				it.Quantity.String(), it.Name, it.UnitPrice.StringFixed(2), it.LineTotal.StringFixed(2))
		}
	}

	for _, it := range res.Unavailable {
		if it.NotFound {
			fmt.Fprintf(&b, "• %s — not available, sorry\n", it.Name)
		} else {
			fmt.Fprintf(&b, "• %s — only %s %s left (you asked for %s)\n",
				it.Name, it.Available.String(), it.Unit, it.Requested.String())
		}
	}

	if len(res.Alternatives) > 0 {
		b.WriteString("\nYou might also like:\n")
		for name, alts := range res.Alternatives {
			fmt.Fprintf(&b, "• instead of %s: %s\n", name, strings.Join(alts, ", "))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatOrderSummary(s *session.Session) string {
	var b strings.Builder
	b.WriteString("Your order:\n")
	for _, it := range s.Items {
		fmt.Fprintf(&b, "• %s %s — KES %s\n", it.Quantity.String(), it.Name, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: KES %s\n", s.Subtotal.StringFixed(2))
	if s.Quote != nil && s.Quote.Mode == delivery.ModeDelivery {
		fmt.Fprintf(&b, "Delivery to %s: KES %s\n", s.Quote.Address, s.Quote.Fee.StringFixed(2))
	} else {
		b.WriteString("Pickup: KES 0.00\n")
	}
	fmt.Fprintf(&b, "Total: KES %s\n\n", s.Total.StringFixed(2))
	b.WriteString("Confirm to pay via M-Pesa, or send your M-Pesa phone number first.")
	return b.String()
}

func formatReceipt(s *session.Session, receiptNumber string) string {
	var b strings.Builder
	b.WriteString("✅ Payment received, your order is confirmed!\n\n")
	fmt.Fprintf(&b, "Receipt: %s\n", receiptNumber)
	for _, it := range s.Items {
		fmt.Fprintf(&b, "• %s %s — KES %s\n", it.Quantity.String(), it.Name, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "Subtotal: KES %s\n", s.Subtotal.StringFixed(2))
	if s.Quote != nil {
		fmt.Fprintf(&b, "Delivery fee: KES %s\n", s.Quote.Fee.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total paid: KES %s\n\n", s.Total.StringFixed(2))
	if s.Quote != nil && s.Quote.Mode == delivery.ModeDelivery {
		fmt.Fprintf(&b, "We'll deliver to: %s\n", s.Quote.Address)
	} else {
		b.WriteString("Your order will be ready for pickup.\n")
	}
	b.WriteString("Thank you for shopping with us!")
	return b.String()
}

func formatPaymentFailure(message string, retryable bool) string {
	if message == "" {
		message = "the payment could not be processed"
	}
	if retryable {
		return fmt.Sprintf("⚠️ Payment failed: %s.\nYou can retry the payment or cancel the order.", message)
	}
	return fmt.Sprintf("⚠️ Payment failed: %s.\nYou can confirm to try again or cancel the order.", message)
}
