//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

// uniqueUser returns a fresh user id per test so sessions never collide.
func uniqueUser(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestChat_Greeting(t *testing.T) {
	resp := postChat(t, uniqueUser("greet"), "hello", "")

	if len(resp.Replies) == 0 {
		t.Fatal("expected a reply")
	}
	if !strings.Contains(resp.Replies[0].Text, "Welcome") {
		t.Errorf("expected welcome message, got %q", resp.Replies[0].Text)
	}
}

func TestChat_CatalogListing(t *testing.T) {
	resp := postChat(t, uniqueUser("list"), "what items do you have", "")

	if len(resp.Replies) == 0 {
		t.Fatal("expected a reply")
	}
	for _, want := range []string{"Bread", "Milk", "Sugar"} {
		if !strings.Contains(resp.Replies[0].Text, want) {
			t.Errorf("listing missing %q: %s", want, resp.Replies[0].Text)
		}
	}
}

// TestChat_FullOrderFlow walks a complete order in payment simulation mode:
// order text, pickup, confirm, synchronous receipt.
func TestChat_FullOrderFlow(t *testing.T) {
	user := uniqueUser("order")

	resp := postChat(t, user, "2 loaves of bread and 1 kg of sugar", "")
	if len(resp.Replies) < 2 {
		t.Fatalf("expected match outcome and delivery prompt, got %d replies", len(resp.Replies))
	}
	if !strings.Contains(resp.Replies[0].Text, "Bread") || !strings.Contains(resp.Replies[0].Text, "Sugar") {
		t.Errorf("match outcome missing items: %s", resp.Replies[0].Text)
	}
	if !containsChoice(resp.Replies[1].Choices, "pickup") {
		t.Errorf("expected pickup choice, got %v", resp.Replies[1].Choices)
	}

	resp = postChat(t, user, "", "pickup")
	if len(resp.Replies) == 0 || !containsChoice(resp.Replies[0].Choices, "confirm") {
		t.Fatalf("expected confirmation prompt, got %+v", resp.Replies)
	}
	if !strings.Contains(resp.Replies[0].Text, "Total") {
		t.Errorf("summary missing total: %s", resp.Replies[0].Text)
	}

	resp = postChat(t, user, "", "confirm")
	if len(resp.Replies) == 0 {
		t.Fatal("expected a receipt reply")
	}
	if !strings.Contains(resp.Replies[0].Text, "Payment received") {
		t.Errorf("expected receipt, got %q", resp.Replies[0].Text)
	}
	if !strings.Contains(resp.Replies[0].Text, "Receipt: sim-") {
		t.Errorf("expected simulated receipt number, got %q", resp.Replies[0].Text)
	}
}

func TestChat_DeliveryQuoteFromZoneTable(t *testing.T) {
	user := uniqueUser("delivery")

	postChat(t, user, "1 bread", "")
	resp := postChat(t, user, "", "delivery")
	if len(resp.Replies) == 0 || !strings.Contains(resp.Replies[0].Text, "address") {
		t.Fatalf("expected address prompt, got %+v", resp.Replies)
	}

	resp = postChat(t, user, "Westlands, Woodvale Grove", "")
	if len(resp.Replies) == 0 {
		t.Fatal("expected order summary")
	}
	if !strings.Contains(resp.Replies[0].Text, "Delivery to") {
		t.Errorf("expected delivery line in summary: %s", resp.Replies[0].Text)
	}
}

func TestChat_UnknownItemSuggestsAlternatives(t *testing.T) {
	resp := postChat(t, uniqueUser("unknown"), "5 cases of champagne", "")

	if len(resp.Replies) < 2 {
		t.Fatalf("expected outcome and re-prompt, got %d replies", len(resp.Replies))
	}
	if !strings.Contains(resp.Replies[0].Text, "not available") {
		t.Errorf("expected not-available line, got %q", resp.Replies[0].Text)
	}
}

func TestChat_CancelResetsSession(t *testing.T) {
	user := uniqueUser("cancel")

	postChat(t, user, "1 bread", "")
	resp := postChat(t, user, "", "cancel")
	if len(resp.Replies) == 0 || !strings.Contains(resp.Replies[0].Text, "cancelled") {
		t.Fatalf("expected cancellation message, got %+v", resp.Replies)
	}

	// A fresh order works after cancel.
	resp = postChat(t, user, "1 bread", "")
	if len(resp.Replies) < 2 || !containsChoice(resp.Replies[1].Choices, "pickup") {
		t.Fatalf("expected a fresh order to proceed, got %+v", resp.Replies)
	}
}

func TestPaymentStatus_UnknownAttempt(t *testing.T) {
	resp := doGet(t, "/api/payments/does-not-exist")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("expected code 404 in body, got %d", body.Code)
	}
}

func TestPaymentCallback_AlwaysAcknowledged(t *testing.T) {
	payload := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"never-issued","ResultCode":0,"ResultDesc":"ok"}}}`)

	resp := doPost(t, "/api/payments/callback", payload)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", resp.StatusCode)
	}

	type ackBody struct {
		ResultCode int    `json:"ResultCode"`
		ResultDesc string `json:"ResultDesc"`
	}
	ack := decodeJSON[ackBody](t, resp)
	if ack.ResultCode != 0 {
		t.Errorf("expected ResultCode 0, got %d", ack.ResultCode)
	}
}

func containsChoice(choices []string, want string) bool {
	for _, c := range choices {
		if c == want {
			return true
		}
	}
	return false
}
