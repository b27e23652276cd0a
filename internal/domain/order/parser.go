// Package order holds the free-text order grammar: utterance parsing into
// line item requests.
package order

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// LineItemRequest is a single (name, quantity) extraction from an utterance.
// It is immutable once produced by Parse.
type LineItemRequest struct {
	// RawText is the utterance fragment the request was extracted from.
	RawText string
	// Name is the cleaned item name.
	Name string
	// Quantity is the requested amount. Always positive; fragments with no
	// parseable quantity degrade to 1.
	Quantity decimal.Decimal
}

// conjunctions separate individual item fragments within one utterance.
var conjunctions = regexp.MustCompile(`\band\b|\bplus\b|,\s*`)

// extractors are tried in order against each fragment; first match wins.
var extractors = []*regexp.Regexp{
	regexp.MustCompile(`(\d+\.?\d*)\s*(?:x|×)\s*([^\d]+)`),                          // "2 x bread"
	regexp.MustCompile(`(\d+\.?\d*)\s*(?:loaves?|slices?)\s*of\s*([^\d]+)`),         // "2 loaves of bread"
	regexp.MustCompile(`(\d+\.?\d*)\s*(?:kg|kilos?|kilograms?)\s*(?:of)?\s*([^\d]+)`), // "1kg sugar"
	regexp.MustCompile(`(\d+\.?\d*)\s*(?:l|liters?|litres?)\s*(?:of)?\s*([^\d]+)`),  // "1l milk"
	regexp.MustCompile(`(\d+\.?\d*)\s*([^\d]+)`),                                    // "2 bread"
	regexp.MustCompile(`([^\d]+)\s*(\d+\.?\d*)`),                                    // "bread 2"
}

// leadingNumber is the last-resort extraction when no pattern matched.
var leadingNumber = regexp.MustCompile(`^(\d+\.?\d*)\s*(.+)`)

var (
	fillerWords = regexp.MustCompile(`\bof\b|\bthe\b|\ba\b|\ban\b`)
	whitespace  = regexp.MustCompile(`\s+`)
)

var one = decimal.NewFromInt(1)

// Parse converts a raw utterance into a sequence of line item requests. It
// never fails: fragments that defeat every extraction pattern degrade to a
// single unit of the fragment text itself, and a malformed numeral only
// affects its own fragment.
func Parse(utterance string) []LineItemRequest {
	msg := strings.ToLower(strings.TrimSpace(utterance))

	var items []LineItemRequest
	for _, part := range conjunctions.Split(msg, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		items = append(items, parseFragment(part))
	}
	return items
}

// parseFragment extracts one request from a single fragment.
func parseFragment(part string) LineItemRequest {
	for i, re := range extractors {
		m := re.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		qtyStr, name := m[1], m[2]
		if i == len(extractors)-1 {
			// "name qty" form: groups are reversed.
			name, qtyStr = m[1], m[2]
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil || !qty.IsPositive() {
			break // malformed numeral, fall through to the degrade rules
		}
		return LineItemRequest{RawText: part, Name: cleanName(name), Quantity: qty}
	}

	// Final generic attempt: leading number followed by anything.
	if m := leadingNumber.FindStringSubmatch(part); m != nil {
		if qty, err := decimal.NewFromString(m[1]); err == nil && qty.IsPositive() {
			return LineItemRequest{RawText: part, Name: cleanName(m[2]), Quantity: qty}
		}
	}

	// Degrade: one unit of the whole fragment.
	return LineItemRequest{RawText: part, Name: cleanName(part), Quantity: one}
}

// cleanName strips stray articles and connectives and collapses whitespace.
func cleanName(name string) string {
	name = fillerWords.ReplaceAllString(name, "")
	name = whitespace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
