// Package delivery maps free-text addresses to delivery fees via ordered
// zone-keyword lookup.
package delivery

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Mode selects between customer pickup and home delivery.
type Mode string

const (
	ModePickup   Mode = "pickup"
	ModeDelivery Mode = "delivery"
)

// Fallback fees, in order of application. Callers depend on these specific
// values, so each tier is its own named constant.
var (
	// FeeNoZones applies when delivery is requested but no zones are
	// configured at all.
	FeeNoZones = decimal.NewFromInt(100)
	// FeeTableUnavailable applies when the zone table itself failed to load.
	FeeTableUnavailable = decimal.NewFromInt(150)
)

// InvalidRequestError indicates an unusable delivery request: an unknown
// mode, or delivery without an address.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid delivery request: %s", e.Reason)
}

// Zone is one zone-keyword to fee entry. Zones are scanned in declared order.
type Zone struct {
	Keyword string          `json:"keyword"`
	Fee     decimal.Decimal `json:"fee"`
}

// Quote is the outcome of a delivery fee lookup.
type Quote struct {
	Mode Mode
	// Fee is zero for pickup, never negative.
	Fee decimal.Decimal
	// Address is present iff Mode is ModeDelivery.
	Address string
}

// Quoter resolves delivery fees from an ordered zone table.
type Quoter struct {
	zones       []Zone
	tableFailed bool
}

// NewQuoter creates a Quoter over the given ordered zone table. An empty
// table is valid; delivery then always costs FeeNoZones.
func NewQuoter(zones []Zone) *Quoter {
	return &Quoter{zones: zones}
}

// NewQuoterWithoutTable creates a Quoter for the degraded case where the
// zone table could not be loaded. Every delivery quote then costs
// FeeTableUnavailable.
func NewQuoterWithoutTable() *Quoter {
	return &Quoter{tableFailed: true}
}

// Quote computes the delivery quote for the given mode and address.
func (q *Quoter) Quote(mode Mode, address string) (*Quote, error) {
	switch mode {
	case ModePickup:
		return &Quote{Mode: ModePickup, Fee: decimal.Zero}, nil
	case ModeDelivery:
		if strings.TrimSpace(address) == "" {
			return nil, &InvalidRequestError{Reason: "delivery address is required"}
		}
		return &Quote{Mode: ModeDelivery, Fee: q.fee(address), Address: address}, nil
	default:
		return nil, &InvalidRequestError{Reason: fmt.Sprintf("unknown mode %q, choose pickup or delivery", mode)}
	}
}

// fee scans the zone table in declared order and returns the first zone
// whose keyword appears in the address. Fallbacks, in order: the maximum
// configured fee, FeeNoZones when no zones are configured, and
// FeeTableUnavailable when the table failed to load.
func (q *Quoter) fee(address string) decimal.Decimal {
	if q.tableFailed {
		return FeeTableUnavailable
	}
	if len(q.zones) == 0 {
		return FeeNoZones
	}

	addr := strings.ToLower(address)
	for _, z := range q.zones {
		if strings.Contains(addr, strings.ToLower(z.Keyword)) {
			return z.Fee
		}
	}

	max := q.zones[0].Fee
	for _, z := range q.zones[1:] {
		if z.Fee.GreaterThan(max) {
			max = z.Fee
		}
	}
	return max
}
