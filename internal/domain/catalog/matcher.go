package catalog

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/kmuchiri/dukachat/internal/domain/order"
)

// AvailableItem is a resolved request with enough stock to fulfil it.
type AvailableItem struct {
	Name      string
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	Unit      string
}

// UnavailableItem is a request that could not be fulfilled, either because
// no catalog item resolved (NotFound) or because stock ran short.
type UnavailableItem struct {
	Name      string
	Requested decimal.Decimal
	Available decimal.Decimal
	Unit      string
	NotFound  bool
}

// MatchResult partitions the input requests. Every request lands in exactly
// one of Available or Unavailable; Alternatives is purely advisory.
type MatchResult struct {
	Available    []AvailableItem
	Unavailable  []UnavailableItem
	Alternatives map[string][]string
}

// Matcher resolves line item requests against the catalog.
type Matcher struct {
	repo Repository
}

// NewMatcher creates a Matcher backed by the given catalog repository.
func NewMatcher(repo Repository) *Matcher {
	return &Matcher{repo: repo}
}

// Match resolves each request against the catalog and partitions the input
// into available and unavailable items with suggested alternatives.
func (m *Matcher) Match(ctx context.Context, requests []order.LineItemRequest) (*MatchResult, error) {
	items, err := m.repo.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list catalog")
	}

	result := &MatchResult{Alternatives: make(map[string][]string)}

	for _, req := range requests {
		item := resolve(items, req.Name)
		if item == nil {
			result.Unavailable = append(result.Unavailable, UnavailableItem{
				Name:      req.Name,
				Requested: req.Quantity,
				Available: decimal.Zero,
				Unit:      "unit",
				NotFound:  true,
			})
			if similar := similarNames(items, req.Name); len(similar) > 0 {
				result.Alternatives[req.Name] = similar
			}
			continue
		}

		if item.Quantity.GreaterThanOrEqual(req.Quantity) {
			result.Available = append(result.Available, AvailableItem{
				Name:      item.Name,
				Quantity:  req.Quantity,
				UnitPrice: item.Price,
				LineTotal: item.Price.Mul(req.Quantity),
				Unit:      item.Unit,
			})
		} else {
			result.Unavailable = append(result.Unavailable, UnavailableItem{
				Name:      item.Name,
				Requested: req.Quantity,
				Available: item.Quantity,
				Unit:      item.Unit,
			})
		}

		// Declared variations are always advisory, whatever the stock outcome.
		if len(item.Variations) > 0 {
			result.Alternatives[item.Name] = item.Variations
		}
	}

	return result, nil
}

// Commit records the sale: every available line item's stock is decremented
// exactly once for the given orderID.
func (m *Matcher) Commit(ctx context.Context, orderID string, items []AvailableItem) error {
	sold := make([]SoldItem, len(items))
	for i, it := range items {
		sold[i] = SoldItem{Name: it.Name, Quantity: it.Quantity}
	}
	return m.repo.Commit(ctx, orderID, sold)
}

// resolve finds the catalog item for a requested name: exact normalized
// equality, then substring containment either direction, then containment
// against declared variations. First hit wins.
func resolve(items []Item, name string) *Item {
	normalized := Normalize(name)

	for i := range items {
		if Normalize(items[i].Name) == normalized {
			return &items[i]
		}
	}

	for i := range items {
		n := Normalize(items[i].Name)
		if strings.Contains(n, normalized) || strings.Contains(normalized, n) {
			return &items[i]
		}
	}

	for i := range items {
		for _, v := range items[i].Variations {
			n := Normalize(v)
			if strings.Contains(n, normalized) || strings.Contains(normalized, n) {
				return &items[i]
			}
		}
	}

	return nil
}

// similarNames scans catalog names for containment of the requested name,
// for the advisory alternatives list when nothing resolved.
func similarNames(items []Item, name string) []string {
	normalized := Normalize(name)
	var similar []string
	for i := range items {
		if strings.Contains(Normalize(items[i].Name), normalized) {
			similar = append(similar, items[i].Name)
		}
	}
	return similar
}
