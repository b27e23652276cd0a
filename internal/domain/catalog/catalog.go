// Package catalog defines the product catalog model and the matcher that
// resolves parsed order requests against it.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrAlreadyCommitted is returned when a stock commit is replayed for an
// order that has already been committed.
var ErrAlreadyCommitted = errors.New("order already committed")

// InsufficientStockError indicates a commit could not decrement an item
// because the on-hand quantity dropped below the sold quantity.
type InsufficientStockError struct {
	Name string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.Name)
}

// Item is a product catalog record.
type Item struct {
	// Name is the canonical item name and the record identity.
	Name string
	// Price is the per-unit price. Never negative.
	Price decimal.Decimal
	// Quantity is the stock on hand. Never negative.
	Quantity decimal.Decimal
	// Unit is the selling unit ("loaf", "kg", ...). Defaults to "unit".
	Unit string
	// Variations are alternative names customers use, in declared order.
	Variations []string
}

// SoldItem is one line of a completed sale handed to Commit.
type SoldItem struct {
	Name     string
	Quantity decimal.Decimal
}

// Repository provides catalog reads and the post-sale stock decrement.
type Repository interface {
	// List returns every catalog item in declared order.
	List(ctx context.Context) ([]Item, error)

	// Commit durably decrements stock for a completed sale. It is atomic per
	// item (a decrement never races another order's read-modify-write) and
	// idempotent per order: replaying an orderID returns ErrAlreadyCommitted
	// without touching stock.
	Commit(ctx context.Context, orderID string, items []SoldItem) error
}

// unitTokens are removed from names before comparison, in this order, so
// that a requested name and a catalog name compare on their semantic noun
// only. "kg" precedes "g" so the longer token is consumed first.
var unitTokens = []string{"kg", "g", "l", "ml", "of"}

// Normalize lowers, trims, and strips unit tokens from an item name.
// Normalizing an already-normalized name is a no-op.
func Normalize(name string) string {
	n := strings.TrimSpace(strings.ToLower(name))
	for _, unit := range unitTokens {
		n = strings.TrimSpace(strings.ReplaceAll(n, unit, ""))
	}
	return n
}
