package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kmuchiri/dukachat/internal/domain/catalog"
)

const (
	listItemsSQL = `SELECT name, price, quantity, unit, variations
		FROM catalog_items ORDER BY name`

	markCommittedSQL = `INSERT INTO committed_orders (order_id)
		VALUES ($1) ON CONFLICT (order_id) DO NOTHING`

	decrementStockSQL = `UPDATE catalog_items
		SET quantity = quantity - $2, updated_at = now()
		WHERE name = $1 AND quantity >= $2`

	upsertItemSQL = `INSERT INTO catalog_items (name, price, quantity, unit, variations)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			unit = EXCLUDED.unit,
			variations = EXCLUDED.variations,
			updated_at = now()`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns every catalog item ordered by name.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing catalog items: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// Commit decrements stock for a completed sale inside one transaction. The
// committed_orders marker row makes replays of the same order id fail with
// catalog.ErrAlreadyCommitted before any stock is touched, and the
// conditional decrement keeps quantities from going negative under
// concurrent sales.
func (r *CatalogRepository) Commit(ctx context.Context, orderID string, items []catalog.SoldItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, markCommittedSQL, orderID)
	if err != nil {
		return fmt.Errorf("marking order %q committed: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrAlreadyCommitted
	}

	for _, it := range items {
		tag, err := tx.Exec(ctx, decrementStockSQL, it.Name, it.Quantity)
		if err != nil {
			return fmt.Errorf("decrementing stock for %q: %w", it.Name, err)
		}
		if tag.RowsAffected() == 0 {
			return &catalog.InsufficientStockError{Name: it.Name}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", orderID, err)
	}
	return nil
}

// Upsert inserts or replaces a catalog item. Used by the ingest tool.
func (r *CatalogRepository) Upsert(ctx context.Context, it catalog.Item) error {
	_, err := r.pool.Exec(ctx, upsertItemSQL, it.Name, it.Price, it.Quantity, it.Unit, it.Variations)
	if err != nil {
		return fmt.Errorf("upserting catalog item %q: %w", it.Name, err)
	}
	return nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		it       catalog.Item
		price    decimal.Decimal
		quantity decimal.Decimal
	)
	err := row.Scan(&it.Name, &price, &quantity, &it.Unit, &it.Variations)
	it.Price = price
	it.Quantity = quantity
	return it, err
}
