package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
)

const (
	getMenuItemsByIDsSQL = `SELECT id, restaurant_id, name, category, price, is_available, stock_count, low_stock_alert
		FROM menu_items WHERE restaurant_id = $1 AND id = ANY($2)`

	upsertMenuItemSQL = `INSERT INTO menu_items (id, restaurant_id, name, category, price, is_available, stock_count, low_stock_alert)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			is_available = EXCLUDED.is_available,
			stock_count = EXCLUDED.stock_count,
			low_stock_alert = EXCLUDED.low_stock_alert,
			updated_at = now()`
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	q DBTX
}

// NewMenuRepository returns a MenuRepository that uses q.
func NewMenuRepository(q DBTX) *MenuRepository {
	return &MenuRepository{q: q}
}

// GetByIDs returns the items of restaurantID matching any of ids.
func (r *MenuRepository) GetByIDs(ctx context.Context, restaurantID string, ids []string) ([]menu.Item, error) {
	rows, err := r.q.Query(ctx, getMenuItemsByIDsSQL, restaurantID, ids)
	if err != nil {
		return nil, fmt.Errorf("getting menu items of %q: %w", restaurantID, err)
	}
	return pgx.CollectRows(rows, scanMenuItem)
}

// Upsert creates or replaces a menu item.
func (r *MenuRepository) Upsert(ctx context.Context, it menu.Item) error {
	_, err := r.q.Exec(ctx, upsertMenuItemSQL,
		it.ID, it.RestaurantID, it.Name, it.Category, it.Price, it.IsAvailable, it.StockCount, it.LowStockAlert,
	)
	if err != nil {
		return fmt.Errorf("upserting menu item %q: %w", it.ID, err)
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (menu.Item, error) {
	var it menu.Item
	err := row.Scan(
		&it.ID, &it.RestaurantID, &it.Name, &it.Category, &it.Price,
		&it.IsAvailable, &it.StockCount, &it.LowStockAlert,
	)
	return it, err
}
