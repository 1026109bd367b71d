package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

const (
	decrementStockSQL = `UPDATE menu_items SET stock_count = stock_count - $2, updated_at = now()
		WHERE id = $1 AND stock_count IS NOT NULL AND stock_count >= $2
		RETURNING id, name, stock_count, low_stock_alert`

	incrementStockSQL = `UPDATE menu_items SET stock_count = stock_count + $2, updated_at = now()
		WHERE id = $1 AND stock_count IS NOT NULL
		RETURNING id, name, stock_count, low_stock_alert`

	getStockLevelSQL = `SELECT id, name, stock_count, low_stock_alert FROM menu_items WHERE id = $1`

	claimStockReleaseSQL = `UPDATE orders SET stock_reserved = FALSE
		WHERE id = $1 AND stock_reserved = TRUE`
)

var _ stock.Store = (*StockRepository)(nil)

// StockRepository implements stock.Store with conditional updates on
// menu_items. Each update locks the item row until the transaction ends.
type StockRepository struct {
	q DBTX
}

// NewStockRepository returns a StockRepository that uses q.
func NewStockRepository(q DBTX) *StockRepository {
	return &StockRepository{q: q}
}

// Decrement subtracts qty from a tracked item holding at least qty units.
func (r *StockRepository) Decrement(ctx context.Context, menuItemID string, qty int) (stock.Level, bool, error) {
	level, err := r.update(ctx, decrementStockSQL, menuItemID, qty)
	if err == nil {
		return level, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return stock.Level{}, false, fmt.Errorf("decrementing stock of %q: %w", menuItemID, err)
	}

	// Either the item does not track stock or it holds too little.
	level, err = r.level(ctx, menuItemID)
	if err != nil {
		return stock.Level{}, false, err
	}
	return level, !level.Tracked, nil
}

// Increment adds qty to a tracked item. Untracked items are left alone.
func (r *StockRepository) Increment(ctx context.Context, menuItemID string, qty int) (stock.Level, error) {
	level, err := r.update(ctx, incrementStockSQL, menuItemID, qty)
	if err == nil {
		return level, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return stock.Level{}, fmt.Errorf("incrementing stock of %q: %w", menuItemID, err)
	}
	return r.level(ctx, menuItemID)
}

// ClaimRelease clears the stock_reserved flag of an order.
func (r *StockRepository) ClaimRelease(ctx context.Context, orderID string) (bool, error) {
	tag, err := r.q.Exec(ctx, claimStockReleaseSQL, orderID)
	if err != nil {
		return false, fmt.Errorf("claiming stock release of order %q: %w", orderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *StockRepository) update(ctx context.Context, sql, menuItemID string, qty int) (stock.Level, error) {
	rows, err := r.q.Query(ctx, sql, menuItemID, qty)
	if err != nil {
		return stock.Level{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanStockLevel)
}

func (r *StockRepository) level(ctx context.Context, menuItemID string) (stock.Level, error) {
	rows, err := r.q.Query(ctx, getStockLevelSQL, menuItemID)
	if err != nil {
		return stock.Level{}, fmt.Errorf("getting stock of %q: %w", menuItemID, err)
	}
	level, err := pgx.CollectExactlyOneRow(rows, scanStockLevel)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stock.Level{}, &menu.ItemNotFoundError{ItemID: menuItemID}
		}
		return stock.Level{}, fmt.Errorf("getting stock of %q: %w", menuItemID, err)
	}
	return level, nil
}

func scanStockLevel(row pgx.CollectableRow) (stock.Level, error) {
	var (
		level stock.Level
		count *int
	)
	err := row.Scan(&level.MenuItemID, &level.Name, &count, &level.LowStockAlert)
	if count != nil {
		level.Tracked = true
		level.Count = *count
	}
	return level, err
}
