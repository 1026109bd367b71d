package menu

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Item is a catalog entry of one restaurant. StockCount is nil for items
// whose inventory is not tracked.
type Item struct {
	ID            string
	RestaurantID  string
	Name          string
	Category      string
	Price         decimal.Decimal
	IsAvailable   bool
	StockCount    *int
	LowStockAlert *int
}

// TracksStock reports whether the item has an inventory counter.
func (i Item) TracksStock() bool {
	return i.StockCount != nil
}

// ItemNotFoundError indicates a referenced menu item does not exist or
// belongs to another restaurant.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("menu item %s not found", e.ItemID)
}

// Repository defines read operations for the menu catalog.
type Repository interface {
	// GetByIDs returns the items of restaurantID matching any of ids. Items of
	// other restaurants are never returned.
	GetByIDs(ctx context.Context, restaurantID string, ids []string) ([]Item, error)
}
