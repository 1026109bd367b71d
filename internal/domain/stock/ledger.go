// Package stock reserves and releases menu item inventory for orders.
//
// The Ledger relies on its Store running inside the caller's transaction:
// a failed Reserve leaves earlier decrements of the same call to be undone
// by the rollback, which is what makes a reservation all-or-nothing.
package stock

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"
)

// Line is a quantity of one menu item.
type Line struct {
	MenuItemID string
	Quantity   int
}

// Level is the stock state of an item after a store operation.
type Level struct {
	MenuItemID    string
	Name          string
	Tracked       bool
	Count         int
	LowStockAlert *int
}

// Store performs atomic counter updates on menu item stock.
type Store interface {
	// Decrement subtracts qty when the item tracks stock and holds at least
	// qty units, in a single conditional update. ok is false when stock is
	// insufficient; level then carries the current count. Untracked items
	// report ok with Tracked unset and are not modified.
	Decrement(ctx context.Context, menuItemID string, qty int) (level Level, ok bool, err error)
	// Increment adds qty back to a tracked item.
	Increment(ctx context.Context, menuItemID string, qty int) (Level, error)
	// ClaimRelease clears the order's stock-reserved flag and reports whether
	// this call cleared it.
	ClaimRelease(ctx context.Context, orderID string) (bool, error)
}

// OutOfStockError indicates an item cannot cover the requested quantity.
type OutOfStockError struct {
	MenuItemID string
	Name       string
	Requested  int
	Available  int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s is out of stock: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// LowStock signals that a decrement took an item to or below its alert level.
type LowStock struct {
	MenuItemID string `json:"menuItemId"`
	Name       string `json:"name"`
	Count      int    `json:"stockCount"`
	Threshold  int    `json:"lowStockAlert"`
}

// Ledger reserves and releases stock for whole orders.
type Ledger struct {
	store Store
}

// NewLedger creates a Ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reserve decrements stock for every line. Lines are merged per item and
// processed in item id order so concurrent reservations lock rows in the
// same sequence. It returns the items that crossed their low-stock threshold.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) ([]LowStock, error) {
	var alerts []LowStock
	for _, ln := range merge(lines) {
		level, ok, err := l.store.Decrement(ctx, ln.MenuItemID, ln.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "decrement stock of %s", ln.MenuItemID)
		}
		if !ok {
			return nil, &OutOfStockError{
				MenuItemID: ln.MenuItemID,
				Name:       level.Name,
				Requested:  ln.Quantity,
				Available:  level.Count,
			}
		}
		if crossedThreshold(level, ln.Quantity) {
			alerts = append(alerts, LowStock{
				MenuItemID: level.MenuItemID,
				Name:       level.Name,
				Count:      level.Count,
				Threshold:  *level.LowStockAlert,
			})
		}
	}
	return alerts, nil
}

// Release returns reserved stock of an order. Only the first call for an
// order restocks; later calls report false and change nothing.
func (l *Ledger) Release(ctx context.Context, orderID string, lines []Line) (bool, error) {
	claimed, err := l.store.ClaimRelease(ctx, orderID)
	if err != nil {
		return false, errors.Wrap(err, "claim stock release")
	}
	if !claimed {
		return false, nil
	}
	for _, ln := range merge(lines) {
		if _, err := l.store.Increment(ctx, ln.MenuItemID, ln.Quantity); err != nil {
			return false, errors.Wrapf(err, "increment stock of %s", ln.MenuItemID)
		}
	}
	return true, nil
}

func crossedThreshold(level Level, decremented int) bool {
	if !level.Tracked || level.LowStockAlert == nil {
		return false
	}
	threshold := *level.LowStockAlert
	return level.Count <= threshold && level.Count+decremented > threshold
}

// merge sums quantities per item and sorts by item id.
func merge(lines []Line) []Line {
	sums := make(map[string]int, len(lines))
	for _, ln := range lines {
		sums[ln.MenuItemID] += ln.Quantity
	}
	out := make([]Line, 0, len(sums))
	for id, qty := range sums {
		out = append(out, Line{MenuItemID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MenuItemID < out[j].MenuItemID })
	return out
}
