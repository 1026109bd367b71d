// Package pricing turns order lines into monetary amounts. Every function in
// this package is pure: the same input always yields the same Quote.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/menu"
)

// DefaultTaxRate is applied when a restaurant does not configure its own.
var DefaultTaxRate = decimal.RequireFromString("0.20")

// Config holds the restaurant-level inputs of the calculation.
type Config struct {
	TaxRate     decimal.Decimal
	DeliveryFee decimal.Decimal
	// FreeDeliveryMinimum waives the delivery fee when the subtotal reaches
	// it. Nil disables the waiver.
	FreeDeliveryMinimum *decimal.Decimal
}

// Line is one priced menu item with the requested quantity.
type Line struct {
	Item     menu.Item
	Quantity int
}

// Total returns unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.Item.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Quote is the pre-discount breakdown of an order.
type Quote struct {
	Subtotal         decimal.Decimal
	TaxAmount        decimal.Decimal
	DeliveryFee      decimal.Decimal
	PreDiscountTotal decimal.Decimal
}

// MenuItemUnavailableError indicates an item is not currently orderable.
type MenuItemUnavailableError struct {
	MenuItemID string
	Name       string
}

func (e *MenuItemUnavailableError) Error() string {
	return fmt.Sprintf("menu item %s (%s) is not available", e.MenuItemID, e.Name)
}

// InvalidQuantityError indicates a line with a non-positive quantity.
type InvalidQuantityError struct {
	MenuItemID string
	Quantity   int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d for menu item %s must be greater than 0", e.Quantity, e.MenuItemID)
}

// Calculate prices lines for an order. delivery selects whether the delivery
// fee rules apply. Amounts are exact; rounding is left to presentation.
func Calculate(lines []Line, delivery bool, cfg Config) (Quote, error) {
	subtotal := decimal.Zero
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Quote{}, &InvalidQuantityError{MenuItemID: l.Item.ID, Quantity: l.Quantity}
		}
		if !l.Item.IsAvailable {
			return Quote{}, &MenuItemUnavailableError{MenuItemID: l.Item.ID, Name: l.Item.Name}
		}
		subtotal = subtotal.Add(l.Total())
	}

	tax := subtotal.Mul(cfg.TaxRate)

	fee := decimal.Zero
	if delivery {
		fee = cfg.DeliveryFee
		if cfg.FreeDeliveryMinimum != nil && subtotal.GreaterThanOrEqual(*cfg.FreeDeliveryMinimum) {
			fee = decimal.Zero
		}
	}

	return Quote{
		Subtotal:         subtotal,
		TaxAmount:        tax,
		DeliveryFee:      fee,
		PreDiscountTotal: subtotal.Add(tax).Add(fee),
	}, nil
}
