package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/customer"
	"github.com/xenking/ordergenie-engine/internal/domain/menu"
	"github.com/xenking/ordergenie-engine/internal/domain/promo"
	"github.com/xenking/ordergenie-engine/internal/domain/restaurant"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

// Type is the fulfilment mode of an order.
type Type string

const (
	TypeDelivery Type = "DELIVERY"
	TypePickup   Type = "PICKUP"
	TypeDineIn   Type = "DINE_IN"
)

// Valid reports whether t is a known order type.
func (t Type) Valid() bool {
	switch t {
	case TypeDelivery, TypePickup, TypeDineIn:
		return true
	}
	return false
}

// PaymentStatus tracks the payment independently of the order status.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "PENDING"
	PaymentProcessing    PaymentStatus = "PROCESSING"
	PaymentCompleted     PaymentStatus = "COMPLETED"
	PaymentFailed        PaymentStatus = "FAILED"
	PaymentCancelled     PaymentStatus = "CANCELLED"
	PaymentRefunded      PaymentStatus = "REFUNDED"
	PaymentPartialRefund PaymentStatus = "PARTIAL_REFUND"
)

// Address is a delivery destination.
type Address struct {
	Street       string `json:"street"`
	City         string `json:"city"`
	Postcode     string `json:"postcode"`
	Country      string `json:"country"`
	Instructions string `json:"instructions,omitempty"`
}

// String renders the address on one line.
func (a Address) String() string {
	return fmt.Sprintf("%s, %s %s, %s", a.Street, a.City, a.Postcode, a.Country)
}

// Customization is one option chosen for a line item, e.g. Spice: Hot.
type Customization struct {
	Group  string `json:"group"`
	Choice string `json:"choice"`
}

// LineItem is a menu item in an order with its price frozen at order time.
type LineItem struct {
	ID             string          `json:"id"`
	MenuItemID     string          `json:"menuItemId"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	Customizations []Customization `json:"customizations,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// Order is the central aggregate of the engine. Line items and amounts never
// change after creation.
type Order struct {
	ID               string           `json:"id"`
	RestaurantID     string           `json:"restaurantId"`
	Number           string           `json:"orderNumber"`
	CustomerID       string           `json:"customerId"`
	Type             Type             `json:"type"`
	Status           Status           `json:"status"`
	PaymentStatus    PaymentStatus    `json:"paymentStatus"`
	Customer         customer.Contact `json:"customer"`
	DeliveryAddress  *Address         `json:"deliveryAddress,omitempty"`
	Items            []LineItem       `json:"items"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	TaxAmount        decimal.Decimal  `json:"taxAmount"`
	DeliveryFee      decimal.Decimal  `json:"deliveryFee"`
	DiscountAmount   decimal.Decimal  `json:"discountAmount"`
	Total            decimal.Decimal  `json:"total"`
	RefundedAmount   decimal.Decimal  `json:"refundedAmount"`
	PromoCodeID      string           `json:"promoCodeId,omitempty"`
	PromoCode        string           `json:"promoCode,omitempty"`
	Notes            string           `json:"notes,omitempty"`
	RefundReason     string           `json:"refundReason,omitempty"`
	PaymentReference string           `json:"paymentReference,omitempty"`
	StockReserved    bool             `json:"stockReserved"`
	PickupTime       *time.Time       `json:"pickupTime,omitempty"`
	EstimatedReadyAt time.Time        `json:"estimatedReadyAt"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

// StockLines returns the quantities the order holds in the stock ledger.
func (o *Order) StockLines() []stock.Line {
	lines := make([]stock.Line, len(o.Items))
	for i, it := range o.Items {
		lines[i] = stock.Line{MenuItemID: it.MenuItemID, Quantity: it.Quantity}
	}
	return lines
}

// Refundable returns the part of the total not refunded yet.
func (o *Order) Refundable() decimal.Decimal {
	return o.Total.Sub(o.RefundedAmount)
}

// transition moves the order to status to, stamping completedAt when the
// order completes.
func (o *Order) transition(to Status, now time.Time) error {
	if !CanTransition(o.Type, o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	if to == StatusCompleted {
		o.CompletedAt = &now
	}
	return nil
}

// FormatNumber renders the human-readable order number for the seq-th order
// of a day, e.g. 20261017001.
func FormatNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%03d", day.Format("20060102"), seq)
}

// Repository defines persistence operations for orders.
type Repository interface {
	// NextNumber atomically advances the per-day counter of a restaurant and
	// returns the new sequence value.
	NextNumber(ctx context.Context, restaurantID string, day time.Time) (int, error)
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate is Get holding a row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// Update persists the mutable fields: statuses, refund and payment
	// details and timestamps.
	Update(ctx context.Context, o *Order) error
}

// EventWriter records events in the transaction of the state change that
// produced them.
type EventWriter interface {
	Append(ctx context.Context, events ...Event) error
}

// Tx exposes the repositories bound to one database transaction.
type Tx interface {
	Restaurants() restaurant.Repository
	Menu() menu.Repository
	Customers() customer.Repository
	Promos() promo.Repository
	Stock() stock.Store
	Orders() Repository
	Events() EventWriter
}

// UnitOfWork runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
