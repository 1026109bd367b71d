package order

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

// Event types written to the outbox.
const (
	EventOrderCreated     = "order.created"
	EventStatusChanged    = "order.status_changed"
	EventCancelled        = "order.cancelled"
	EventRefunded         = "order.refunded"
	EventPaymentSucceeded = "order.payment_succeeded"
	EventLowStock         = "menu.low_stock"
)

// EventTypes lists every event type the service emits.
func EventTypes() []string {
	return []string{
		EventOrderCreated,
		EventStatusChanged,
		EventCancelled,
		EventRefunded,
		EventPaymentSucceeded,
		EventLowStock,
	}
}

// Event is a fact produced by an order state change.
type Event interface {
	EventType() string
	// AggregateID is the id of the entity the event is about.
	AggregateID() string
}

// OrderCreated is emitted once per accepted order.
type OrderCreated struct {
	Order      Order  `json:"order"`
	Restaurant string `json:"restaurant"`
	// PrintTicket is set when the kitchen ticket is due now.
	PrintTicket bool `json:"printTicket"`
}

func (e OrderCreated) EventType() string   { return EventOrderCreated }
func (e OrderCreated) AggregateID() string { return e.Order.ID }

// StatusChanged is emitted for every forward transition.
type StatusChanged struct {
	Order       Order  `json:"order"`
	Restaurant  string `json:"restaurant"`
	From        Status `json:"from"`
	PrintTicket bool   `json:"printTicket"`
}

func (e StatusChanged) EventType() string   { return EventStatusChanged }
func (e StatusChanged) AggregateID() string { return e.Order.ID }

// Cancelled is emitted when an order is cancelled.
type Cancelled struct {
	Order     Order  `json:"order"`
	From      Status `json:"from"`
	Restocked bool   `json:"restocked"`
}

func (e Cancelled) EventType() string   { return EventCancelled }
func (e Cancelled) AggregateID() string { return e.Order.ID }

// Refunded is emitted for full and partial refunds.
type Refunded struct {
	Order     Order           `json:"order"`
	From      Status          `json:"from"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Partial   bool            `json:"partial"`
	Restocked bool            `json:"restocked"`
}

func (e Refunded) EventType() string   { return EventRefunded }
func (e Refunded) AggregateID() string { return e.Order.ID }

// PaymentSucceeded is emitted when a payment is first recorded.
type PaymentSucceeded struct {
	Order     Order  `json:"order"`
	Reference string `json:"reference"`
}

func (e PaymentSucceeded) EventType() string   { return EventPaymentSucceeded }
func (e PaymentSucceeded) AggregateID() string { return e.Order.ID }

// LowStockReached is emitted when an order takes an item to its alert level.
type LowStockReached struct {
	RestaurantID string         `json:"restaurantId"`
	OrderID      string         `json:"orderId"`
	Item         stock.LowStock `json:"item"`
}

func (e LowStockReached) EventType() string   { return EventLowStock }
func (e LowStockReached) AggregateID() string { return e.Item.MenuItemID }

// DecodeEvent restores an event from its type and JSON payload.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	var ev Event
	switch eventType {
	case EventOrderCreated:
		ev = new(OrderCreated)
	case EventStatusChanged:
		ev = new(StatusChanged)
	case EventCancelled:
		ev = new(Cancelled)
	case EventRefunded:
		ev = new(Refunded)
	case EventPaymentSucceeded:
		ev = new(PaymentSucceeded)
	case EventLowStock:
		ev = new(LowStockReached)
	default:
		return nil, errors.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s", eventType)
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *OrderCreated:
		return *e
	case *StatusChanged:
		return *e
	case *Cancelled:
		return *e
	case *Refunded:
		return *e
	case *PaymentSucceeded:
		return *e
	case *LowStockReached:
		return *e
	}
	return ev
}
