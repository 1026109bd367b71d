// Package notify tells restaurants, customers and kitchens about orders.
//
// Everything here runs behind the outbox: a failure is retried by the outbox
// worker and never affects the order that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/domain/stock"
)

// Notifier informs the restaurant about order activity.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, o order.Order) error
	NotifyStatusChanged(ctx context.Context, o order.Order, from order.Status) error
	NotifyLowStock(ctx context.Context, restaurantID string, item stock.LowStock) error
}

// Email is a plain text message.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	// Preformatted asks the sender to keep whitespace, as for receipts.
	Preformatted bool `json:"preformatted,omitempty"`
}

// Mailer sends emails.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// Publisher puts a message on the notifications exchange.
type Publisher interface {
	PublishNotification(ctx context.Context, msg any) error
}

// Message types published by Broadcaster.
const (
	TypeOrderCreated  = "order_created"
	TypeStatusChanged = "order_status_changed"
	TypeLowStock      = "low_stock"
	TypeEmail         = "email"
)

// Message is the envelope published to the notifications exchange. Email
// senders and restaurant dashboards subscribe to it and pick the types they
// handle.
type Message struct {
	Type         string           `json:"type"`
	RestaurantID string           `json:"restaurantId,omitempty"`
	OrderID      string           `json:"orderId,omitempty"`
	OrderNumber  string           `json:"orderNumber,omitempty"`
	Status       order.Status     `json:"status,omitempty"`
	FromStatus   order.Status     `json:"fromStatus,omitempty"`
	Total        *decimal.Decimal `json:"total,omitempty"`
	Item         *stock.LowStock  `json:"item,omitempty"`
	Email        *Email           `json:"email,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Broadcaster implements Notifier and Mailer over a message broker.
type Broadcaster struct {
	pub Publisher
	now func() time.Time
}

var (
	_ Notifier = (*Broadcaster)(nil)
	_ Mailer   = (*Broadcaster)(nil)
)

// NewBroadcaster creates a Broadcaster publishing through pub.
func NewBroadcaster(pub Publisher) *Broadcaster {
	return &Broadcaster{pub: pub, now: time.Now}
}

func (b *Broadcaster) NotifyOrderCreated(ctx context.Context, o order.Order) error {
	total := o.Total
	return b.publish(ctx, Message{
		Type:         TypeOrderCreated,
		RestaurantID: o.RestaurantID,
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		Status:       o.Status,
		Total:        &total,
	})
}

func (b *Broadcaster) NotifyStatusChanged(ctx context.Context, o order.Order, from order.Status) error {
	return b.publish(ctx, Message{
		Type:         TypeStatusChanged,
		RestaurantID: o.RestaurantID,
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		Status:       o.Status,
		FromStatus:   from,
	})
}

func (b *Broadcaster) NotifyLowStock(ctx context.Context, restaurantID string, item stock.LowStock) error {
	return b.publish(ctx, Message{
		Type:         TypeLowStock,
		RestaurantID: restaurantID,
		Item:         &item,
	})
}

// Send publishes e for the email sender.
func (b *Broadcaster) Send(ctx context.Context, e Email) error {
	if e.To == "" {
		return errors.New("email without recipient")
	}
	return b.publish(ctx, Message{Type: TypeEmail, Email: &e})
}

func (b *Broadcaster) publish(ctx context.Context, msg Message) error {
	msg.Timestamp = b.now().UTC()
	if err := b.pub.PublishNotification(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", msg.Type)
	}
	return nil
}
