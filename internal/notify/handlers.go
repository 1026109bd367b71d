package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// Subscriber names.
const (
	SubscriberRestaurant = "notify.restaurant"
	SubscriberCustomer   = "notify.customer"
	SubscriberKitchen    = "kitchen.print"
)

func decode(msg outbox.Message) (order.Event, error) {
	ev, err := order.DecodeEvent(msg.EventType, msg.Payload)
	if err != nil {
		return nil, outbox.Permanent(err)
	}
	return ev, nil
}

// RestaurantSubscriber forwards order activity and low stock alerts to n.
// Cancellations and full refunds are reported as status changes; a partial
// refund leaves the status alone and is not reported.
func RestaurantSubscriber(n Notifier) outbox.Subscriber {
	return outbox.Subscriber{
		Name: SubscriberRestaurant,
		Events: []string{
			order.EventOrderCreated,
			order.EventStatusChanged,
			order.EventCancelled,
			order.EventRefunded,
			order.EventLowStock,
		},
		Handler: outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
			ev, err := decode(msg)
			if err != nil {
				return err
			}
			switch e := ev.(type) {
			case order.OrderCreated:
				return n.NotifyOrderCreated(ctx, e.Order)
			case order.StatusChanged:
				return n.NotifyStatusChanged(ctx, e.Order, e.From)
			case order.Cancelled:
				return n.NotifyStatusChanged(ctx, e.Order, e.From)
			case order.Refunded:
				if e.Partial {
					return nil
				}
				return n.NotifyStatusChanged(ctx, e.Order, e.From)
			case order.LowStockReached:
				return n.NotifyLowStock(ctx, e.RestaurantID, e.Item)
			}
			return nil
		}),
	}
}

// CustomerSubscriber emails the order confirmation to the customer.
func CustomerSubscriber(m Mailer) outbox.Subscriber {
	return outbox.Subscriber{
		Name:   SubscriberCustomer,
		Events: []string{order.EventOrderCreated},
		Handler: outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
			ev, err := decode(msg)
			if err != nil {
				return err
			}
			e, ok := ev.(order.OrderCreated)
			if !ok {
				return nil
			}
			if e.Order.Customer.Email == "" {
				return outbox.Permanent(errors.New("order has no customer email"))
			}
			return m.Send(ctx, Confirmation(e.Order, e.Restaurant))
		}),
	}
}

// Confirmation builds the order confirmation email for the customer.
func Confirmation(o order.Order, restaurant string) Email {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order with %s.\n\n", o.Customer.Name, restaurant)
	fmt.Fprintf(&b, "Order number: %s\n", o.Number)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "  %dx %s £%s\n", it.Quantity, it.Name, it.LineTotal.StringFixed(2))
	}
	fmt.Fprintf(&b, "\nSubtotal: £%s\n", o.Subtotal.StringFixed(2))
	if o.DeliveryFee.IsPositive() {
		fmt.Fprintf(&b, "Delivery: £%s\n", o.DeliveryFee.StringFixed(2))
	}
	if o.DiscountAmount.IsPositive() {
		fmt.Fprintf(&b, "Discount: -£%s\n", o.DiscountAmount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Tax: £%s\n", o.TaxAmount.StringFixed(2))
	fmt.Fprintf(&b, "Total: £%s\n\n", o.Total.StringFixed(2))
	fmt.Fprintf(&b, "Estimated ready at %s UTC.\n", o.EstimatedReadyAt.UTC().Format("15:04"))

	return Email{
		To:      o.Customer.Email,
		Subject: "Order Confirmation - " + o.Number,
		Text:    b.String(),
	}
}

// KitchenSubscriber prints kitchen tickets for orders that are ready for the
// kitchen, as marked on the event. Times on tickets use loc.
func KitchenSubscriber(p Printer, loc *time.Location) outbox.Subscriber {
	return outbox.Subscriber{
		Name:   SubscriberKitchen,
		Events: []string{order.EventOrderCreated, order.EventStatusChanged},
		Handler: outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
			ev, err := decode(msg)
			if err != nil {
				return err
			}
			var (
				o          order.Order
				restaurant string
			)
			switch e := ev.(type) {
			case order.OrderCreated:
				if !e.PrintTicket {
					return nil
				}
				o, restaurant = e.Order, e.Restaurant
			case order.StatusChanged:
				if !e.PrintTicket {
					return nil
				}
				o, restaurant = e.Order, e.Restaurant
			default:
				return nil
			}
			return p.PrintTicket(ctx, Ticket{
				OrderID: o.ID,
				Title:   "Order " + o.Number,
				Content: Receipt(o, restaurant, loc),
			})
		}),
	}
}
