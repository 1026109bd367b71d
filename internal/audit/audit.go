// Package audit records an append-only trail of order and stock activity.
package audit

import (
	"context"
	"time"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// Actions written to the trail.
const (
	ActionOrderCreated       = "ORDER_CREATED"
	ActionOrderStatusUpdated = "ORDER_STATUS_UPDATED"
	ActionOrderCancelled     = "ORDER_CANCELLED"
	ActionOrderRefunded      = "ORDER_REFUNDED"
	ActionPaymentSucceeded   = "PAYMENT_SUCCEEDED"
	ActionLowStock           = "LOW_STOCK"
)

// Entity types referenced by entries.
const (
	EntityOrder    = "order"
	EntityMenuItem = "menu_item"
)

// Entry is one audit record.
type Entry struct {
	ID           string
	RestaurantID string
	Action       string
	EntityType   string
	EntityID     string
	Details      map[string]any
	CreatedAt    time.Time
}

// Logger appends entries to the trail. Entries are never updated or deleted.
type Logger interface {
	Log(ctx context.Context, e Entry) error
}

// SubscriberName is the outbox subscriber that feeds the trail.
const SubscriberName = "audit"

// Subscriber records an entry for every order and stock event.
func Subscriber(l Logger) outbox.Subscriber {
	return outbox.Subscriber{
		Name:   SubscriberName,
		Events: order.EventTypes(),
		Handler: outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
			ev, err := order.DecodeEvent(msg.EventType, msg.Payload)
			if err != nil {
				return outbox.Permanent(err)
			}
			e, ok := EntryFor(ev)
			if !ok {
				return nil
			}
			// The event id makes redelivered messages idempotent.
			e.ID = msg.EventID
			e.CreatedAt = msg.CreatedAt
			return l.Log(ctx, e)
		}),
	}
}

// EntryFor describes ev as an audit entry. It reports false for events that
// are not audited.
func EntryFor(ev order.Event) (Entry, bool) {
	switch e := ev.(type) {
	case order.OrderCreated:
		details := map[string]any{
			"orderNumber": e.Order.Number,
			"type":        e.Order.Type,
			"total":       e.Order.Total.String(),
			"itemCount":   len(e.Order.Items),
		}
		if e.Order.PromoCode != "" {
			details["promoCode"] = e.Order.PromoCode
			details["discount"] = e.Order.DiscountAmount.String()
		}
		return orderEntry(e.Order, ActionOrderCreated, details), true
	case order.StatusChanged:
		return orderEntry(e.Order, ActionOrderStatusUpdated, map[string]any{
			"from": e.From,
			"to":   e.Order.Status,
		}), true
	case order.Cancelled:
		return orderEntry(e.Order, ActionOrderCancelled, map[string]any{
			"from":      e.From,
			"restocked": e.Restocked,
		}), true
	case order.Refunded:
		return orderEntry(e.Order, ActionOrderRefunded, map[string]any{
			"from":      e.From,
			"amount":    e.Amount.String(),
			"reason":    e.Reason,
			"partial":   e.Partial,
			"restocked": e.Restocked,
		}), true
	case order.PaymentSucceeded:
		return orderEntry(e.Order, ActionPaymentSucceeded, map[string]any{
			"reference": e.Reference,
			"amount":    e.Order.Total.String(),
		}), true
	case order.LowStockReached:
		return Entry{
			RestaurantID: e.RestaurantID,
			Action:       ActionLowStock,
			EntityType:   EntityMenuItem,
			EntityID:     e.Item.MenuItemID,
			Details: map[string]any{
				"name":      e.Item.Name,
				"stock":     e.Item.Count,
				"threshold": e.Item.Threshold,
				"orderId":   e.OrderID,
			},
		}, true
	}
	return Entry{}, false
}

func orderEntry(o order.Order, action string, details map[string]any) Entry {
	return Entry{
		RestaurantID: o.RestaurantID,
		Action:       action,
		EntityType:   EntityOrder,
		EntityID:     o.ID,
		Details:      details,
	}
}
