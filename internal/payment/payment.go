// Package payment applies payment results published by the payment provider.
package payment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/ordergenie-engine/internal/domain/order"
	"github.com/xenking/ordergenie-engine/internal/outbox"
)

// Succeeded is the message sent when an order has been paid.
type Succeeded struct {
	OrderID   string `json:"orderId"`
	Reference string `json:"reference"`
}

// Marker records payments on orders.
type Marker interface {
	MarkPaid(ctx context.Context, orderID, reference string) (*order.Order, error)
}

// Handler turns payment messages into order updates.
type Handler struct {
	orders Marker
}

// NewHandler creates a Handler over orders.
func NewHandler(orders Marker) *Handler {
	return &Handler{orders: orders}
}

// Handle processes one message body. Malformed messages and payments for
// unknown orders are marked permanent so they are not redelivered.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var msg Succeeded
	if err := json.Unmarshal(body, &msg); err != nil {
		return outbox.Permanent(errors.Wrap(err, "decode payment message"))
	}
	msg.OrderID = strings.TrimSpace(msg.OrderID)
	if msg.OrderID == "" {
		return outbox.Permanent(errors.New("payment message without order id"))
	}

	o, err := h.orders.MarkPaid(ctx, msg.OrderID, msg.Reference)
	if err != nil {
		switch order.KindOf(err) {
		case order.KindValidation, order.KindNotFound, order.KindConflict:
			return outbox.Permanent(err)
		}
		return err
	}

	zctx.From(ctx).Info("Payment recorded",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("status", string(o.Status)),
	)
	return nil
}
